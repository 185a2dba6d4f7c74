package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"webinarfeedback/internal/server/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSubmissions(t *testing.T, env *testEnv) {
	t.Helper()
	ctx := context.Background()
	base := env.clock.Now()
	for i, name := range []string{"Ada Lovelace", "Grace Hopper", "=HYPERLINK(evil)"} {
		_, err := env.store.CreateSubmission(ctx, &database.Submission{
			FullName:    name,
			CompanyName: "Acme",
			Email:       "person@example.com",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestListSubmissions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedSubmissions(t, env)

	subs, err := env.svc.ListSubmissions(ctx, database.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "=HYPERLINK(evil)", subs[0].FullName)

	subs, err = env.svc.ListSubmissions(ctx, database.SubmissionFilter{Search: "grace"})
	require.NoError(t, err)
	require.Len(t, subs, 1)

	subs, err = env.svc.ListSubmissions(ctx, database.SubmissionFilter{Search: "nobody"})
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedSubmissions(t, env)

	var buf bytes.Buffer
	n, err := env.svc.ExportCSV(ctx, &buf, database.SubmissionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "export ignores the listing limit")

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "'=HYPERLINK(evil)", records[1][1], "formula cells are neutralized")
	assert.Equal(t, "Grace Hopper", records[2][1])
}

func TestExportFilename(t *testing.T) {
	got := ExportFilename(time.Date(2026, 1, 20, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "feedback_submissions_2026-01-20.csv", got)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	seedSubmissions(t, env)
	issue(t, env, "x")

	stats, err := env.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalSubmissions)
	assert.Equal(t, int64(1), stats.ActiveTokens)
}
