// Package cli implements feedbackctl, the operator tool for a feedback
// deployment. Every command reads the same environment as the server.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"webinarfeedback/internal/server/config"
	"webinarfeedback/internal/server/database"
	"webinarfeedback/internal/server/service"
	"webinarfeedback/internal/server/storage"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Execute runs feedbackctl with os.Args.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "feedbackctl",
		Short:         "Operate a webinar feedback deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to read %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		newMigrateCmd(),
		newExportCmd(),
		newMintLinkCmd(),
		newPruneCmd(),
		newPublishCmd(),
	)
	return root
}

// env is everything a command may need, opened from the environment.
type env struct {
	cfg   *config.Config
	repo  database.Store
	svc   *service.FeedbackService
	close func()
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	repo, closeDB, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	files := storage.NewFileSystemStore(cfg.DeliverablePath, cfg.DeliverableFilename, cfg.DeliverableContentType)
	return &env{
		cfg:   cfg,
		repo:  repo,
		svc:   service.NewFeedbackService(repo, files, cfg),
		close: closeDB,
	}, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", e.cfg.DatabaseDriver)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var out, query string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write submissions as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if out == "" {
				out = service.ExportFilename(time.Now().UTC())
			}

			filter := database.SubmissionFilter{Search: query}
			if out == "-" {
				_, err := e.svc.ExportCSV(cmd.Context(), cmd.OutOrStdout(), filter)
				return err
			}

			var n int
			err = writeFile(out, func(w io.Writer) error {
				var err error
				n, err = e.svc.ExportCSV(cmd.Context(), w, filter)
				return err
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d submissions to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file ("-" for stdout; default feedback_submissions_<date>.csv)`)
	cmd.Flags().StringVar(&query, "q", "", "only export submissions matching this search term")
	return cmd
}

// writeFile creates path and hands it to write. A failed close is reported
// like a failed write, since buffered data may not have reached disk.
func writeFile(path string, write func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	return write(f)
}

func newMintLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint-link <submission-id>",
		Short: "Print a signed download link for a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid submission id %q", args[0])
			}

			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			fmt.Fprintln(cmd.OutOrStdout(), e.svc.DownloadURL(e.svc.MintDownloadToken(id)))
			return nil
		},
	}
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired tokens and rate-limit logs past retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			res, err := storage.NewCleanupService(e.repo, e.cfg.CleanupInterval, e.cfg.Retention).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d tokens, %d submission logs, %d download logs\n",
				res.Tokens, res.SubmissionLogs, res.DownloadLogs)
			return nil
		},
	}
}

func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>",
		Short: "Replace the gated deliverable with file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			files := storage.NewFileSystemStore(cfg.DeliverablePath, cfg.DeliverableFilename, cfg.DeliverableContentType)
			if err := files.EnsureDir(); err != nil {
				return err
			}

			src, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer src.Close()

			n, err := files.Save(src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", n, cfg.DeliverablePath)
			return nil
		},
	}
}
