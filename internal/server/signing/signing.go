// Package signing mints and verifies self-contained download tokens.
//
// A token is base64("<submissionID>:<issuedAtMillis>:<hex HMAC-SHA256>"),
// where the MAC covers "<submissionID>:<issuedAtMillis>".
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Errors returned by Verify, checked in this order.
var (
	ErrMalformed        = errors.New("malformed download token")
	ErrInvalidSignature = errors.New("invalid download token signature")
	ErrExpired          = errors.New("download token expired")
)

// Claims is the decoded content of a verified token.
type Claims struct {
	SubmissionID string
	IssuedAt     time.Time
	Signature    string
}

// Signer mints and verifies tokens under one secret and lifetime.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner returns a Signer whose tokens expire ttl after issue.
func NewSigner(secret []byte, ttl time.Duration) *Signer {
	return &Signer{secret: secret, ttl: ttl}
}

// Mint returns an opaque token for submissionID issued at now.
func (s *Signer) Mint(submissionID string, now time.Time) string {
	payload := submissionID + ":" + strconv.FormatInt(now.UnixMilli(), 10)
	raw := payload + ":" + s.sign(payload)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Verify checks structure, then signature, then age. Expiry is only
// reported for tokens whose signature is valid.
func (s *Signer) Verify(token string, now time.Time) (*Claims, error) {
	decoded, err := decode(token)
	if err != nil {
		return nil, ErrMalformed
	}

	// The payload contains a colon, so the signature is after the last one.
	i := strings.LastIndex(decoded, ":")
	if i < 0 {
		return nil, ErrMalformed
	}
	payload, signature := decoded[:i], decoded[i+1:]

	submissionID, ts, ok := strings.Cut(payload, ":")
	if !ok || submissionID == "" || ts == "" || signature == "" {
		return nil, ErrMalformed
	}

	if !hmac.Equal([]byte(signature), []byte(s.sign(payload))) {
		return nil, ErrInvalidSignature
	}

	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	issuedAt := time.UnixMilli(ms)
	if now.Sub(issuedAt) > s.ttl {
		return nil, ErrExpired
	}

	return &Claims{
		SubmissionID: submissionID,
		IssuedAt:     issuedAt,
		Signature:    signature,
	}, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// decode accepts standard and URL-safe base64. A '+' that arrived as a space
// through an unescaped query string is restored first.
func decode(token string) (string, error) {
	token = strings.ReplaceAll(strings.TrimSpace(token), " ", "+")
	if b, err := base64.StdEncoding.DecodeString(token); err == nil {
		return string(b), nil
	}
	if b, err := base64.URLEncoding.DecodeString(token); err == nil {
		return string(b), nil
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
