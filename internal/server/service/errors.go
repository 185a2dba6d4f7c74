package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"webinarfeedback/internal/server/signing"
)

// Sentinel errors for the service layer.
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenAlreadyUsed  = errors.New("token already used")
	ErrTokenExpired      = errors.New("token expired")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedToken    = signing.ErrMalformed
	ErrInvalidSignature  = signing.ErrInvalidSignature
	ErrDownloadExpired   = signing.ErrExpired
	ErrDownloadsDisabled = errors.New("downloads are disabled")
	ErrFileNotFound      = errors.New("deliverable file not found")
)

// RateLimitScope names the limit that rejected a request.
type RateLimitScope string

const (
	ScopeCooldown RateLimitScope = "cooldown"
	ScopeIP       RateLimitScope = "ip"
	ScopeToken    RateLimitScope = "token"
)

// RateLimitError reports a cooldown or quota breach. RetryAfter is zero
// when the wait cannot be derived cheaply.
type RateLimitError struct {
	Scope      RateLimitScope
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (%s), retry in %ds", e.Scope, e.RemainingSeconds())
	}
	return fmt.Sprintf("rate limited (%s)", e.Scope)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RemainingSeconds rounds RetryAfter up to whole seconds.
func (e *RateLimitError) RemainingSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// ValidationError describes a rejected form field.
type ValidationError struct {
	Field string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Cause)
}
