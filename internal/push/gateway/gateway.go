// Package gateway holds the push provider adapters. Each gateway talks to a
// single provider; picking one by platform is the dispatcher's job.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	xerrors "engage-service/internal/pkg/errors"
)

// Gateway sends an already rendered payload to one provider.
type Gateway interface {
	Name() string
	Send(ctx context.Context, token string, body []byte) (*Result, error)
}

// Result carries the raw exchange for the notification audit trail.
type Result struct {
	Request  string
	Response string
}

// GatewayError is the single error kind surfaced by every gateway. Message
// is safe to persist as a notification state reason.
type GatewayError struct {
	Provider string
	Status   int
	Message  string
}

func (e *GatewayError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *GatewayError) Unwrap() error { return xerrors.ErrGateway }

// NewError builds a GatewayError with secrets scrubbed from msg.
func NewError(provider string, status int, msg string, secrets ...string) *GatewayError {
	return &GatewayError{Provider: provider, Status: status, Message: Redact(msg, secrets...)}
}

var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9\-_.~+/=]+`)

// Redact removes bearer credentials and every given secret from msg.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, "[REDACTED]")
		}
	}
	return bearerPattern.ReplaceAllString(msg, "${1}[REDACTED]")
}

// Outcome is what SendAsync delivers once the provider answered.
type Outcome struct {
	Result *Result
	Err    error
}

// SendAsync runs g.Send on its own goroutine. The channel is buffered so the
// goroutine never leaks when the caller stopped waiting.
func SendAsync(ctx context.Context, g Gateway, token string, body []byte) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- Outcome{Err: NewError(g.Name(), 0, fmt.Sprintf("gateway panic: %v", r))}
			}
		}()
		res, err := g.Send(ctx, token, body)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
