// Package gateway implements the completion gateway: it walks an ordered
// credential list against the generative-language API and returns the first
// successful reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"
)

var (
	// ErrMissingAPIKey is returned when no credential is configured.
	ErrMissingAPIKey = errors.New("Missing API key") //nolint:staticcheck // surfaced verbatim to clients
	// ErrGeneration is returned when every configured credential failed.
	ErrGeneration = errors.New("Error generating response") //nolint:staticcheck // surfaced verbatim to clients
)

// Generator performs a single completion call with one credential.
type Generator interface {
	// Generate returns the full reply text for prompt.
	Generate(ctx context.Context, apiKey, prompt string) (string, error)

	// GenerateStream yields reply text chunks as they arrive.
	GenerateStream(ctx context.Context, apiKey, prompt string) iter.Seq2[string, error]
}

// Gateway tries each configured credential in order until one succeeds.
// Attempts are strictly sequential.
type Gateway struct {
	gen     Generator
	keys    []string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a gateway over the given credentials. Empty keys are skipped;
// timeout bounds each attempt and zero disables it.
func New(gen Generator, keys []string, timeout time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			filtered = append(filtered, k)
		}
	}
	return &Gateway{
		gen:     gen,
		keys:    filtered,
		timeout: timeout,
		logger:  logger,
	}
}

// Credentials returns the number of usable credentials.
func (g *Gateway) Credentials() int {
	return len(g.keys)
}

// Complete returns the reply for prompt from the first credential that
// succeeds. Every configured credential is attempted before giving up.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	if len(g.keys) == 0 {
		return "", ErrMissingAPIKey
	}

	var errs []error
	for i, key := range g.keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		reply, err := g.generate(ctx, key, prompt)
		if err == nil {
			if i > 0 {
				g.logger.Info("Completion succeeded on fallback credential", "credential", i)
			}
			return reply, nil
		}

		g.logger.Warn("Completion attempt failed", "credential", i, "error", err)
		errs = append(errs, fmt.Errorf("credential %d: %w", i, err))
	}

	return "", fmt.Errorf("%w: %w", ErrGeneration, errors.Join(errs...))
}

func (g *Gateway) generate(ctx context.Context, key, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return g.gen.Generate(ctx, key, prompt)
}

// Stream yields reply chunks. A credential is abandoned in favour of the next
// one only if it fails before producing any output; once a chunk has been
// yielded a failure ends the stream.
func (g *Gateway) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(g.keys) == 0 {
			yield("", ErrMissingAPIKey)
			return
		}

		var errs []error
		for i, key := range g.keys {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}

			started, stopped, err := g.streamOnce(ctx, key, prompt, yield)
			if stopped {
				return
			}
			if err == nil {
				return
			}
			if started {
				g.logger.Warn("Completion stream interrupted", "credential", i, "error", err)
				yield("", fmt.Errorf("%w: %w", ErrGeneration, err))
				return
			}

			g.logger.Warn("Completion stream attempt failed", "credential", i, "error", err)
			errs = append(errs, fmt.Errorf("credential %d: %w", i, err))
		}

		yield("", fmt.Errorf("%w: %w", ErrGeneration, errors.Join(errs...)))
	}
}

// streamOnce relays one credential's stream. stopped reports that the
// consumer asked to stop.
func (g *Gateway) streamOnce(ctx context.Context, key, prompt string, yield func(string, error) bool) (started, stopped bool, err error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	for chunk, chunkErr := range g.gen.GenerateStream(ctx, key, prompt) {
		if chunkErr != nil {
			return started, false, chunkErr
		}
		started = true
		if !yield(chunk, nil) {
			return started, true, nil
		}
	}
	return started, false, nil
}
