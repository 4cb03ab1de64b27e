package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// Session bundles what the retry combinator needs for one backend
// instance. Backends build it once and pass it to Call on every request.
type Session struct {
	Store     *Store
	Refresher Refresher
	// IsAuthFailure detects an expired-credentials failure. Nil means
	// errors.Is(err, vfs.ErrAuthExpired).
	IsAuthFailure func(error) bool
	// Label names the provider type in logs and metrics.
	Label  string
	Logger *slog.Logger
}

func (s *Session) isAuthFailure(err error) bool {
	if s.IsAuthFailure != nil {
		return s.IsAuthFailure(err)
	}

	return errors.Is(err, vfs.ErrAuthExpired)
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}

	return slog.Default()
}

// Call runs attempt with the current access token. If the attempt fails
// with an authorization failure, the token is refreshed once and attempt
// runs exactly once more; that second result is returned as is. Any other
// failure propagates immediately without a retry.
func Call[T any](ctx context.Context, s *Session, attempt func(ctx context.Context, accessToken string) (T, error)) (T, error) {
	var zero T

	tok, err := s.Store.AccessToken()
	if err != nil {
		return zero, err
	}

	res, err := attempt(ctx, tok)
	if err == nil || !s.isAuthFailure(err) {
		return res, err
	}

	s.logger().Info("access token rejected, refreshing",
		slog.String("provider_type", s.Label),
		slog.String("error", err.Error()),
	)

	if refreshErr := s.Refresher.Refresh(ctx, tok); refreshErr != nil {
		metrics.RecordAuthRetry(s.Label, false)
		return zero, refreshErr
	}

	tok, err = s.Store.AccessToken()
	if err != nil {
		metrics.RecordAuthRetry(s.Label, false)
		return zero, err
	}

	res, err = attempt(ctx, tok)
	metrics.RecordAuthRetry(s.Label, err == nil)

	if err != nil && s.isAuthFailure(err) {
		s.logger().Warn("request still unauthorized after refresh",
			slog.String("provider_type", s.Label),
		)
	}

	return res, err
}

// Do is Call for attempts that produce no value.
func Do(ctx context.Context, s *Session, attempt func(ctx context.Context, accessToken string) error) error {
	_, err := Call(ctx, s, func(ctx context.Context, tok string) (struct{}, error) {
		return struct{}{}, attempt(ctx, tok)
	})

	return err
}
