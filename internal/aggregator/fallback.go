package aggregator

import (
	"context"

	"github.com/rs/zerolog"

	apperrors "optionscope/internal/errors"
	"optionscope/internal/logging"
)

type named interface {
	Name() string
}

// tryEach runs call against each source strictly in slice order and
// short-circuits on the first success, returning the result and the name of
// the source that produced it. Failures are collected per source; a source
// without credentials is skipped without counting against its health stats.
// When every source has failed the collected attempts come back wrapped in
// an ExhaustedError. Context cancellation aborts the chain immediately.
func tryEach[S named, R any](
	ctx context.Context,
	logger zerolog.Logger,
	op, symbol string,
	sources []S,
	call func(context.Context, S) (R, error),
	observe func(provider string, err error),
) (R, string, error) {
	var zero R
	attempts := make([]apperrors.Attempt, 0, len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		result, err := call(ctx, src)
		if err == nil {
			if observe != nil {
				observe(src.Name(), nil)
			}
			return result, src.Name(), nil
		}

		attempts = append(attempts, apperrors.Attempt{Provider: src.Name(), Err: err})
		if apperrors.Is(err, apperrors.ErrNotConfigured) {
			logger.Debug().Str("provider", src.Name()).Msg("Provider not configured, skipping")
			continue
		}
		if observe != nil {
			observe(src.Name(), err)
		}
		logging.LogFallback(logger, op, symbol, src.Name(), err)
	}

	return zero, "", apperrors.NewExhaustedError(op, symbol, attempts)
}
