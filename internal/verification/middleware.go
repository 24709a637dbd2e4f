package verification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Handler is one verification stage. A returned error means the stage could
// not run to completion; the middleware logs it and the event is dropped.
type Handler[E event] func(ctx context.Context, ev E, logger zerolog.Logger) error

// wrap composes the three cross-cutting behaviors around a stage handler, in
// this fixed order: allow-list filtering closest to the handler, then
// entry/exit logging with failure capture, then per-event log namespace
// derivation on the outside.
func wrap[E event](base zerolog.Logger, allowed map[string]struct{}, next Handler[E]) func(context.Context, E) {
	h := withAllowedSenderOnly(allowed, next)
	h = withLogs(h)
	return withNamespace(base, h)
}

// withAllowedSenderOnly drops events from senders outside the allow-list
// before any protocol logic runs.
func withAllowedSenderOnly[E event](allowed map[string]struct{}, next Handler[E]) Handler[E] {
	return func(ctx context.Context, ev E, logger zerolog.Logger) error {
		if _, ok := allowed[ev.sender()]; !ok {
			logger.Info().Msg("sender is not in the list of allowed command users, ignoring event")
			return nil
		}
		logger.Debug().Msg("received event from an allowed command user")
		return next(ctx, ev, logger)
	}
}

// withLogs logs stage entry and exit and captures failures. A failure inside
// a stage never propagates and never affects other transactions.
func withLogs[E event](next Handler[E]) Handler[E] {
	return func(ctx context.Context, ev E, logger zerolog.Logger) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Any("panic", r).Msg("done: panic while handling event")
				err = fmt.Errorf("panic while handling event: %v", r)
			}
		}()

		logger.Info().Msg("handling event")
		if err := next(ctx, ev, logger); err != nil {
			logger.Error().Err(err).Msg("done: error while handling event")
			return err
		}
		logger.Info().Msg("done")
		return nil
	}
}

// withNamespace derives the per-event log namespace from the sender and the
// event kind, and seals the handler into a plain callback.
func withNamespace[E event](base zerolog.Logger, next Handler[E]) func(context.Context, E) {
	return func(ctx context.Context, ev E) {
		logger := base.With().
			Str("sender", ev.sender()).
			Str("event", ev.kind()).
			Logger()
		_ = next(ctx, ev, logger)
	}
}
