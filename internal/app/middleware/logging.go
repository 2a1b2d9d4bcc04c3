package middleware

import (
	"context"
	"log/slog"
	"time"

	"chatline/internal/app/commands"
	"chatline/internal/domain/shared/errkind"
)

// Logging records every command with its latency. Classified failures are
// logged at info, anything else at error.
func Logging(logger *slog.Logger) CommandMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			start := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			attrs := []any{"command", cmd.Key(), "duration", time.Since(start)}
			if a, ok := cmd.(commands.Actored); ok {
				attrs = append(attrs, "user_id", a.ActorID())
			}
			switch {
			case err == nil:
				logger.Debug("command handled", attrs...)
			case errkind.Of(err) != nil:
				logger.Info("command rejected", append(attrs, "error", err)...)
			default:
				logger.Error("command failed", append(attrs, "error", err)...)
			}
			return res, err
		})
	}
}
