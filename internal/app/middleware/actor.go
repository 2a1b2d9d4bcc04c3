package middleware

import (
	"context"
	"strings"

	"chatline/internal/app/commands"
	"chatline/internal/app/queries"
	"chatline/internal/domain/shared/errkind"
)

var errActorRequired = errkind.New(errkind.ErrUnauthenticated, "authentication required")

type actoredQuery interface {
	queries.Query
	ActorID() string
}

// RequireActor rejects commands that carry an empty actor before any handler runs.
func RequireActor() CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if a, ok := cmd.(commands.Actored); ok && strings.TrimSpace(a.ActorID()) == "" {
				return nil, errActorRequired
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

func QueryRequireActor() QueryMiddleware {
	return func(next queries.Bus) queries.Bus {
		return queryFunc(func(ctx context.Context, q queries.Query) (any, error) {
			if a, ok := q.(actoredQuery); ok && strings.TrimSpace(a.ActorID()) == "" {
				return nil, errActorRequired
			}
			return next.Ask(ctx, q)
		})
	}
}
