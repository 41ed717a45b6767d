package httpapi

import (
	"context"

	"github.com/and161185/caseflow/internal/model"
)

type ctxKey string

const actorKey ctxKey = "caseflow.actor"

// WithActor stores the authenticated caller in context.
func WithActor(ctx context.Context, a model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromCtx fetches the authenticated caller from context.
func ActorFromCtx(ctx context.Context) (model.Actor, bool) {
	a, ok := ctx.Value(actorKey).(model.Actor)
	return a, ok
}
