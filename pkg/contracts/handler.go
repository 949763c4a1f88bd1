package contracts

import (
	"context"

	"github.com/julienschmidt/httprouter"
)

type Handler interface {
	RegisterRoutes(*httprouter.Router)
}

// Worker runs until ctx is done. Returning ctx.Err() or nil counts as a
// clean stop.
type Worker interface {
	Run(ctx context.Context) error
}

type WorkerFunc func(ctx context.Context) error

func (f WorkerFunc) Run(ctx context.Context) error { return f(ctx) }
