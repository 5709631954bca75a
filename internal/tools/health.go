package tools

import (
	"context"

	"github.com/mcplsp/bridge/internal/dispatcher"
)

// registerHealthTools installs the operational tools that aren't part
// of the spec's core navigation/plan surface but round out what a
// production bridge needs for operators: a pool status view backed by
// the server pool's crash/backoff/idle bookkeeping.
func registerHealthTools(d Deps) {
	d.Dispatcher.Register(&dispatcher.Tool{
		Name:     "health.pool_status",
		Category: dispatcher.CategoryHealth,
		Visible:  true,
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			return d.Pools.StatusAll(), nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:     "health.languages",
		Category: dispatcher.CategoryHealth,
		Visible:  true,
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			return d.Plugins.Languages(), nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:     "health.ast_cache",
		Category: dispatcher.CategoryHealth,
		Visible:  true,
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			if d.ASTCache == nil {
				return map[string]int{"invalidated_files": 0}, nil
			}
			return map[string]int{"invalidated_files": d.ASTCache.Size()}, nil
		},
	})
}
