package tools

import (
	"context"
	"errors"

	"github.com/mcplsp/bridge/internal/dispatcher"
	"github.com/mcplsp/bridge/internal/workspace"
)

func registerWorkspaceTools(d Deps) {
	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "workspace.register",
		Category:       dispatcher.CategoryWorkspace,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"root"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			root := req.Arguments.Get("root").String()
			id := req.Arguments.Get("id").String()

			var hints []string
			for _, h := range req.Arguments.Get("language_hints").Array() {
				hints = append(hints, h.String())
			}

			ws, err := d.Workspaces.Register(req.UserID, id, root, hints)
			if err != nil {
				return nil, err
			}
			return ws, nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "workspace.list",
		Category:       dispatcher.CategoryWorkspace,
		Visible:        true,
		RequiresUserID: true,
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			return d.Workspaces.List(req.UserID), nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "workspace.deregister",
		Category:       dispatcher.CategoryWorkspace,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"id"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			id := req.Arguments.Get("id").String()
			err := d.Workspaces.Deregister(req.UserID, id)
			if errors.Is(err, workspace.ErrNotFound) {
				return nil, err
			}
			if err != nil {
				return nil, err
			}
			return map[string]bool{"deregistered": true}, nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "workspace.activate",
		Category:       dispatcher.CategoryWorkspace,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"id"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			id := req.Arguments.Get("id").String()
			if err := d.Workspaces.Activate(req.UserID, id); err != nil {
				return nil, err
			}
			return map[string]bool{"activated": true}, nil
		},
	})
}
