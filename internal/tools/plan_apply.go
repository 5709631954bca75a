package tools

import (
	"context"
	"fmt"

	"github.com/mcplsp/bridge/internal/dispatcher"
	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/plan"
)

func languageFor(d Deps, path string) string {
	if p, ok := d.Plugins.FindByExtension(path); ok {
		return p.Name()
	}
	return ""
}

// planResponse is the wire shape every *.plan tool returns: an opaque
// handle plus the parts of the plan safe to show a caller before apply.
type planResponse struct {
	PlanID        string         `json:"plan_id"`
	Kind          plan.Kind      `json:"kind"`
	Summary       plan.Summary   `json:"summary"`
	Warnings      []plan.Warning `json:"warnings,omitempty"`
	AffectedFiles []string       `json:"affected_files"`
}

func toPlanResponse(id string, p *plan.Plan) planResponse {
	return planResponse{
		PlanID:        id,
		Kind:          p.Metadata.Kind,
		Summary:       p.Summary,
		Warnings:      p.Warnings,
		AffectedFiles: p.Files(),
	}
}

func registerPlanApplyTools(d Deps) {
	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "rename.plan",
		Category:       dispatcher.CategoryPlanApply,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"workspace_root", "targets"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			root := req.Arguments.Get("workspace_root").String()
			scope := req.Arguments.Get("scope").String()
			strict := req.Arguments.Get("strict").Bool()

			var targets []plan.Target
			for _, tv := range req.Arguments.Get("targets").Array() {
				t := plan.Target{
					Kind:    tv.Get("kind").String(),
					Path:    tv.Get("path").String(),
					Symbol:  tv.Get("symbol").String(),
					NewName: tv.Get("new_name").String(),
				}
				if tv.Get("position.line").Exists() {
					apiLine := int(tv.Get("position.line").Int())
					line, err := apiLineToInternal(apiLine)
					if err != nil {
						return nil, err
					}
					t.Position = &lsptypes.Position{
						Line:      line,
						Character: int(tv.Get("position.character").Int()),
					}
				}
				targets = append(targets, t)
			}
			if len(targets) == 0 {
				return nil, fmt.Errorf("invalid_arguments: targets must not be empty")
			}

			language := languageFor(d, targets[0].Path)
			p, err := d.Engine.Rename(ctx, root, language, plan.RenameArgs{
				Targets: targets, Scope: scope, Strict: strict,
			})
			if err != nil {
				return nil, err
			}
			return toPlanResponse(d.Plans.Put(p), p), nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "move.plan",
		Category:       dispatcher.CategoryPlanApply,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"workspace_root", "source", "destination"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			root := req.Arguments.Get("workspace_root").String()
			source := req.Arguments.Get("source").String()
			destination := req.Arguments.Get("destination").String()

			var consolidate *bool
			if req.Arguments.Get("consolidate").Exists() {
				v := req.Arguments.Get("consolidate").Bool()
				consolidate = &v
			}

			language := languageFor(d, source)
			p, err := d.Engine.Move(ctx, root, language, plan.MoveArgs{
				Source: source, Destination: destination, Consolidate: consolidate,
			})
			if err != nil {
				return nil, err
			}
			return toPlanResponse(d.Plans.Put(p), p), nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "delete.plan",
		Category:       dispatcher.CategoryPlanApply,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"paths"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			var paths []string
			for _, pv := range req.Arguments.Get("paths").Array() {
				paths = append(paths, pv.String())
			}
			if len(paths) == 0 {
				return nil, fmt.Errorf("invalid_arguments: paths must not be empty")
			}
			language := languageFor(d, paths[0])
			p, err := d.Engine.Delete(ctx, language, plan.DeleteArgs{Paths: paths})
			if err != nil {
				return nil, err
			}
			return toPlanResponse(d.Plans.Put(p), p), nil
		},
	})

	registerStructuralPlanTool(d, "extract.plan", "refactor.extract")
	registerStructuralPlanTool(d, "inline.plan", "refactor.inline")
	registerStructuralPlanTool(d, "transform.plan", "refactor.rewrite")

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "reorder.plan",
		Category:       dispatcher.CategoryPlanApply,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"path", "range"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			args, err := structuralArgsFrom(req)
			if err != nil {
				return nil, err
			}
			p, err := d.Engine.Reorder(ctx, languageFor(d, args.URI), args)
			if err != nil {
				return nil, err
			}
			return toPlanResponse(d.Plans.Put(p), p), nil
		},
	})

	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           "plan.apply",
		Category:       dispatcher.CategoryPlanApply,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"plan_id"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			id := req.Arguments.Get("plan_id").String()
			p, ok := d.Plans.Take(id)
			if !ok {
				return nil, fmt.Errorf("not_found: no plan with id %s (already applied or expired)", id)
			}

			opts := plan.DefaultOptions()
			if req.Arguments.Get("validate_checksums").Exists() {
				opts.ValidateChecksums = req.Arguments.Get("validate_checksums").Bool()
			}
			if req.Arguments.Get("rollback_on_error").Exists() {
				opts.RollbackOnError = req.Arguments.Get("rollback_on_error").Bool()
			}
			if cmd := req.Arguments.Get("validation_command").String(); cmd != "" {
				timeout := 30
				if req.Arguments.Get("validation_timeout_seconds").Exists() {
					timeout = int(req.Arguments.Get("validation_timeout_seconds").Int())
				}
				opts.Validation = &plan.ValidationCommand{Command: cmd, TimeoutSeconds: timeout}
			}

			return d.Applier.Apply(ctx, p, opts)
		},
	})
}

func structuralArgsFrom(req *dispatcher.Request) (plan.StructuralArgs, error) {
	apiLine := int(req.Arguments.Get("range.start.line").Int())
	startLine, err := apiLineToInternal(apiLine)
	if err != nil {
		return plan.StructuralArgs{}, err
	}
	apiEndLine := int(req.Arguments.Get("range.end.line").Int())
	endLine, err := apiLineToInternal(apiEndLine)
	if err != nil {
		return plan.StructuralArgs{}, err
	}
	return plan.StructuralArgs{
		URI: req.Arguments.Get("path").String(),
		Range: lsptypes.Range{
			Start: lsptypes.Position{Line: startLine, Character: int(req.Arguments.Get("range.start.character").Int())},
			End:   lsptypes.Position{Line: endLine, Character: int(req.Arguments.Get("range.end.character").Int())},
		},
	}, nil
}

func registerStructuralPlanTool(d Deps, name, actionKind string) {
	kind := plan.Kind(name[:len(name)-len(".plan")])
	d.Dispatcher.Register(&dispatcher.Tool{
		Name:           name,
		Category:       dispatcher.CategoryPlanApply,
		Visible:        true,
		RequiresUserID: true,
		RequiredFields: []string{"path", "range"},
		Handler: func(ctx context.Context, req *dispatcher.Request) (interface{}, error) {
			args, err := structuralArgsFrom(req)
			if err != nil {
				return nil, err
			}
			args.ActionKind = actionKind
			p, err := d.Engine.Structural(ctx, kind, languageFor(d, args.URI), args)
			if err != nil {
				return nil, err
			}
			return toPlanResponse(d.Plans.Put(p), p), nil
		},
	})
}
