// Package task runs the side effects declared on entities around each
// operation. Tasks run in declaration order and the first failure stops
// the rest.
package task

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/i18n"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Runner executes task plugins.
type Runner struct {
	catalog *plugin.Catalog
	logger  zerolog.Logger
}

// NewRunner creates a runner resolving plugins from catalog.
func NewRunner(catalog *plugin.Catalog, logger zerolog.Logger) *Runner {
	return &Runner{catalog: catalog, logger: logger}
}

// Run executes the tasks of cfg that apply to phase. An *apierror.Error
// returned by a task is passed through; any other error becomes a task
// failure.
func (r *Runner) Run(ctx context.Context, cfg *schema.EntityConfiguration, phase string, e *entity.DynamicEntity, ec *plugin.ExecutionContext) error {
	for _, tc := range cfg.Tasks {
		if !tc.AppliesTo(phase) {
			continue
		}

		p, ok := r.catalog.Task(tc.Type)
		if !ok {
			return apierror.New(http.StatusInternalServerError,
				i18n.Of(apierror.KeyTaskMissing, map[string]any{"type": tc.Type, "entity": cfg.Name}))
		}

		r.logger.Debug().
			Str("entity", cfg.Name).
			Str("task", taskName(tc)).
			Str("phase", phase).
			Msg("running task")

		if err := p.Execute(ctx, tc, phase, e, ec); err != nil {
			if apiErr, ok := apierror.As(err); ok {
				return apiErr
			}
			return apierror.New(http.StatusInternalServerError,
				i18n.Of(apierror.KeyTaskFailure, map[string]any{"task": taskName(tc), "phase": phase}),
				apierror.WithCause(err))
		}
	}
	return nil
}

// Check verifies that every task referenced by entities has a plugin and,
// where the plugin supports it, valid options.
func (r *Runner) Check(entities []*schema.EntityConfiguration) error {
	for _, e := range entities {
		for _, tc := range e.Tasks {
			p, ok := r.catalog.Task(tc.Type)
			if !ok {
				return fmt.Errorf("entity %q: unknown task type %q", e.Name, tc.Type)
			}
			if c, ok := p.(plugin.Checker); ok {
				if err := c.Check(tc.Options); err != nil {
					return fmt.Errorf("entity %q: task %q: %w", e.Name, taskName(tc), err)
				}
			}
		}
	}
	return nil
}

func taskName(tc schema.TaskConfiguration) string {
	if tc.Name != "" {
		return tc.Name
	}
	return tc.Type
}
