package bootstrap

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/adapters/memory"
	"github.com/artpar/entitygate/core/analytics"
	"github.com/artpar/entitygate/core/authz"
	chttp "github.com/artpar/entitygate/core/channel/http"
	"github.com/artpar/entitygate/core/events"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/storage"
	"github.com/artpar/entitygate/core/task"
	"github.com/artpar/entitygate/core/validation"
)

// NewCatalog returns a catalog holding every built-in plugin type.
// Emit tasks publish on bus. The analytics route serves journal, which
// may be nil when the operation journal is disabled.
func NewCatalog(logger zerolog.Logger, bus *events.Bus, journal analytics.Store) (*plugin.Catalog, error) {
	c := plugin.NewCatalog()

	steps := []struct {
		kind     string
		register func(*plugin.Catalog) error
	}{
		{"memory provider", memory.Register},
		{"sqlite provider", storage.Register},
		{"authorization", authz.Register},
		{"validations", validation.Register},
		{"tasks", func(c *plugin.Catalog) error { return task.Register(c, logger, bus) }},
		{"routes", chttp.RegisterRoutes},
		{"analytics route", func(c *plugin.Catalog) error { return analytics.RegisterRoute(c, journal) }},
	}
	for _, step := range steps {
		if err := step.register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", step.kind, err)
		}
	}

	types := c.Types()
	logger.Debug().
		Strs("providers", types["provider"]).
		Strs("authorizations", types["authorization"]).
		Strs("validations", types["validation"]).
		Strs("tasks", types["task"]).
		Strs("routes", types["route"]).
		Msg("plugin catalog ready")

	return c, nil
}
