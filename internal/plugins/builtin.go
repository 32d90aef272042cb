// Package plugins lists the plugins compiled into convoy.
package plugins

import (
	"github.com/mattjoyce/convoy/internal/plugin"
	"github.com/mattjoyce/convoy/internal/plugins/locktest"
	"github.com/mattjoyce/convoy/internal/plugins/mensa"
	"github.com/mattjoyce/convoy/internal/plugins/pingpong"
)

// Definitions returns every built-in plugin.
func Definitions() []plugin.Definition {
	return []plugin.Definition{
		pingpong.Definition(),
		mensa.Definition(),
		locktest.Definition(),
	}
}

// Catalog returns a catalog holding every built-in plugin.
func Catalog() (*plugin.Catalog, error) {
	c := plugin.NewCatalog()
	for _, def := range Definitions() {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}
