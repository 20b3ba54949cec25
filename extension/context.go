// context.go defines the Context interface for extension access to collab
// internals.
//
// Design: Context uses an interface to enable testing with mock
// implementations. Extensions receive Context during Init(), not at
// construction, to support the two-phase pattern where extensions register
// before the service exists.

package extension

import (
	"github.com/jpl-au/collab/internal/config"
	"github.com/jpl-au/collab/internal/service"
)

// Context provides extensions controlled access to collab internals.
type Context interface {
	// Service returns the components of the served directory.
	Service() *service.Service

	// Config returns the loaded configuration.
	Config() *config.Config
}

type extContext struct {
	svc *service.Service
	cfg *config.Config
}

// NewContext creates a new extension context.
func NewContext(svc *service.Service, cfg *config.Config) Context {
	return &extContext{svc: svc, cfg: cfg}
}

func (c *extContext) Service() *service.Service { return c.svc }

func (c *extContext) Config() *config.Config { return c.cfg }
