package dependency

import (
	"go.uber.org/dig"

	"github.com/snowgoose/snowgoose/internal/config"
	"github.com/snowgoose/snowgoose/internal/server"
	"github.com/snowgoose/snowgoose/internal/storage"
	"github.com/snowgoose/snowgoose/internal/usage"
)

// ServiceContainer extends the core services with the long-running ones
// started by `snowgoose serve`.
type ServiceContainer struct {
	*Container
	server  *server.Server
	renewal *usage.RenewalScheduler
}

func (c *ServiceContainer) Server() *server.Server           { return c.server }
func (c *ServiceContainer) Renewal() *usage.RenewalScheduler { return c.renewal }

// NewServiceContainer builds the core services plus the HTTP server and the
// usage renewal scheduler.
func NewServiceContainer(cfg *config.Config) (*ServiceContainer, error) {
	d := dig.New()
	if err := provideCore(d, cfg); err != nil {
		return nil, err
	}
	if err := d.Provide(newServer); err != nil {
		return nil, err
	}
	if err := d.Provide(newRenewalScheduler); err != nil {
		return nil, err
	}

	var result *ServiceContainer
	err := d.Invoke(func(core coreParams, srv *server.Server, renewal *usage.RenewalScheduler) {
		result = &ServiceContainer{
			Container: core.container(),
			server:    srv,
			renewal:   renewal,
		}
	})
	return result, err
}

func newServer(cfg *config.Config, core coreParams) *server.Server {
	return server.New(core.Orch, server.Options{
		ImagesDir:     cfg.ImagesDir(),
		RatePerMinute: cfg.Server.RatePerMinute,
		RateBurst:     cfg.Server.RateBurst,
	})
}

func newRenewalScheduler(cfg *config.Config, store *storage.Store) (*usage.RenewalScheduler, error) {
	loc, err := cfg.Usage.Location()
	if err != nil {
		return nil, err
	}
	return usage.NewRenewalScheduler(store, cfg.Usage.RenewalSchedule, loc)
}
