// Package dependency wires core snowgoose services using go.uber.org/dig.
package dependency

import (
	"net/http"
	"time"

	"go.uber.org/dig"

	"github.com/snowgoose/snowgoose/internal/chat"
	"github.com/snowgoose/snowgoose/internal/config"
	"github.com/snowgoose/snowgoose/internal/identity"
	"github.com/snowgoose/snowgoose/internal/mcp"
	"github.com/snowgoose/snowgoose/internal/providers"
	"github.com/snowgoose/snowgoose/internal/storage"
	"github.com/snowgoose/snowgoose/internal/usage"
)

// vendorTimeout bounds a single vendor call, including streamed ones.
const vendorTimeout = 10 * time.Minute

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	store   *storage.Store
	bridge  *mcp.Bridge
	factory *providers.Factory
	orch    *chat.Orchestrator
}

func (c *Container) Store() *storage.Store            { return c.store }
func (c *Container) Bridge() *mcp.Bridge              { return c.bridge }
func (c *Container) Factory() *providers.Factory      { return c.factory }
func (c *Container) Orchestrator() *chat.Orchestrator { return c.orch }

// coreParams collects the core singletons as one dig parameter object.
type coreParams struct {
	dig.In

	Store   *storage.Store
	Bridge  *mcp.Bridge
	Factory *providers.Factory
	Orch    *chat.Orchestrator
}

// Close disconnects tool servers and closes the database.
func (c *Container) Close() error {
	c.bridge.DisconnectAll()
	return c.store.Close()
}

// provideCore registers every constructor the orchestrator needs.
func provideCore(d *dig.Container, cfg *config.Config) error {
	ctors := []any{
		func() *config.Config { return cfg },
		newStore,
		newImageStore,
		newResolver,
		newMeter,
		newBridge,
		newFactory,
		newOrchestrator,
	}
	for _, ctor := range ctors {
		if err := d.Provide(ctor); err != nil {
			return err
		}
	}
	return nil
}

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()
	if err := provideCore(d, cfg); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(core coreParams) {
		result = core.container()
	})
	return result, err
}

func (p coreParams) container() *Container {
	return &Container{
		store:   p.Store,
		bridge:  p.Bridge,
		factory: p.Factory,
		orch:    p.Orch,
	}
}

func newStore(cfg *config.Config) (*storage.Store, error) {
	return storage.Open(cfg.DatabasePath())
}

func newImageStore(cfg *config.Config) *storage.FileImageStore {
	return storage.NewFileImageStore(cfg.ImagesDir(), cfg.ImagesBaseURL())
}

func newResolver(store *storage.Store) *identity.Resolver {
	return identity.NewResolver(store)
}

func newMeter(store *storage.Store) *usage.Meter {
	return usage.NewMeter(store)
}

func newBridge() *mcp.Bridge {
	return mcp.NewBridge(mcp.Dial)
}

func newFactory(
	cfg *config.Config,
	store *storage.Store,
	users *identity.Resolver,
	meter *usage.Meter,
	bridge *mcp.Bridge,
	images *storage.FileImageStore,
) *providers.Factory {
	f := providers.NewFactory(store, providers.Deps{
		Users:      users,
		Meter:      meter,
		Tools:      bridge,
		Images:     images,
		HTTPClient: &http.Client{Timeout: vendorTimeout},
	})
	for name, vc := range cfg.VendorConfigs() {
		f.RegisterConfig(name, vc)
	}
	return f
}

func newOrchestrator(cfg *config.Config, store *storage.Store, factory *providers.Factory) *chat.Orchestrator {
	return chat.NewOrchestrator(store, factory, store, store, chat.Options{
		ImageModels: cfg.Images.Models,
	})
}
