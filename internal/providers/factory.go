package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Factory builds a VendorAdapter for a model record. Vendor credentials are
// registered once at startup; constructors are kept in a registry keyed by
// lower-cased vendor name.
type Factory struct {
	vendors schema.VendorStore
	deps    Deps

	mu      sync.RWMutex
	configs map[string]schema.VendorConfig
	ctors   map[string]Constructor
}

// NewFactory returns a Factory with the built-in vendors registered.
func NewFactory(vendors schema.VendorStore, deps Deps) *Factory {
	f := &Factory{
		vendors: vendors,
		deps:    deps,
		configs: make(map[string]schema.VendorConfig),
		ctors:   make(map[string]Constructor),
	}
	f.RegisterVendor("openai", NewOpenAI)
	f.RegisterVendor("anthropic", NewAnthropic)
	f.RegisterVendor("google", NewGoogle)
	f.RegisterVendor("openrouter", NewOpenRouter)
	return f
}

func vendorKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if s := FindByName(name); s != nil {
		return s.Name
	}
	return name
}

// RegisterVendor adds or replaces the constructor for a vendor.
func (f *Factory) RegisterVendor(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[vendorKey(name)] = ctor
}

// RegisterConfig stores the credentials for a vendor. Re-registering the
// same vendor replaces the previous config.
func (f *Factory) RegisterConfig(vendor string, cfg schema.VendorConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[vendorKey(vendor)] = cfg
}

// Configured returns the sorted names of vendors with registered credentials.
func (f *Factory) Configured() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.configs))
	for k := range f.configs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetAdapter resolves the model's vendor, its credentials and its
// constructor, in that order.
func (f *Factory) GetAdapter(ctx context.Context, model schema.ModelRecord) (schema.VendorAdapter, error) {
	if model.APIVendorID == 0 {
		return nil, fmt.Errorf("model %q: %w", model.APIName, schema.ErrMissingVendor)
	}
	vendor, err := f.vendors.FindVendorByID(ctx, model.APIVendorID)
	if err != nil {
		return nil, fmt.Errorf("resolve vendor of model %q: %w", model.APIName, err)
	}
	key := vendorKey(vendor.Name)

	f.mu.RLock()
	cfg, haveCfg := f.configs[key]
	ctor, haveCtor := f.ctors[key]
	f.mu.RUnlock()

	if !haveCfg {
		return nil, fmt.Errorf("%w %s", schema.ErrNoVendorConfig, vendor.Name)
	}
	if !haveCtor {
		return nil, fmt.Errorf("%w: %s", schema.ErrUnsupportedVendor, vendor.Name)
	}
	return ctor(cfg, model, f.deps), nil
}
