package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/openloom/llmgate/internal/metrics"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

const healthSweepInterval = 5 * time.Minute

// Registry holds all configured provider clients, tracks their routing
// health, and resolves logical model names to concrete provider calls.
//
// Health marks are best-effort routing signals, not billing state: an
// unhealthy mark expires after its TTL so the provider becomes eligible
// for recovery probing without external orchestration.
type Registry struct {
	mu          sync.RWMutex
	clients     map[string]Client
	descriptors map[string]*Descriptor
	factories   map[string]Factory

	// unhealthy holds provider names with TTL expiry; presence means the
	// provider is currently skipped during resolution.
	unhealthy *gocache.Cache
	logger    *slog.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:     make(map[string]Client),
		descriptors: make(map[string]*Descriptor),
		factories:   make(map[string]Factory),
		unhealthy:   gocache.New(gocache.NoExpiration, healthSweepInterval),
		logger:      logger,
	}
}

// RegisterFactory registers a factory for a provider type. Called during
// initialization for all supported provider kinds.
func (r *Registry) RegisterFactory(providerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[providerType] = factory
}

// CreateClient builds a client of the given type and registers it with its
// descriptor.
func (r *Registry) CreateClient(providerType string, cfg ClientConfig, desc *Descriptor) error {
	r.mu.RLock()
	factory, ok := r.factories[providerType]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider type: %s", providerType)
	}

	client, err := factory(cfg)
	if err != nil {
		return fmt.Errorf("create provider %s: %w", cfg.Name, err)
	}
	return r.Register(client, desc)
}

// Register adds a pre-built client and its descriptor.
func (r *Registry) Register(client Client, desc *Descriptor) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("descriptor with a name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[desc.Name]; exists {
		return fmt.Errorf("provider %s already registered", desc.Name)
	}
	r.clients[desc.Name] = client
	r.descriptors[desc.Name] = desc

	r.logger.Info("provider registered",
		"name", desc.Name, "models", len(desc.Models), "priority", desc.Priority)
	return nil
}

// Resolve maps a logical model name to the highest-priority healthy
// provider serving it. The mapping is deterministic: candidates are ordered
// by configured priority, then name. Unhealthy providers are skipped; if no
// candidate remains the caller gets a model_unavailable error.
func (r *Registry) Resolve(logical string) (Client, *Descriptor, string, error) {
	r.mu.RLock()
	candidates := make([]*Descriptor, 0, 2)
	for _, desc := range r.descriptors {
		if !desc.Enabled {
			continue
		}
		if _, ok := desc.RemoteModel(logical); ok {
			candidates = append(candidates, desc)
		}
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, nil, "", gerrors.NewModelUnavailableError(logical, "unknown model")
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})

	for _, desc := range candidates {
		if !r.Healthy(desc.Name) {
			continue
		}
		remote, _ := desc.RemoteModel(logical)
		r.mu.RLock()
		client := r.clients[desc.Name]
		r.mu.RUnlock()
		return client, desc, remote, nil
	}

	return nil, nil, "", gerrors.NewModelUnavailableError(logical, "all providers for model are unavailable")
}

// MarkUnhealthy excludes the provider from routing until ttl elapses.
func (r *Registry) MarkUnhealthy(name string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.unhealthy.Set(name, time.Now(), ttl)
	metrics.ProviderUnhealthyMarks.WithLabelValues(name).Inc()
	r.logger.Warn("provider marked unhealthy", "provider", name, "ttl", ttl)
}

// MarkHealthy clears an unhealthy mark immediately.
func (r *Registry) MarkHealthy(name string) {
	r.unhealthy.Delete(name)
}

// Healthy reports whether the provider is currently eligible for routing.
func (r *Registry) Healthy(name string) bool {
	_, found := r.unhealthy.Get(name)
	return !found
}

// Status returns the routing status of every registered provider.
func (r *Registry) Status() map[string]types.ProviderStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]types.ProviderStatus, len(r.descriptors))
	for name := range r.descriptors {
		if r.Healthy(name) {
			status[name] = types.ProviderAvailable
		} else {
			status[name] = types.ProviderDegraded
		}
	}
	return status
}

// Providers returns the names of all registered providers.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog aggregates the model catalogs of all enabled providers. One
// provider's fetch failure never fails the aggregate: its models are
// omitted and the provider is marked degraded. Logical names the gateway
// routes are listed, not the remote aliases.
func (r *Registry) Catalog(ctx context.Context, degradedTTL time.Duration) *types.Catalog {
	r.mu.RLock()
	descs := make([]*Descriptor, 0, len(r.descriptors))
	clients := make([]Client, 0, len(r.descriptors))
	for name, desc := range r.descriptors {
		if !desc.Enabled {
			continue
		}
		descs = append(descs, desc)
		clients = append(clients, r.clients[name])
	}
	r.mu.RUnlock()

	type result struct {
		desc   *Descriptor
		remote map[string]bool
		err    error
	}

	results := make([]result, len(descs))
	var wg sync.WaitGroup
	for i := range descs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			remoteIDs, err := clients[i].ListModels(ctx)
			res := result{desc: descs[i], err: err}
			if err == nil {
				res.remote = make(map[string]bool, len(remoteIDs))
				for _, id := range remoteIDs {
					res.remote[id] = true
				}
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	catalog := &types.Catalog{
		Models:         make([]types.ModelInfo, 0),
		ProviderStatus: make(map[string]types.ProviderStatus),
	}

	for _, res := range results {
		if res.err != nil {
			r.logger.Warn("provider catalog fetch failed",
				"provider", res.desc.Name, "error", res.err)
			r.MarkUnhealthy(res.desc.Name, degradedTTL)
			continue
		}
		for logical, remote := range res.desc.Models {
			// An empty remote catalog means the provider does not support
			// listing; trust the configured mapping.
			if len(res.remote) > 0 && !res.remote[remote] {
				continue
			}
			catalog.Models = append(catalog.Models, types.ModelInfo{
				ID:            logical,
				Provider:      res.desc.Name,
				ContextLength: res.desc.ContextLengths[logical],
			})
		}
	}

	sort.Slice(catalog.Models, func(i, j int) bool {
		if catalog.Models[i].ID != catalog.Models[j].ID {
			return catalog.Models[i].ID < catalog.Models[j].ID
		}
		return catalog.Models[i].Provider < catalog.Models[j].Provider
	})

	for name, st := range r.Status() {
		catalog.ProviderStatus[name] = st
	}
	return catalog
}
