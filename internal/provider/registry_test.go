package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

type stubClient struct {
	name      string
	models    []string
	listErr   error
	listCalls int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) BuildRequest(_ context.Context, _ *types.ChatRequest, _ string) (*http.Request, error) {
	return nil, nil
}

func (s *stubClient) ParseResponse(_ *http.Response) (*types.ChatResponse, error) {
	return nil, nil
}

func (s *stubClient) ListModels(_ context.Context) ([]string, error) {
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.models, nil
}

func (s *stubClient) MapError(statusCode int, _ []byte) error {
	return gerrors.NewProviderError(s.name, "", "stub error")
}

func registerStub(t *testing.T, r *Registry, name string, priority int, models map[string]string) *stubClient {
	t.Helper()
	remote := make([]string, 0, len(models))
	for _, id := range models {
		remote = append(remote, id)
	}
	client := &stubClient{name: name, models: remote}
	require.NoError(t, r.Register(client, &Descriptor{
		Name:     name,
		Models:   models,
		Priority: priority,
		Enabled:  true,
	}))
	return client
}

func TestResolvePriorityOrder(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "secondary", 2, map[string]string{"gpt-4": "gpt-4-mirror"})
	registerStub(t, r, "primary", 1, map[string]string{"gpt-4": "gpt-4-0613"})

	client, desc, remote, err := r.Resolve("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "primary", client.Name())
	assert.Equal(t, "primary", desc.Name)
	assert.Equal(t, "gpt-4-0613", remote)
}

func TestResolveUnknownModel(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "openai", 1, map[string]string{"gpt-4": "gpt-4"})

	_, _, _, err := r.Resolve("no-such-model")
	require.Error(t, err)
	assert.True(t, gerrors.IsKind(err, gerrors.KindModelUnavailable))
}

func TestResolveSkipsUnhealthy(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "primary", 1, map[string]string{"gpt-4": "gpt-4-0613"})
	registerStub(t, r, "secondary", 2, map[string]string{"gpt-4": "gpt-4-mirror"})

	r.MarkUnhealthy("primary", time.Minute)

	client, _, remote, err := r.Resolve("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "secondary", client.Name())
	assert.Equal(t, "gpt-4-mirror", remote)

	// Clearing the mark restores the original routing.
	r.MarkHealthy("primary")
	client, _, _, err = r.Resolve("gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "primary", client.Name())
}

func TestResolveAllUnhealthy(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "only", 1, map[string]string{"gpt-4": "gpt-4"})

	r.MarkUnhealthy("only", time.Minute)

	_, _, _, err := r.Resolve("gpt-4")
	require.Error(t, err)
	assert.True(t, gerrors.IsKind(err, gerrors.KindModelUnavailable))
}

func TestUnhealthyMarkExpires(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "flaky", 1, map[string]string{"gpt-4": "gpt-4"})

	r.MarkUnhealthy("flaky", 20*time.Millisecond)
	assert.False(t, r.Healthy("flaky"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, r.Healthy("flaky"))

	_, _, _, err := r.Resolve("gpt-4")
	assert.NoError(t, err)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "openai", 1, map[string]string{"gpt-4": "gpt-4"})

	err := r.Register(&stubClient{name: "openai"}, &Descriptor{
		Name: "openai", Models: map[string]string{"gpt-4": "gpt-4"}, Enabled: true,
	})
	assert.Error(t, err)
}

func TestCatalogAggregation(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "openai", 1, map[string]string{
		"gpt-4":         "gpt-4-0613",
		"gpt-3.5-turbo": "gpt-3.5-turbo",
	})
	registerStub(t, r, "anthropic", 1, map[string]string{
		"claude-sonnet": "claude-sonnet-4-20250514",
	})

	catalog := r.Catalog(context.Background(), time.Minute)
	require.Len(t, catalog.Models, 3)

	ids := make([]string, 0, len(catalog.Models))
	for _, m := range catalog.Models {
		ids = append(ids, m.ID)
	}
	// Logical names, sorted deterministically.
	assert.Equal(t, []string{"claude-sonnet", "gpt-3.5-turbo", "gpt-4"}, ids)
	assert.Equal(t, types.ProviderAvailable, catalog.ProviderStatus["openai"])
	assert.Equal(t, types.ProviderAvailable, catalog.ProviderStatus["anthropic"])
}

func TestCatalogDegradesFailedProvider(t *testing.T) {
	r := NewRegistry(nil)
	registerStub(t, r, "healthy", 1, map[string]string{"gpt-4": "gpt-4-0613"})

	broken := &stubClient{name: "broken", listErr: errors.New("connection refused")}
	require.NoError(t, r.Register(broken, &Descriptor{
		Name:    "broken",
		Models:  map[string]string{"claude-sonnet": "claude-sonnet-4"},
		Enabled: true,
	}))

	catalog := r.Catalog(context.Background(), time.Minute)

	// The failed provider's models are omitted, not the whole catalog.
	require.Len(t, catalog.Models, 1)
	assert.Equal(t, "gpt-4", catalog.Models[0].ID)
	assert.Equal(t, types.ProviderDegraded, catalog.ProviderStatus["broken"])
	assert.Equal(t, types.ProviderAvailable, catalog.ProviderStatus["healthy"])

	// Degraded providers are also skipped for routing until the TTL lapses.
	_, _, _, err := r.Resolve("claude-sonnet")
	assert.Error(t, err)
}

func TestCatalogFiltersUnlistedModels(t *testing.T) {
	r := NewRegistry(nil)
	client := &stubClient{name: "openai", models: []string{"gpt-4-0613"}}
	require.NoError(t, r.Register(client, &Descriptor{
		Name: "openai",
		Models: map[string]string{
			"gpt-4":     "gpt-4-0613",
			"gpt-ghost": "gpt-ghost-v2",
		},
		Enabled: true,
	}))

	catalog := r.Catalog(context.Background(), time.Minute)
	require.Len(t, catalog.Models, 1)
	assert.Equal(t, "gpt-4", catalog.Models[0].ID)
}

func TestCreateClientUnknownType(t *testing.T) {
	r := NewRegistry(nil)
	err := r.CreateClient("nope", ClientConfig{Name: "x"}, &Descriptor{Name: "x"})
	assert.Error(t, err)
}
