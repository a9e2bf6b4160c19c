package openstack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/gophercloud/gophercloud"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompute is a minimal compute API keeping servers in memory.
type fakeCompute struct {
	mu      sync.Mutex
	servers map[string]map[string]any
	nextID  int
	queries []string
}

func newFakeCompute(t *testing.T) (*fakeCompute, *gophercloud.ServiceClient) {
	compute := &fakeCompute{servers: map[string]map[string]any{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/servers", compute.create)
	mux.HandleFunc("/servers/detail", compute.list)
	mux.HandleFunc("/servers/", compute.delete)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return compute, &gophercloud.ServiceClient{
		ProviderClient: &gophercloud.ProviderClient{TokenID: "token"},
		Endpoint:       server.URL + "/",
	}
}

func (f *fakeCompute) create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Server map[string]any `json:"server"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	f.servers[id] = map[string]any{
		"id":       id,
		"name":     body.Server["name"],
		"status":   "BUILD",
		"metadata": body.Server["metadata"],
		"created":  "2024-01-01T10:00:00Z",
		"updated":  "2024-01-01T10:00:00Z",
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"server": map[string]any{"id": id}})
}

func (f *fakeCompute) list(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, r.URL.Query().Get("name"))
	var result []map[string]any
	for _, server := range f.servers {
		result = append(result, server)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"servers": result})
}

func (f *fakeCompute) delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/servers/")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.servers[id]; !ok {
		http.NotFound(w, r)
		return
	}
	delete(f.servers, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeCompute) setStatus(status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, server := range f.servers {
		server["status"] = status
		return
	}
}

func TestBlockLifecycle(t *testing.T) {
	compute, client := newFakeCompute(t)
	p := NewProvisionerWithClient(Config{Image: "debian-12", Networks: Networks([]string{"net-1"})}, client)
	ctx := context.Background()

	id, err := p.Create(ctx, lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 2, InstanceType: "m1.small", UserData: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "test-a", id)
	require.Len(t, compute.servers, 2)
	for _, server := range compute.servers {
		assert.Equal(t, "test", server["metadata"].(map[string]any)[internal.SiteTag])
	}

	native, err := p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "BUILD", native)
	assert.Equal(t, "^test-a-[0-9]+$", compute.queries[0])

	compute.setStatus("ERROR")
	native, err = p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", native)

	instances, err := p.List(ctx, "test")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, 2, instances[0].Nodes)

	require.NoError(t, p.Destroy(ctx, id))
	assert.Empty(t, compute.servers)

	assert.ErrorIs(t, p.Destroy(ctx, id), lifecycle.ErrBlockNotFound)
	_, err = p.Describe(ctx, id)
	assert.ErrorIs(t, err, lifecycle.ErrBlockNotFound)
}

func TestDescribeIgnoresServersOfOtherBlocks(t *testing.T) {
	compute, client := newFakeCompute(t)
	p := NewProvisionerWithClient(Config{Image: "debian-12"}, client)
	ctx := context.Background()

	_, err := p.Create(ctx, lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 1})
	require.NoError(t, err)
	require.Len(t, compute.servers, 1)

	_, err = p.Describe(ctx, "test-b")
	assert.ErrorIs(t, err, lifecycle.ErrBlockNotFound)
}
