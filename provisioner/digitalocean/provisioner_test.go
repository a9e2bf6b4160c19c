package digitalocean

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/digitalocean/godo"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type droplet struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at"`
}

type createRequest struct {
	Names    []string `json:"names"`
	Region   string   `json:"region"`
	Size     string   `json:"size"`
	Image    string   `json:"image"`
	SSHKeys  []string `json:"ssh_keys"`
	UserData string   `json:"user_data"`
	Tags     []string `json:"tags"`
}

// fakeAPI serves the droplet endpoints used by the provisioner.
type fakeAPI struct {
	mu       sync.Mutex
	droplets []droplet
	requests []createRequest
	reject   int
}

func newFakeAPI(t *testing.T) (*fakeAPI, *godo.Client) {
	api := &fakeAPI{}
	server := httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(server.Close)

	client := godo.NewClient(nil)
	client.BaseURL = lo.Must(url.Parse(server.URL + "/"))
	return api, client
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/v2/droplets" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	tag := r.URL.Query().Get("tag_name")

	switch r.Method {
	case http.MethodPost:
		if f.reject != 0 {
			w.WriteHeader(f.reject)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "unprocessable_entity", "message": "invalid size"})
			return
		}

		var request createRequest
		lo.Must0(json.NewDecoder(r.Body).Decode(&request))
		f.requests = append(f.requests, request)

		var created []droplet
		for _, name := range request.Names {
			d := droplet{ID: len(f.droplets) + 1, Name: name, Status: "new", Tags: request.Tags, CreatedAt: "2024-01-01T10:00:00Z"}
			f.droplets = append(f.droplets, d)
			created = append(created, d)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"droplets": created})

	case http.MethodGet:
		tagged := lo.Filter(f.droplets, func(d droplet, _ int) bool {
			return lo.Contains(d.Tags, tag)
		})
		_ = json.NewEncoder(w).Encode(map[string]any{"droplets": tagged, "meta": map[string]int{"total": len(tagged)}})

	case http.MethodDelete:
		f.droplets = lo.Reject(f.droplets, func(d droplet, _ int) bool {
			return lo.Contains(d.Tags, tag)
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *fakeAPI) setStatus(name, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.droplets {
		if f.droplets[i].Name == name {
			f.droplets[i].Status = status
		}
	}
}

func TestBlockLifecycle(t *testing.T) {
	api, client := newFakeAPI(t)
	p := NewProvisionerWithClient(Config{Image: "debian-12-x64", SSHKeys: []string{"aa:bb"}}, client)
	ctx := context.Background()

	id, err := p.Create(ctx, lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 2, InstanceType: "s-1vcpu-1gb", UserData: "#!/bin/bash"})
	require.NoError(t, err)
	assert.Equal(t, "test-a", id)

	require.Len(t, api.requests, 1)
	request := api.requests[0]
	assert.Equal(t, []string{"test-a-0", "test-a-1"}, request.Names)
	assert.Equal(t, DefaultRegion, request.Region)
	assert.Equal(t, "s-1vcpu-1gb", request.Size)
	assert.Equal(t, "debian-12-x64", request.Image)
	assert.Equal(t, []string{"aa:bb"}, request.SSHKeys)
	assert.Equal(t, "#!/bin/bash", request.UserData)
	assert.Equal(t, []string{"test-a", "blockpool-site:test"}, request.Tags)

	native, err := p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", native)

	api.setStatus("test-a-0", "active")
	native, err = p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "new", native)

	api.setStatus("test-a-1", "active")
	native, err = p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "active", native)

	instances, err := p.List(ctx, "test")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "test-a", instances[0].ID)
	assert.Equal(t, 2, instances[0].Nodes)

	require.NoError(t, p.Destroy(ctx, id))
	assert.ErrorIs(t, p.Destroy(ctx, id), lifecycle.ErrBlockNotFound)
	_, err = p.Describe(ctx, id)
	assert.ErrorIs(t, err, lifecycle.ErrBlockNotFound)
}

func TestCreateRejectedIsPermanent(t *testing.T) {
	api, client := newFakeAPI(t)
	api.reject = http.StatusUnprocessableEntity
	p := NewProvisionerWithClient(Config{Image: "debian-12-x64"}, client)

	_, err := p.Create(context.Background(), lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 1})
	require.Error(t, err)
	assert.True(t, lifecycle.IsPermanent(err))
}
