package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"testing"

	"github.com/Azure/azure-sdk-for-go/services/compute/mgmt/2018-10-01/compute"
	"github.com/Azure/go-autorest/autorest"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	interfaces map[string]map[string]*string
	vms        map[string]compute.VirtualMachine
	states     map[string]string

	createVMErr error
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		interfaces: map[string]map[string]*string{},
		vms:        map[string]compute.VirtualMachine{},
		states:     map[string]string{},
	}
}

func notFound() error {
	return autorest.DetailedError{StatusCode: http.StatusNotFound, Message: "not found"}
}

func (f *fakeCloud) createInterface(_ context.Context, name string, tags map[string]*string) (string, error) {
	f.interfaces[name] = tags
	return "/nics/" + name, nil
}

func (f *fakeCloud) deleteInterface(_ context.Context, name string) error {
	if _, ok := f.interfaces[name]; !ok {
		return notFound()
	}
	delete(f.interfaces, name)
	return nil
}

func (f *fakeCloud) createVM(_ context.Context, vm compute.VirtualMachine) error {
	if f.createVMErr != nil {
		return f.createVMErr
	}
	f.vms[to.String(vm.Name)] = vm
	f.states[to.String(vm.Name)] = stateCreating
	return nil
}

func (f *fakeCloud) deleteVM(_ context.Context, name string) error {
	if _, ok := f.vms[name]; !ok {
		return notFound()
	}
	delete(f.vms, name)
	return nil
}

func (f *fakeCloud) listVMs(context.Context) ([]compute.VirtualMachine, error) {
	names := lo.Keys(f.vms)
	sort.Strings(names)
	return lo.Map(names, func(name string, _ int) compute.VirtualMachine {
		return f.vms[name]
	}), nil
}

func (f *fakeCloud) powerState(_ context.Context, name string) (string, error) {
	state, ok := f.states[name]
	if !ok {
		return "", notFound()
	}
	return state, nil
}

func testConfig() Config {
	return Config{
		Image:         "Canonical:UbuntuServer:18.04-LTS:latest",
		AdminUsername: "blockpool",
		SSHPublicKey:  "ssh-ed25519 AAAA",
	}
}

func TestBlockLifecycle(t *testing.T) {
	cloud := newFakeCloud()
	p := newProvisioner(testConfig(), cloud)
	ctx := context.Background()

	id, err := p.Create(ctx, lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 2, InstanceType: "Standard_A1", UserData: "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "test-a", id)
	assert.Len(t, cloud.interfaces, 2)
	require.Len(t, cloud.vms, 2)

	vm := cloud.vms["test-a-0"]
	assert.Equal(t, "test", to.String(vm.Tags[internal.SiteTag]))
	assert.Equal(t, "test-a", to.String(vm.Tags[internal.BlockTag]))
	assert.Equal(t, compute.VirtualMachineSizeTypes("Standard_A1"), vm.HardwareProfile.VMSize)
	assert.Equal(t, "/nics/test-a-0-nic", to.String((*vm.NetworkProfile.NetworkInterfaces)[0].ID))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("echo hi")), to.String(vm.OsProfile.CustomData))
	assert.Equal(t, "Canonical", to.String(vm.StorageProfile.ImageReference.Publisher))
	assert.Equal(t, "latest", to.String(vm.StorageProfile.ImageReference.Version))
	assert.Equal(t, "/home/blockpool/.ssh/authorized_keys", to.String((*vm.OsProfile.LinuxConfiguration.SSH.PublicKeys)[0].Path))

	native, err := p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, stateCreating, native)

	cloud.states["test-a-0"] = "running"
	cloud.states["test-a-1"] = "running"
	native, err = p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", native)

	cloud.states["test-a-1"] = "failed"
	native, err = p.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "failed", native)

	instances, err := p.List(ctx, "test")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "test-a", instances[0].ID)
	assert.Equal(t, 2, instances[0].Nodes)

	require.NoError(t, p.Destroy(ctx, id))
	assert.Empty(t, cloud.vms)
	assert.Empty(t, cloud.interfaces)

	assert.ErrorIs(t, p.Destroy(ctx, id), lifecycle.ErrBlockNotFound)
	_, err = p.Describe(ctx, id)
	assert.ErrorIs(t, err, lifecycle.ErrBlockNotFound)
}

func TestCreateFailureCleansUp(t *testing.T) {
	cloud := newFakeCloud()
	cloud.createVMErr = autorest.DetailedError{StatusCode: http.StatusBadRequest, Message: "invalid size"}
	p := newProvisioner(testConfig(), cloud)

	_, err := p.Create(context.Background(), lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 2})
	require.Error(t, err)
	assert.True(t, lifecycle.IsPermanent(err))
	assert.Empty(t, cloud.interfaces)
	assert.Empty(t, cloud.vms)
}

func TestCreateTransientFailure(t *testing.T) {
	cloud := newFakeCloud()
	cloud.createVMErr = errors.New("connection reset")
	p := newProvisioner(testConfig(), cloud)

	_, err := p.Create(context.Background(), lifecycle.BlockSpec{Name: "test-a", Site: "test", Nodes: 1})
	require.Error(t, err)
	assert.False(t, lifecycle.IsPermanent(err))
}

func TestInvalidImage(t *testing.T) {
	config := testConfig()
	config.Image = "ubuntu"

	_, err := NewProvisioner(config)
	assert.ErrorContains(t, err, "publisher:offer:sku:version")
}

func TestStateFromStatuses(t *testing.T) {
	status := func(codes ...string) []compute.InstanceViewStatus {
		return lo.Map(codes, func(code string, _ int) compute.InstanceViewStatus {
			return compute.InstanceViewStatus{Code: to.StringPtr(code)}
		})
	}

	tests := map[string]struct {
		statuses []compute.InstanceViewStatus
		expected string
	}{
		"none":                {nil, stateCreating},
		"running":             {status("ProvisioningState/succeeded", "PowerState/running"), "running"},
		"deallocated":         {status("ProvisioningState/succeeded", "PowerState/deallocated"), "deallocated"},
		"provisioning":        {status("ProvisioningState/creating"), "creating"},
		"provisioning failed": {status("ProvisioningState/failed/InternalError"), "failed"},
		"succeeded, no power": {status("ProvisioningState/succeeded"), stateCreating},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expected, stateFromStatuses(test.statuses))
		})
	}
}
