package azure

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/services/compute/mgmt/2018-10-01/compute"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
)

const stateCreating = "creating"

var statusTable = status.Table{
	stateCreating:  status.Pending,
	"starting":     status.Pending,
	"running":      status.Running,
	"stopping":     status.Running,
	"stopped":      status.Completed,
	"deallocating": status.Cancelled,
	"deallocated":  status.Cancelled,
	"deleting":     status.Cancelled,
	"failed":       status.Failed,
}

var precedence = []string{"failed", stateCreating, "starting", "running", "stopping", "stopped", "deallocating", "deallocated", "deleting"}

// Provisioner creates a network interface and a virtual machine per node,
// both tagged with the site and the block.
type Provisioner struct {
	config Config
	cloud  cloud
	log    *slog.Logger
}

// Provisioner implements lifecycle.Backend
var _ lifecycle.Backend = (*Provisioner)(nil)
var _ lifecycle.Lister = (*Provisioner)(nil)
var _ lifecycle.StatusTabler = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	if _, err := config.imageReference(); err != nil {
		return nil, err
	}

	conn, err := newConnector(config)
	if err != nil {
		return nil, err
	}
	return newProvisioner(config, conn), nil
}

func newProvisioner(config Config, cloud cloud) *Provisioner {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{
		config: config,
		cloud:  cloud,
		log:    logger,
	}
}

func interfaceName(vm string) string {
	return vm + "-nic"
}

func (p *Provisioner) StatusTable() status.Table {
	return statusTable
}

func (p *Provisioner) Create(ctx context.Context, spec lifecycle.BlockSpec) (string, error) {
	image, err := p.config.imageReference()
	if err != nil {
		return "", lifecycle.Permanent(err)
	}
	tags := lo.MapValues(internal.Tags(spec.Site, spec.Name), func(value string, _ string) *string {
		return to.StringPtr(value)
	})

	var created []string
	for i := 0; i < max(1, spec.Nodes); i++ {
		name := internal.NodeName(spec.Name, i)

		nicID, err := p.cloud.createInterface(ctx, interfaceName(name), tags)
		if err != nil {
			p.cleanup(created)
			return "", classify(err)
		}
		created = append(created, name)

		if err := p.cloud.createVM(ctx, p.virtualMachine(name, nicID, image, spec, tags)); err != nil {
			p.cleanup(created)
			return "", classify(err)
		}
		p.log.Debug("Created virtual machine", "block", spec.Name, "vm", name)
	}

	return spec.Name, nil
}

func (p *Provisioner) virtualMachine(name, nicID string, image *compute.ImageReference, spec lifecycle.BlockSpec, tags map[string]*string) compute.VirtualMachine {
	osProfile := &compute.OSProfile{
		ComputerName:  to.StringPtr(name),
		AdminUsername: to.StringPtr(p.config.AdminUsername),
		CustomData:    to.StringPtr(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
	}
	if p.config.SSHPublicKey != "" {
		osProfile.LinuxConfiguration = &compute.LinuxConfiguration{
			DisablePasswordAuthentication: to.BoolPtr(true),
			SSH: &compute.SSHConfiguration{
				PublicKeys: &[]compute.SSHPublicKey{
					{
						KeyData: to.StringPtr(p.config.SSHPublicKey),
						Path:    to.StringPtr(fmt.Sprintf("/home/%s/.ssh/authorized_keys", p.config.AdminUsername)),
					},
				},
			},
		}
	}

	return compute.VirtualMachine{
		Name: to.StringPtr(name),
		VirtualMachineProperties: &compute.VirtualMachineProperties{
			HardwareProfile: &compute.HardwareProfile{
				VMSize: compute.VirtualMachineSizeTypes(spec.InstanceType),
			},
			NetworkProfile: &compute.NetworkProfile{
				NetworkInterfaces: &[]compute.NetworkInterfaceReference{
					{ID: to.StringPtr(nicID)},
				},
			},
			OsProfile: osProfile,
			StorageProfile: &compute.StorageProfile{
				ImageReference: image,
				OsDisk: &compute.OSDisk{
					Name:         to.StringPtr(fmt.Sprintf("%s_OSDisk", name)),
					CreateOption: compute.DiskCreateOptionTypesFromImage,
				},
			},
		},
		Tags: tags,
	}
}

// cleanup deletes the resources of a block that could not be created entirely.
func (p *Provisioner) cleanup(names []string) {
	ctx := context.Background()
	for _, name := range names {
		if err := p.deleteNode(ctx, name); err != nil {
			p.log.Warn("Failed to delete node of incomplete block", "vm", name, "error", err)
		}
	}
}

func (p *Provisioner) deleteNode(ctx context.Context, name string) error {
	if err := p.cloud.deleteVM(ctx, name); err != nil && !isNotFound(err) {
		return err
	}
	if err := p.cloud.deleteInterface(ctx, interfaceName(name)); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (p *Provisioner) vms(ctx context.Context, tag, value string) ([]compute.VirtualMachine, error) {
	all, err := p.cloud.listVMs(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Filter(all, func(vm compute.VirtualMachine, _ int) bool {
		return to.String(vm.Tags[tag]) == value
	}), nil
}

func (p *Provisioner) blockVMs(ctx context.Context, id string) ([]compute.VirtualMachine, error) {
	vms, err := p.vms(ctx, internal.BlockTag, id)
	if err != nil {
		return nil, err
	}
	if len(vms) == 0 {
		return nil, fmt.Errorf("no virtual machine for block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}
	return vms, nil
}

func (p *Provisioner) states(ctx context.Context, vms []compute.VirtualMachine) ([]string, error) {
	states := make([]string, 0, len(vms))
	for _, vm := range vms {
		state, err := p.cloud.powerState(ctx, to.String(vm.Name))
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (p *Provisioner) Describe(ctx context.Context, id string) (string, error) {
	vms, err := p.blockVMs(ctx, id)
	if err != nil {
		return "", err
	}

	states, err := p.states(ctx, vms)
	if err != nil {
		return "", err
	}
	if len(states) == 0 {
		return "", fmt.Errorf("virtual machines of block '%s' vanished: %w", id, lifecycle.ErrBlockNotFound)
	}
	return internal.Collapse(states, precedence), nil
}

func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	vms, err := p.blockVMs(ctx, id)
	if err != nil {
		return err
	}

	var errs []error
	for _, vm := range vms {
		if err := p.deleteNode(ctx, to.String(vm.Name)); err != nil {
			errs = append(errs, classify(err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provisioner) List(ctx context.Context, site string) ([]lifecycle.Instance, error) {
	vms, err := p.vms(ctx, internal.SiteTag, site)
	if err != nil {
		return nil, err
	}

	nodes := make([]internal.Node, 0, len(vms))
	for _, vm := range vms {
		state, err := p.cloud.powerState(ctx, to.String(vm.Name))
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, internal.Node{
			Block:        to.String(vm.Tags[internal.BlockTag]),
			NativeStatus: state,
		})
	}
	return internal.Group(nodes, precedence), nil
}
