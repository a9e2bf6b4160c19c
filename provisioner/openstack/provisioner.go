package openstack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"

	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/gammadia/blockpool/status"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/keypairs"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/samber/lo"
)

var statusTable = status.Table{
	"BUILD":         status.Pending,
	"REBUILD":       status.Pending,
	"ACTIVE":        status.Running,
	"REBOOT":        status.Running,
	"HARD_REBOOT":   status.Running,
	"MIGRATING":     status.Running,
	"RESIZE":        status.Running,
	"VERIFY_RESIZE": status.Running,
	"PASSWORD":      status.Running,
	"PAUSED":        status.Running,
	"SUSPENDED":     status.Running,
	"SHUTOFF":       status.Completed,
	"DELETED":       status.Cancelled,
	"SOFT_DELETED":  status.Cancelled,
	"SHELVED":       status.Cancelled,
	"ERROR":         status.Failed,
	"UNKNOWN":       status.Failed,
}

// precedence collapses the servers of a block, the least advanced first.
var precedence = []string{"ERROR", "UNKNOWN", "BUILD", "REBUILD", "ACTIVE", "SHUTOFF", "SOFT_DELETED", "DELETED"}

// Provisioner creates one server per node. Servers carry the site and block
// in their metadata and are named after their block.
type Provisioner struct {
	config Config
	client *gophercloud.ServiceClient
	log    *slog.Logger
}

// Provisioner implements lifecycle.Backend
var _ lifecycle.Backend = (*Provisioner)(nil)
var _ lifecycle.Lister = (*Provisioner)(nil)
var _ lifecycle.StatusTabler = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to get auth options from env: %w", err)
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	region := lo.Ternary(config.Region != "", config.Region, os.Getenv("OS_REGION_NAME"))
	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compute client: %w", err)
	}

	return NewProvisionerWithClient(config, client), nil
}

func NewProvisionerWithClient(config Config, client *gophercloud.ServiceClient) *Provisioner {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{
		config: config,
		client: client,
		log:    logger,
	}
}

func (p *Provisioner) StatusTable() status.Table {
	return statusTable
}

func (p *Provisioner) Create(ctx context.Context, spec lifecycle.BlockSpec) (string, error) {
	client := p.withContext(ctx)

	var created []string
	for i := 0; i < max(1, spec.Nodes); i++ {
		name := internal.NodeName(spec.Name, i)

		var opts servers.CreateOptsBuilder = servers.CreateOpts{
			Name:           name,
			ImageRef:       p.config.Image,
			FlavorRef:      spec.InstanceType,
			Networks:       p.config.Networks,
			SecurityGroups: p.config.SecurityGroups,
			Metadata:       internal.Tags(spec.Site, spec.Name),
			UserData:       []byte(spec.UserData),
		}
		if p.config.KeyName != "" {
			opts = keypairs.CreateOptsExt{CreateOptsBuilder: opts, KeyName: p.config.KeyName}
		}

		server, err := servers.Create(client, opts).Extract()
		if err != nil {
			p.cleanup(created)
			return "", p.classify(fmt.Errorf("failed to create server '%s': %w", name, err))
		}
		created = append(created, server.ID)
		p.log.Debug("Created server", "block", spec.Name, "server", name, "id", server.ID)
	}

	return spec.Name, nil
}

// cleanup deletes the servers of a block that could not be created entirely.
func (p *Provisioner) cleanup(ids []string) {
	for _, id := range ids {
		if err := servers.Delete(p.client, id).ExtractErr(); err != nil {
			p.log.Warn("Failed to delete server of incomplete block", "server", id, "error", err)
		}
	}
}

// classify marks request errors the server will never accept as permanent.
func (p *Provisioner) classify(err error) error {
	var badRequest gophercloud.ErrDefault400
	var forbidden gophercloud.ErrDefault403
	if errors.As(err, &badRequest) || errors.As(err, &forbidden) {
		return lifecycle.Permanent(err)
	}
	return err
}

func (p *Provisioner) withContext(ctx context.Context) *gophercloud.ServiceClient {
	client := *p.client
	provider := *p.client.ProviderClient
	provider.Context = ctx
	client.ProviderClient = &provider
	return &client
}

func (p *Provisioner) servers(ctx context.Context, name string, metadata map[string]string) ([]servers.Server, error) {
	pages, err := servers.List(p.withContext(ctx), servers.ListOpts{Name: name}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	all, err := servers.ExtractServers(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract servers: %w", err)
	}

	return lo.Filter(all, func(server servers.Server, _ int) bool {
		for key, value := range metadata {
			if server.Metadata[key] != value {
				return false
			}
		}
		return true
	}), nil
}

func (p *Provisioner) blockServers(ctx context.Context, block string) ([]servers.Server, error) {
	return p.servers(ctx, fmt.Sprintf("^%s-[0-9]+$", regexp.QuoteMeta(block)), map[string]string{internal.BlockTag: block})
}

func (p *Provisioner) Describe(ctx context.Context, id string) (string, error) {
	all, err := p.blockServers(ctx, id)
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "", fmt.Errorf("no server for block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}

	return internal.Collapse(lo.Map(all, func(server servers.Server, _ int) string {
		return server.Status
	}), precedence), nil
}

func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	all, err := p.blockServers(ctx, id)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return fmt.Errorf("no server for block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}

	client := p.withContext(ctx)
	var errs []error
	for _, server := range all {
		err := servers.Delete(client, server.ID).ExtractErr()
		var notFound gophercloud.ErrDefault404
		if err != nil && !errors.As(err, &notFound) {
			errs = append(errs, fmt.Errorf("failed to delete server '%s': %w", server.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provisioner) List(ctx context.Context, site string) ([]lifecycle.Instance, error) {
	all, err := p.servers(ctx, fmt.Sprintf("^%s-", regexp.QuoteMeta(site)), map[string]string{internal.SiteTag: site})
	if err != nil {
		return nil, err
	}

	return internal.Group(lo.Map(all, func(server servers.Server, _ int) internal.Node {
		return internal.Node{
			Block:        server.Metadata[internal.BlockTag],
			NativeStatus: server.Status,
			CreatedAt:    server.Created,
		}
	}), precedence), nil
}
