package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/digitalocean/godo"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

const DefaultRegion = "nyc3"

var statusTable = status.Table{
	"new":     status.Pending,
	"active":  status.Running,
	"off":     status.Completed,
	"archive": status.Cancelled,
}

var precedence = []string{"new", "active", "off", "archive"}

type Config struct {
	Logger *slog.Logger

	Token string
	Image string
	// SSHKeys are fingerprints of keys registered on the account.
	SSHKeys []string
}

// Provisioner creates one droplet per node. Droplets of a block share a tag
// named after the block, which is the block id.
type Provisioner struct {
	config Config
	client *godo.Client
	log    *slog.Logger
}

// Provisioner implements lifecycle.Backend
var _ lifecycle.Backend = (*Provisioner)(nil)
var _ lifecycle.Lister = (*Provisioner)(nil)
var _ lifecycle.StatusTabler = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	if config.Token == "" {
		return nil, errors.New("digitalocean token is required")
	}

	oauthClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: config.Token,
	}))
	return NewProvisionerWithClient(config, godo.NewClient(oauthClient)), nil
}

func NewProvisionerWithClient(config Config, client *godo.Client) *Provisioner {
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

func siteTag(site string) string {
	return fmt.Sprintf("%s:%s", internal.SiteTag, site)
}

func (p *Provisioner) StatusTable() status.Table {
	return statusTable
}

func (p *Provisioner) Create(ctx context.Context, spec lifecycle.BlockSpec) (string, error) {
	names := lo.Times(max(1, spec.Nodes), func(i int) string {
		return internal.NodeName(spec.Name, i)
	})

	droplets, _, err := p.client.Droplets.CreateMultiple(ctx, &godo.DropletMultiCreateRequest{
		Names:  names,
		Region: lo.Ternary(spec.Region != "", spec.Region, DefaultRegion),
		Size:   spec.InstanceType,
		Image:  godo.DropletCreateImage{Slug: p.config.Image},
		SSHKeys: lo.Map(p.config.SSHKeys, func(fingerprint string, _ int) godo.DropletCreateSSHKey {
			return godo.DropletCreateSSHKey{Fingerprint: fingerprint}
		}),
		PrivateNetworking: true,
		UserData:          spec.UserData,
		Tags:              []string{spec.Name, siteTag(spec.Site)},
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to create droplets for block '%s': %w", spec.Name, err))
	}

	p.log.Debug("Created droplets", "block", spec.Name, "count", len(droplets))
	return spec.Name, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var response *godo.ErrorResponse
	if errors.As(err, &response) && response.Response != nil {
		code := response.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return lifecycle.Permanent(err)
		}
	}
	return err
}

func (p *Provisioner) dropletsByTag(ctx context.Context, tag string) ([]godo.Droplet, error) {
	var all []godo.Droplet
	opt := &godo.ListOptions{PerPage: 200}
	for {
		droplets, resp, err := p.client.Droplets.ListByTag(ctx, tag, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to list droplets tagged '%s': %w", tag, err)
		}
		all = append(all, droplets...)

		if resp == nil || resp.Links == nil || resp.Links.IsLastPage() {
			return all, nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("failed to read droplets page: %w", err)
		}
		opt.Page = page + 1
	}
}

func (p *Provisioner) Describe(ctx context.Context, id string) (string, error) {
	droplets, err := p.dropletsByTag(ctx, id)
	if err != nil {
		return "", err
	}
	if len(droplets) == 0 {
		return "", fmt.Errorf("no droplet tagged '%s': %w", id, lifecycle.ErrBlockNotFound)
	}

	return internal.Collapse(lo.Map(droplets, func(droplet godo.Droplet, _ int) string {
		return droplet.Status
	}), precedence), nil
}

func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	droplets, err := p.dropletsByTag(ctx, id)
	if err != nil {
		return err
	}
	if len(droplets) == 0 {
		return fmt.Errorf("no droplet tagged '%s': %w", id, lifecycle.ErrBlockNotFound)
	}

	if _, err := p.client.Droplets.DeleteByTag(ctx, id); err != nil {
		return classify(fmt.Errorf("failed to delete droplets tagged '%s': %w", id, err))
	}
	return nil
}

func (p *Provisioner) List(ctx context.Context, site string) ([]lifecycle.Instance, error) {
	tag := siteTag(site)
	droplets, err := p.dropletsByTag(ctx, tag)
	if err != nil {
		return nil, err
	}

	return internal.Group(lo.Map(droplets, func(droplet godo.Droplet, _ int) internal.Node {
		created, _ := time.Parse(time.RFC3339, droplet.Created)
		block, _ := lo.Find(droplet.Tags, func(t string) bool {
			return t != tag
		})
		return internal.Node{
			Block:        block,
			NativeStatus: droplet.Status,
			CreatedAt:    created.UTC(),
		}
	}), precedence), nil
}
