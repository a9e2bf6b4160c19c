package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
)

// Native statuses are docker container states, plus exited-error for
// containers that exited with a non-zero code.
const exitedWithError = "exited-error"

var statusTable = status.Table{
	"created":       status.Pending,
	"restarting":    status.Pending,
	"running":       status.Running,
	"paused":        status.Running,
	"removing":      status.Cancelled,
	"exited":        status.Completed,
	exitedWithError: status.Failed,
	"dead":          status.Failed,
}

// precedence collapses the containers of a block, the least advanced first.
var precedence = []string{"dead", exitedWithError, "removing", "restarting", "created", "running", "paused", "exited"}

// Provisioner runs each node of a block as a container of the local docker daemon.
type Provisioner struct {
	config Config
	docker DockerClient
	log    *slog.Logger
}

// Provisioner implements lifecycle.Backend
var _ lifecycle.Backend = (*Provisioner)(nil)
var _ lifecycle.Lister = (*Provisioner)(nil)
var _ lifecycle.StatusTabler = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to init docker client: %w", err)
	}
	return NewProvisionerWithClient(config, docker), nil
}

func NewProvisionerWithClient(config Config, docker DockerClient) *Provisioner {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{
		config: config,
		docker: docker,
		log:    logger,
	}
}

func (p *Provisioner) StatusTable() status.Table {
	return statusTable
}

func (p *Provisioner) Create(ctx context.Context, spec lifecycle.BlockSpec) (string, error) {
	if err := p.ensureImage(ctx); err != nil {
		return "", err
	}

	var cmd []string
	if spec.UserData != "" {
		cmd = []string{"/bin/sh", "-c", spec.UserData}
	}

	var created []string
	for i := 0; i < max(1, spec.Nodes); i++ {
		name := internal.NodeName(spec.Name, i)
		labels := internal.Tags(spec.Site, spec.Name)
		labels[internal.NodeTag] = name

		resp, err := p.docker.ContainerCreate(
			ctx,
			&container.Config{
				Image:    p.config.Image,
				Cmd:      cmd,
				Hostname: name,
				Labels:   labels,
			},
			&container.HostConfig{
				NetworkMode: container.NetworkMode(p.config.Network),
			},
			nil,
			nil,
			name,
		)
		if err != nil {
			p.cleanup(created)
			return "", fmt.Errorf("failed to create container '%s': %w", name, err)
		}
		created = append(created, resp.ID)

		if err := p.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
			p.cleanup(created)
			return "", fmt.Errorf("failed to start container '%s': %w", name, err)
		}
		p.log.Debug("Started node container", "block", spec.Name, "node", name)
	}

	return spec.Name, nil
}

// cleanup removes the containers of a block that could not be created entirely.
// Uses context.Background() so cleanup isn't skipped if ctx is already cancelled.
func (p *Provisioner) cleanup(ids []string) {
	for _, id := range ids {
		if err := p.docker.ContainerRemove(context.Background(), id, container.RemoveOptions{RemoveVolumes: true, Force: true}); err != nil {
			p.log.Warn("Failed to remove container of incomplete block", "container", id, "error", err)
		}
	}
}

func (p *Provisioner) ensureImage(ctx context.Context) error {
	list, err := p.docker.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", p.config.Image)),
	})
	if err != nil {
		return fmt.Errorf("failed to list docker images: %w", err)
	}
	if len(list) > 0 {
		return nil
	}

	p.log.Info("Pulling node image", "image", p.config.Image)
	reader, err := p.docker.ImagePull(ctx, p.config.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull docker image '%s': %w", p.config.Image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (p *Provisioner) containers(ctx context.Context, label, value string) ([]container.Summary, error) {
	return p.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", fmt.Sprintf("%s=%s", label, value))),
	})
}

func (p *Provisioner) Describe(ctx context.Context, id string) (string, error) {
	containers, err := p.containers(ctx, internal.BlockTag, id)
	if err != nil {
		return "", fmt.Errorf("failed to list containers of block '%s': %w", id, err)
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("no container for block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}

	return internal.Collapse(lo.Map(containers, func(c container.Summary, _ int) string {
		return nativeStatus(c)
	}), precedence), nil
}

func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	containers, err := p.containers(ctx, internal.BlockTag, id)
	if err != nil {
		return fmt.Errorf("failed to list containers of block '%s': %w", id, err)
	}
	if len(containers) == 0 {
		return fmt.Errorf("no container for block '%s': %w", id, lifecycle.ErrBlockNotFound)
	}

	var errs []error
	for _, c := range containers {
		err := p.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{RemoveVolumes: true, Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			errs = append(errs, fmt.Errorf("failed to remove container '%s': %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Provisioner) List(ctx context.Context, site string) ([]lifecycle.Instance, error) {
	containers, err := p.containers(ctx, internal.SiteTag, site)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers of site '%s': %w", site, err)
	}

	return internal.Group(lo.Map(containers, func(c container.Summary, _ int) internal.Node {
		return internal.Node{
			Block:        c.Labels[internal.BlockTag],
			NativeStatus: nativeStatus(c),
			CreatedAt:    time.Unix(c.Created, 0).UTC(),
		}
	}), precedence), nil
}

func nativeStatus(c container.Summary) string {
	state := string(c.State)
	if state == "exited" && !strings.HasPrefix(c.Status, "Exited (0)") {
		return exitedWithError
	}
	return state
}
