// Package provisioner builds the backend selected by the configuration.
package provisioner

import (
	"fmt"
	"log/slog"

	"github.com/gammadia/blockpool/config"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/azure"
	"github.com/gammadia/blockpool/provisioner/digitalocean"
	"github.com/gammadia/blockpool/provisioner/ec2"
	"github.com/gammadia/blockpool/provisioner/fake"
	"github.com/gammadia/blockpool/provisioner/local"
	"github.com/gammadia/blockpool/provisioner/openstack"
)

func New(cfg config.Config, logger *slog.Logger) (lifecycle.Backend, error) {
	logger = logger.With("component", "provisioner", "provisioner", cfg.Provisioner)

	switch cfg.Provisioner {
	case "ec2":
		return backend(ec2.NewProvisioner(ec2.Config{
			Logger:         logger,
			Region:         cfg.Region,
			Profile:        cfg.EC2.Profile,
			KeyFile:        cfg.EC2.KeyFile,
			ImageID:        cfg.EC2.ImageID,
			KeyName:        cfg.EC2.KeyName,
			SubnetID:       cfg.EC2.SubnetID,
			SecurityGroups: cfg.EC2.SecurityGroups,
			SpotMaxBid:     cfg.EC2.SpotMaxBid,
		}))

	case "azure":
		return backend(azure.NewProvisioner(azure.Config{
			Logger:         logger,
			Username:       cfg.Azure.Username,
			Password:       cfg.Azure.Password,
			ClientID:       cfg.Azure.ClientID,
			TenantID:       cfg.Azure.TenantID,
			SubscriptionID: cfg.Azure.SubscriptionID,
			ResourceGroup:  cfg.Azure.ResourceGroup,
			Location:       cfg.Azure.Location,
			SubnetID:       cfg.Azure.SubnetID,
			Image:          cfg.Azure.Image,
			AdminUsername:  cfg.Azure.AdminUsername,
			SSHPublicKey:   cfg.Azure.SSHPublicKey,
		}))

	case "openstack":
		return backend(openstack.NewProvisioner(openstack.Config{
			Logger:         logger,
			Image:          cfg.OpenStack.Image,
			Networks:       openstack.Networks(cfg.OpenStack.Networks),
			SecurityGroups: cfg.OpenStack.SecurityGroups,
			KeyName:        cfg.OpenStack.KeyName,
			Region:         cfg.Region,
		}))

	case "digitalocean":
		return backend(digitalocean.NewProvisioner(digitalocean.Config{
			Logger:  logger,
			Token:   cfg.DigitalOcean.Token,
			Image:   cfg.DigitalOcean.Image,
			SSHKeys: cfg.DigitalOcean.SSHKeys,
		}))

	case "local":
		return backend(local.NewProvisioner(local.Config{
			Logger:  logger,
			Image:   cfg.Local.Image,
			Network: cfg.Local.Network,
		}))

	case "fake":
		b := fake.New(cfg.Fake.Statuses)
		b.Fail(fake.Create, cfg.Fake.FailCreates)
		return b, nil

	default:
		return nil, &config.Error{Option: config.Provisioner, Reason: fmt.Sprintf("'%s' is not supported", cfg.Provisioner)}
	}
}

// backend keeps a failed constructor from returning a non-nil interface.
func backend[T lifecycle.Backend](b T, err error) (lifecycle.Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
