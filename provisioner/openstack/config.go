package openstack

import (
	"log/slog"

	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type Config struct {
	Logger *slog.Logger

	Image          string
	Networks       []servers.Network
	SecurityGroups []string
	KeyName        string
	Region         string
}

// Networks turns network ids into server networks.
func Networks(ids []string) []servers.Network {
	networks := make([]servers.Network, 0, len(ids))
	for _, id := range ids {
		networks = append(networks, servers.Network{UUID: id})
	}
	return networks
}
