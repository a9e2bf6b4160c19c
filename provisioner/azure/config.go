package azure

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/compute/mgmt/2018-10-01/compute"
	"github.com/Azure/go-autorest/autorest/to"
)

type Config struct {
	Logger *slog.Logger

	// Username and Password authenticate a user of the tenant. A service
	// principal secret is read from AZURE_CLIENT_SECRET when Password is empty.
	Username       string
	Password       string
	ClientID       string
	TenantID       string
	SubscriptionID string

	ResourceGroup string
	Location      string
	SubnetID      string
	// Image is publisher:offer:sku:version
	Image         string
	AdminUsername string
	SSHPublicKey  string
}

func (c Config) imageReference() (*compute.ImageReference, error) {
	parts := strings.Split(c.Image, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("image '%s' is not formatted as publisher:offer:sku:version", c.Image)
	}
	return &compute.ImageReference{
		Publisher: to.StringPtr(parts[0]),
		Offer:     to.StringPtr(parts[1]),
		Sku:       to.StringPtr(parts[2]),
		Version:   to.StringPtr(parts[3]),
	}, nil
}
