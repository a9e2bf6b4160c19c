package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/services/compute/mgmt/2018-10-01/compute"
	"github.com/Azure/azure-sdk-for-go/services/network/mgmt/2018-12-01/network"
	"github.com/Azure/go-autorest/autorest"
	"github.com/Azure/go-autorest/autorest/adal"
	"github.com/Azure/go-autorest/autorest/azure"
	"github.com/Azure/go-autorest/autorest/to"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/samber/lo"
)

// cloud is the part of the resource manager API the provisioner relies on.
type cloud interface {
	createInterface(ctx context.Context, name string, tags map[string]*string) (id string, err error)
	deleteInterface(ctx context.Context, name string) error
	createVM(ctx context.Context, vm compute.VirtualMachine) error
	deleteVM(ctx context.Context, name string) error
	listVMs(ctx context.Context) ([]compute.VirtualMachine, error)
	// powerState returns the last segment of the VM power state code, or of
	// its provisioning state when no power state is reported yet.
	powerState(ctx context.Context, name string) (string, error)
}

type cloudConnector struct {
	resourceGroup string
	location      string
	subnetID      string

	vmClient         compute.VirtualMachinesClient
	interfacesClient network.InterfacesClient
}

func newConnector(config Config) (*cloudConnector, error) {
	oauthConfig, err := adal.NewOAuthConfig(azure.PublicCloud.ActiveDirectoryEndpoint, config.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to configure azure oauth: %w", err)
	}

	baseURI := azure.PublicCloud.ResourceManagerEndpoint
	var spt *adal.ServicePrincipalToken
	if config.Password != "" {
		spt, err = adal.NewServicePrincipalTokenFromUsernamePassword(*oauthConfig, config.ClientID, config.Username, config.Password, baseURI)
	} else {
		spt, err = adal.NewServicePrincipalToken(*oauthConfig, config.ClientID, os.Getenv("AZURE_CLIENT_SECRET"), baseURI)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get azure token: %w", err)
	}

	vmClient := compute.NewVirtualMachinesClientWithBaseURI(baseURI, config.SubscriptionID)
	vmClient.Authorizer = autorest.NewBearerAuthorizer(spt)

	interfacesClient := network.NewInterfacesClientWithBaseURI(baseURI, config.SubscriptionID)
	interfacesClient.Authorizer = autorest.NewBearerAuthorizer(spt)

	return &cloudConnector{
		resourceGroup:    config.ResourceGroup,
		location:         config.Location,
		subnetID:         config.SubnetID,
		vmClient:         vmClient,
		interfacesClient: interfacesClient,
	}, nil
}

func (conn *cloudConnector) createInterface(ctx context.Context, name string, tags map[string]*string) (string, error) {
	f, err := conn.interfacesClient.CreateOrUpdate(ctx, conn.resourceGroup, name, network.Interface{
		Location: to.StringPtr(conn.location),
		InterfacePropertiesFormat: &network.InterfacePropertiesFormat{
			IPConfigurations: &[]network.InterfaceIPConfiguration{
				{
					Name: to.StringPtr("ipconfig"),
					InterfaceIPConfigurationPropertiesFormat: &network.InterfaceIPConfigurationPropertiesFormat{
						Subnet:                    &network.Subnet{ID: to.StringPtr(conn.subnetID)},
						PrivateIPAllocationMethod: network.Dynamic,
					},
				},
			},
		},
		Tags: tags,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create network interface '%s': %w", name, err)
	}

	if err := f.WaitForCompletionRef(ctx, conn.interfacesClient.Client); err != nil {
		return "", fmt.Errorf("failed to wait for network interface '%s': %w", name, err)
	}

	nic, err := f.Result(conn.interfacesClient)
	if err != nil {
		return "", fmt.Errorf("failed to get network interface '%s': %w", name, err)
	}
	return to.String(nic.ID), nil
}

func (conn *cloudConnector) deleteInterface(ctx context.Context, name string) error {
	f, err := conn.interfacesClient.Delete(ctx, conn.resourceGroup, name)
	if err != nil {
		return fmt.Errorf("failed to delete network interface '%s': %w", name, err)
	}
	return f.WaitForCompletionRef(ctx, conn.interfacesClient.Client)
}

func (conn *cloudConnector) createVM(ctx context.Context, vm compute.VirtualMachine) error {
	vm.Location = to.StringPtr(conn.location)

	name := to.String(vm.Name)
	f, err := conn.vmClient.CreateOrUpdate(ctx, conn.resourceGroup, name, vm)
	if err != nil {
		return fmt.Errorf("failed to create virtual machine '%s': %w", name, err)
	}
	if err := f.WaitForCompletionRef(ctx, conn.vmClient.Client); err != nil {
		return fmt.Errorf("failed to wait for virtual machine '%s': %w", name, err)
	}
	return nil
}

func (conn *cloudConnector) deleteVM(ctx context.Context, name string) error {
	f, err := conn.vmClient.Delete(ctx, conn.resourceGroup, name)
	if err != nil {
		return fmt.Errorf("failed to delete virtual machine '%s': %w", name, err)
	}
	return f.WaitForCompletionRef(ctx, conn.vmClient.Client)
}

func (conn *cloudConnector) listVMs(ctx context.Context) ([]compute.VirtualMachine, error) {
	var vms []compute.VirtualMachine
	page, err := conn.vmClient.List(ctx, conn.resourceGroup)
	for err == nil && page.NotDone() {
		vms = append(vms, page.Values()...)
		err = page.NextWithContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual machines: %w", err)
	}
	return vms, nil
}

func (conn *cloudConnector) powerState(ctx context.Context, name string) (string, error) {
	view, err := conn.vmClient.InstanceView(ctx, conn.resourceGroup, name)
	if err != nil {
		return "", fmt.Errorf("failed to get instance view of '%s': %w", name, err)
	}
	if view.Statuses == nil {
		return stateCreating, nil
	}
	return stateFromStatuses(*view.Statuses), nil
}

func stateFromStatuses(statuses []compute.InstanceViewStatus) string {
	codes := lo.Map(statuses, func(status compute.InstanceViewStatus, _ int) string {
		return strings.ToLower(to.String(status.Code))
	})

	for _, prefix := range []string{"powerstate/", "provisioningstate/"} {
		code, found := lo.Find(codes, func(code string) bool {
			return strings.HasPrefix(code, prefix)
		})
		if !found {
			continue
		}
		state, _, _ := strings.Cut(strings.TrimPrefix(code, prefix), "/")
		// A provisioning state only matters when it is not a success.
		if prefix == "provisioningstate/" && (state == "succeeded" || state == "updating") {
			return stateCreating
		}
		return state
	}
	return stateCreating
}

func isNotFound(err error) bool {
	var detailed autorest.DetailedError
	return errors.As(err, &detailed) && detailed.StatusCode == http.StatusNotFound
}

// classify marks rejected requests other than rate limiting as permanent.
func classify(err error) error {
	var detailed autorest.DetailedError
	if !errors.As(err, &detailed) {
		return err
	}
	code, ok := detailed.StatusCode.(int)
	if ok && code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusNotFound {
		return lifecycle.Permanent(err)
	}
	return err
}
