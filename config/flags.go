package config

import (
	"strings"
	"time"

	"github.com/samber/lo"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "blockpool"

const (
	Site        = "site"
	Provisioner = "provisioner"

	Nodes        = "nodes"
	TaskBlocks   = "task-blocks"
	Walltime     = "walltime"
	InitBlocks   = "init-blocks"
	MinBlocks    = "min-blocks"
	MaxBlocks    = "max-blocks"
	InstanceType = "instance-type"
	Region       = "region"

	StateFile    = "state-file"
	StateBackend = "state-backend"
	RedisURL     = "redis-url"
	RedisPrefix  = "redis-prefix"

	StatusMaxAge     = "status-max-age"
	OperationTimeout = "operation-timeout"
	RetryAttempts    = "retry-attempts"
	RetryDelay       = "retry-delay"
	PollInterval     = "poll-interval"

	Script         = "script"
	ScriptTemplate = "script-template"

	EC2Profile        = "ec2-profile"
	EC2KeyFile        = "ec2-key-file"
	EC2ImageID        = "ec2-image-id"
	EC2KeyName        = "ec2-key-name"
	EC2SubnetID       = "ec2-subnet-id"
	EC2SecurityGroups = "ec2-security-groups"
	EC2SpotMaxBid     = "ec2-spot-max-bid"

	AzureUsername       = "azure-username"
	AzurePassword       = "azure-password"
	AzureClientID       = "azure-client-id"
	AzureTenantID       = "azure-tenant-id"
	AzureSubscriptionID = "azure-subscription-id"
	AzureResourceGroup  = "azure-resource-group"
	AzureLocation       = "azure-location"
	AzureSubnetID       = "azure-subnet-id"
	AzureImage          = "azure-image"
	AzureAdminUsername  = "azure-admin-username"
	AzureSSHPublicKey   = "azure-ssh-public-key"

	OpenstackImage          = "openstack-image"
	OpenstackNetworks       = "openstack-networks"
	OpenstackSecurityGroups = "openstack-security-groups"
	OpenstackKeyName        = "openstack-key-name"

	DigitalOceanToken   = "digitalocean-token"
	DigitalOceanImage   = "digitalocean-image"
	DigitalOceanSSHKeys = "digitalocean-ssh-keys"

	LocalImage   = "local-image"
	LocalNetwork = "local-network"

	FakeStatuses    = "fake-statuses"
	FakeFailCreates = "fake-fail-creates"
)

// AddFlags declares every option on flags, with its default.
func AddFlags(flags *flag.FlagSet) {
	// Blocks
	flags.String(Site, "", "name of the site the blocks belong to")
	flags.String(Provisioner, "local", "backend provisioning the blocks (ec2, azure, openstack, digitalocean, local, fake)")
	flags.Int(Nodes, 1, "number of nodes per block")
	flags.String(TaskBlocks, "1", "number of workers per node, may be a shell expression such as $(($CORES / 2))")
	flags.String(Walltime, "00:20:00", "maximum lifetime of a block (HH:MM:SS)")
	flags.Int(InitBlocks, 0, "number of blocks provisioned on startup")
	flags.Int(MinBlocks, 0, "minimum number of blocks (advisory)")
	flags.Int(MaxBlocks, 1, "maximum number of blocks tracked at once")
	flags.String(InstanceType, "t2.small", "instance type, flavor or size of the nodes")
	flags.String(Region, "", "region of the nodes, backend default when empty")

	// State
	flags.String(StateFile, "", "state file path (default .<provisioner>site_<site>.json)")
	flags.String(StateBackend, "file", "where the state is persisted (file, redis)")
	flags.String(RedisURL, "redis://127.0.0.1:6379", "redis server holding the state")
	flags.String(RedisPrefix, "blockpool:", "prefix of the redis keys")

	// Operations
	flags.Duration(StatusMaxAge, 30*time.Second, "how old a cached status may be before it is polled again")
	flags.Duration(OperationTimeout, 5*time.Minute, "time limit of a backend operation, retries included")
	flags.Int(RetryAttempts, 5, "maximum number of attempts of a backend call")
	flags.Duration(RetryDelay, 100*time.Millisecond, "delay before the first retry, doubled after each attempt")
	flags.Duration(PollInterval, time.Minute, "how often the daemon polls and reaps blocks")

	// Bootstrap
	flags.String(Script, "", "command run on each node once it is up")
	flags.String(ScriptTemplate, "", "bootstrap script template, built-in when empty")

	// EC2
	flags.String(EC2Profile, "", "aws profile holding the credentials")
	flags.String(EC2KeyFile, "", "file holding AWSAccessKeyId and AWSSecretKey")
	flags.String(EC2ImageID, "", "AMI of the nodes")
	flags.String(EC2KeyName, "", "key pair installed on the nodes")
	flags.String(EC2SubnetID, "", "subnet the nodes are started in")
	flags.StringSlice(EC2SecurityGroups, nil, "security group ids of the nodes")
	flags.String(EC2SpotMaxBid, "", "request spot instances with this maximum price")

	// Azure
	flags.String(AzureUsername, "", "azure account username")
	flags.String(AzurePassword, "", "azure account password")
	flags.String(AzureClientID, "", "azure application client id")
	flags.String(AzureTenantID, "", "azure tenant id")
	flags.String(AzureSubscriptionID, "", "azure subscription id")
	flags.String(AzureResourceGroup, "", "resource group holding the nodes")
	flags.String(AzureLocation, "", "azure location of the nodes")
	flags.String(AzureSubnetID, "", "subnet resource id the nodes are attached to")
	flags.String(AzureImage, "", "image reference (publisher:offer:sku:version)")
	flags.String(AzureAdminUsername, "blockpool", "admin user created on the nodes")
	flags.String(AzureSSHPublicKey, "", "ssh public key authorized for the admin user")

	// Openstack
	flags.String(OpenstackImage, "", "image to use for provisioning")
	flags.StringSlice(OpenstackNetworks, nil, "networks attached to the nodes")
	flags.StringSlice(OpenstackSecurityGroups, nil, "security groups defined for the nodes")
	flags.String(OpenstackKeyName, "", "key pair installed on the nodes")

	// DigitalOcean
	flags.String(DigitalOceanToken, "", "digitalocean api token")
	flags.String(DigitalOceanImage, "", "droplet image slug")
	flags.StringSlice(DigitalOceanSSHKeys, nil, "ssh key fingerprints installed on the droplets")

	// Local
	flags.String(LocalImage, "", "docker image of the nodes")
	flags.String(LocalNetwork, "", "docker network the nodes are attached to")

	// Fake
	flags.StringSlice(FakeStatuses, []string{"PD", "R", "CD"}, "native statuses reported by successive polls")
	flags.Int(FakeFailCreates, 0, "number of create calls failing before the first success")
}

// Bind creates a viper instance resolving the options from flags, then from
// BLOCKPOOL_* environment variables, then from the defaults.
func Bind(flags *flag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	lo.Must0(v.BindPFlags(flags))
	return v
}
