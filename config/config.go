package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gammadia/blockpool/state"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Provisioners lists the supported backends.
var Provisioners = []string{"ec2", "azure", "openstack", "digitalocean", "local", "fake"}

// Error is a configuration problem, reported as "<option> <reason>".
type Error struct {
	Option string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s", e.Option, e.Reason)
}

type Config struct {
	Site        string `json:"site"`
	Provisioner string `json:"provisioner"`

	Nodes        int           `json:"nodes"`
	TaskBlocks   string        `json:"task-blocks"`
	Walltime     time.Duration `json:"walltime"`
	InitBlocks   int           `json:"init-blocks"`
	MinBlocks    int           `json:"min-blocks"`
	MaxBlocks    int           `json:"max-blocks"`
	InstanceType string        `json:"instance-type"`
	Region       string        `json:"region"`

	StateFile    string `json:"state-file"`
	StateBackend string `json:"state-backend"`
	RedisURL     string `json:"redis-url"`
	RedisPrefix  string `json:"redis-prefix"`

	StatusMaxAge     time.Duration `json:"status-max-age"`
	OperationTimeout time.Duration `json:"operation-timeout"`
	RetryAttempts    int           `json:"retry-attempts"`
	RetryDelay       time.Duration `json:"retry-delay"`
	PollInterval     time.Duration `json:"poll-interval"`

	Script         string `json:"script"`
	ScriptTemplate string `json:"script-template"`

	EC2          EC2          `json:"ec2"`
	Azure        Azure        `json:"azure"`
	OpenStack    OpenStack    `json:"openstack"`
	DigitalOcean DigitalOcean `json:"digitalocean"`
	Local        Local        `json:"local"`
	Fake         Fake         `json:"fake"`
}

type EC2 struct {
	Profile        string   `json:"profile"`
	KeyFile        string   `json:"key-file"`
	ImageID        string   `json:"image-id"`
	KeyName        string   `json:"key-name"`
	SubnetID       string   `json:"subnet-id"`
	SecurityGroups []string `json:"security-groups"`
	SpotMaxBid     string   `json:"spot-max-bid"`
}

type Azure struct {
	Username       string `json:"username"`
	Password       string `json:"-"`
	ClientID       string `json:"client-id"`
	TenantID       string `json:"tenant-id"`
	SubscriptionID string `json:"subscription-id"`
	ResourceGroup  string `json:"resource-group"`
	Location       string `json:"location"`
	SubnetID       string `json:"subnet-id"`
	Image          string `json:"image"`
	AdminUsername  string `json:"admin-username"`
	SSHPublicKey   string `json:"ssh-public-key"`
}

type OpenStack struct {
	Image          string   `json:"image"`
	Networks       []string `json:"networks"`
	SecurityGroups []string `json:"security-groups"`
	KeyName        string   `json:"key-name"`
}

type DigitalOcean struct {
	Token   string   `json:"-"`
	Image   string   `json:"image"`
	SSHKeys []string `json:"ssh-keys"`
}

type Local struct {
	Image   string `json:"image"`
	Network string `json:"network"`
}

type Fake struct {
	// Statuses is the sequence of native codes reported by successive describes.
	Statuses    []string `json:"statuses"`
	FailCreates int      `json:"fail-creates"`
}

// Load resolves the configuration from v and validates it.
func Load(v *viper.Viper) (Config, error) {
	walltime, err := ParseWalltime(v.GetString(Walltime))
	if err != nil {
		return Config{}, &Error{Option: Walltime, Reason: err.Error()}
	}

	config := Config{
		Site:        strings.TrimSpace(v.GetString(Site)),
		Provisioner: strings.ToLower(v.GetString(Provisioner)),

		Nodes:        v.GetInt(Nodes),
		TaskBlocks:   v.GetString(TaskBlocks),
		Walltime:     walltime,
		InitBlocks:   v.GetInt(InitBlocks),
		MinBlocks:    v.GetInt(MinBlocks),
		MaxBlocks:    v.GetInt(MaxBlocks),
		InstanceType: v.GetString(InstanceType),
		Region:       v.GetString(Region),

		StateFile:    v.GetString(StateFile),
		StateBackend: v.GetString(StateBackend),
		RedisURL:     v.GetString(RedisURL),
		RedisPrefix:  v.GetString(RedisPrefix),

		StatusMaxAge:     v.GetDuration(StatusMaxAge),
		OperationTimeout: v.GetDuration(OperationTimeout),
		RetryAttempts:    v.GetInt(RetryAttempts),
		RetryDelay:       v.GetDuration(RetryDelay),
		PollInterval:     v.GetDuration(PollInterval),

		Script:         v.GetString(Script),
		ScriptTemplate: v.GetString(ScriptTemplate),

		EC2: EC2{
			Profile:        v.GetString(EC2Profile),
			KeyFile:        v.GetString(EC2KeyFile),
			ImageID:        v.GetString(EC2ImageID),
			KeyName:        v.GetString(EC2KeyName),
			SubnetID:       v.GetString(EC2SubnetID),
			SecurityGroups: v.GetStringSlice(EC2SecurityGroups),
			SpotMaxBid:     v.GetString(EC2SpotMaxBid),
		},
		Azure: Azure{
			Username:       v.GetString(AzureUsername),
			Password:       v.GetString(AzurePassword),
			ClientID:       v.GetString(AzureClientID),
			TenantID:       v.GetString(AzureTenantID),
			SubscriptionID: v.GetString(AzureSubscriptionID),
			ResourceGroup:  v.GetString(AzureResourceGroup),
			Location:       v.GetString(AzureLocation),
			SubnetID:       v.GetString(AzureSubnetID),
			Image:          v.GetString(AzureImage),
			AdminUsername:  v.GetString(AzureAdminUsername),
			SSHPublicKey:   v.GetString(AzureSSHPublicKey),
		},
		OpenStack: OpenStack{
			Image:          v.GetString(OpenstackImage),
			Networks:       v.GetStringSlice(OpenstackNetworks),
			SecurityGroups: v.GetStringSlice(OpenstackSecurityGroups),
			KeyName:        v.GetString(OpenstackKeyName),
		},
		DigitalOcean: DigitalOcean{
			Token:   v.GetString(DigitalOceanToken),
			Image:   v.GetString(DigitalOceanImage),
			SSHKeys: v.GetStringSlice(DigitalOceanSSHKeys),
		},
		Local: Local{
			Image:   v.GetString(LocalImage),
			Network: v.GetString(LocalNetwork),
		},
		Fake: Fake{
			Statuses:    v.GetStringSlice(FakeStatuses),
			FailCreates: v.GetInt(FakeFailCreates),
		},
	}

	if config.StateFile == "" && config.Site != "" {
		config.StateFile = state.DefaultPath(config.Provisioner, config.Site)
	}

	if err := Validate(config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func Validate(config Config) error {
	if config.Site == "" {
		return &Error{Option: Site, Reason: "is required"}
	}
	if !lo.Contains(Provisioners, config.Provisioner) {
		return &Error{Option: Provisioner, Reason: fmt.Sprintf("must be one of %s", strings.Join(Provisioners, ", "))}
	}
	if config.Nodes < 1 {
		return &Error{Option: Nodes, Reason: "must be greater than 0"}
	}
	if config.MaxBlocks < 1 {
		return &Error{Option: MaxBlocks, Reason: "must be greater than 0"}
	}
	if config.MinBlocks < 0 {
		return &Error{Option: MinBlocks, Reason: "must not be negative"}
	}
	if config.MinBlocks > config.MaxBlocks {
		return &Error{Option: MinBlocks, Reason: "must not exceed max-blocks"}
	}
	if config.InitBlocks < 0 {
		return &Error{Option: InitBlocks, Reason: "must not be negative"}
	}
	if config.InitBlocks > config.MaxBlocks {
		return &Error{Option: InitBlocks, Reason: "must not exceed max-blocks"}
	}
	if strings.TrimSpace(config.TaskBlocks) == "" {
		return &Error{Option: TaskBlocks, Reason: "must not be empty"}
	}
	if config.OperationTimeout <= 0 {
		return &Error{Option: OperationTimeout, Reason: "must be greater than 0"}
	}
	if config.RetryAttempts < 1 {
		return &Error{Option: RetryAttempts, Reason: "must be greater than 0"}
	}
	if config.RetryDelay < 0 {
		return &Error{Option: RetryDelay, Reason: "must not be negative"}
	}
	if config.PollInterval <= 0 {
		return &Error{Option: PollInterval, Reason: "must be greater than 0"}
	}
	if config.StatusMaxAge < 0 {
		return &Error{Option: StatusMaxAge, Reason: "must not be negative"}
	}

	switch config.StateBackend {
	case "file":
		if config.StateFile == "" {
			return &Error{Option: StateFile, Reason: "is required"}
		}
	case "redis":
		if config.RedisURL == "" {
			return &Error{Option: RedisURL, Reason: "is required"}
		}
	default:
		return &Error{Option: StateBackend, Reason: "must be one of file, redis"}
	}

	return validateProvisioner(config)
}

func validateProvisioner(config Config) error {
	required := func(option, value string) error {
		if value == "" {
			return &Error{Option: option, Reason: fmt.Sprintf("is required by the %s provisioner", config.Provisioner)}
		}
		return nil
	}

	switch config.Provisioner {
	case "ec2":
		return required(EC2ImageID, config.EC2.ImageID)
	case "azure":
		for _, option := range []lo.Tuple2[string, string]{
			lo.T2(AzureSubscriptionID, config.Azure.SubscriptionID),
			lo.T2(AzureResourceGroup, config.Azure.ResourceGroup),
			lo.T2(AzureLocation, config.Azure.Location),
			lo.T2(AzureSubnetID, config.Azure.SubnetID),
			lo.T2(AzureImage, config.Azure.Image),
		} {
			if err := required(option.A, option.B); err != nil {
				return err
			}
		}
		if len(strings.Split(config.Azure.Image, ":")) != 4 {
			return &Error{Option: AzureImage, Reason: "must be formatted as publisher:offer:sku:version"}
		}
	case "openstack":
		return required(OpenstackImage, config.OpenStack.Image)
	case "digitalocean":
		if err := required(DigitalOceanToken, config.DigitalOcean.Token); err != nil {
			return err
		}
		return required(DigitalOceanImage, config.DigitalOcean.Image)
	case "local":
		return required(LocalImage, config.Local.Image)
	}
	return nil
}
