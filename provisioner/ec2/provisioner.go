package ec2

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/gammadia/blockpool/lifecycle"
	"github.com/gammadia/blockpool/provisioner/internal"
	"github.com/gammadia/blockpool/status"
	"github.com/samber/lo"
)

var statusTable = status.Table{
	ec2.InstanceStateNamePending:      status.Pending,
	ec2.InstanceStateNameRunning:      status.Running,
	ec2.InstanceStateNameStopping:     status.Running,
	ec2.InstanceStateNameStopped:      status.Completed,
	ec2.InstanceStateNameShuttingDown: status.Cancelled,
	ec2.InstanceStateNameTerminated:   status.Cancelled,
}

var precedence = []string{
	ec2.InstanceStateNamePending,
	ec2.InstanceStateNameRunning,
	ec2.InstanceStateNameStopping,
	ec2.InstanceStateNameStopped,
	ec2.InstanceStateNameShuttingDown,
	ec2.InstanceStateNameTerminated,
}

// Provisioner launches the nodes of a block in a single reservation, whose id
// is the block id.
type Provisioner struct {
	config Config
	sdk    ec2iface.EC2API
	log    *slog.Logger
}

// Provisioner implements lifecycle.Backend
var _ lifecycle.Backend = (*Provisioner)(nil)
var _ lifecycle.Lister = (*Provisioner)(nil)
var _ lifecycle.StatusTabler = (*Provisioner)(nil)

func NewProvisioner(config Config) (*Provisioner, error) {
	opts := session.Options{
		Config:            aws.Config{Region: aws.String(config.Region)},
		SharedConfigState: session.SharedConfigEnable,
	}
	switch {
	case config.KeyFile != "":
		creds, err := loadKeyFile(config.KeyFile)
		if err != nil {
			return nil, err
		}
		opts.Config.Credentials = creds
	case config.Profile != "":
		opts.Profile = config.Profile
	}

	sess, err := session.NewSessionWithOptions(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return NewProvisionerWithClient(config, ec2.New(sess)), nil
}

func NewProvisionerWithClient(config Config, sdk ec2iface.EC2API) *Provisioner {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Provisioner{
		config: config,
		sdk:    sdk,
		log:    logger,
	}
}

func (p *Provisioner) StatusTable() status.Table {
	return statusTable
}

func (p *Provisioner) Create(ctx context.Context, spec lifecycle.BlockSpec) (string, error) {
	nodes := int64(max(1, spec.Nodes))

	tags := []*ec2.Tag{{Key: aws.String("Name"), Value: aws.String(spec.Name)}}
	for key, value := range internal.Tags(spec.Site, spec.Name) {
		tags = append(tags, &ec2.Tag{Key: aws.String(key), Value: aws.String(value)})
	}

	in := &ec2.RunInstancesInput{
		ImageId:                           aws.String(p.config.ImageID),
		InstanceType:                      aws.String(spec.InstanceType),
		MinCount:                          aws.Int64(nodes),
		MaxCount:                          aws.Int64(nodes),
		UserData:                          aws.String(base64.StdEncoding.EncodeToString([]byte(spec.UserData))),
		InstanceInitiatedShutdownBehavior: aws.String(ec2.ShutdownBehaviorTerminate),
		TagSpecifications: []*ec2.TagSpecification{
			{
				ResourceType: aws.String(ec2.ResourceTypeInstance),
				Tags:         tags,
			},
		},
	}
	if p.config.KeyName != "" {
		in.KeyName = aws.String(p.config.KeyName)
	}
	if p.config.SubnetID != "" {
		in.SubnetId = aws.String(p.config.SubnetID)
	}
	if len(p.config.SecurityGroups) > 0 {
		in.SecurityGroupIds = aws.StringSlice(p.config.SecurityGroups)
	}
	if p.config.SpotMaxBid != "" {
		in.InstanceMarketOptions = &ec2.InstanceMarketOptionsRequest{
			MarketType: aws.String(ec2.MarketTypeSpot),
			SpotOptions: &ec2.SpotMarketOptionsRequest{
				MaxPrice:                     aws.String(p.config.SpotMaxBid),
				SpotInstanceType:             aws.String(ec2.SpotInstanceTypeOneTime),
				InstanceInterruptionBehavior: aws.String(ec2.InstanceInterruptionBehaviorTerminate),
			},
		}
	}

	out, err := p.sdk.RunInstancesWithContext(ctx, in)
	if err != nil {
		return "", classify(fmt.Errorf("failed to run instances for block '%s': %w", spec.Name, err))
	}

	for _, instance := range out.Instances {
		p.log.Debug("Launched instance", "block", spec.Name, "instance", aws.StringValue(instance.InstanceId))
	}
	return aws.StringValue(out.ReservationId), nil
}

// classify marks rejected requests as permanent. Throttling is retried.
func classify(err error) error {
	var failure awserr.RequestFailure
	if !errors.As(err, &failure) {
		return err
	}

	code := failure.StatusCode()
	throttled := code == http.StatusTooManyRequests || lo.Contains([]string{"Throttling", "RequestLimitExceeded"}, failure.Code())
	if code >= 400 && code < 500 && !throttled {
		return lifecycle.Permanent(err)
	}
	return err
}

func (p *Provisioner) instances(ctx context.Context, filters ...*ec2.Filter) ([]*ec2.Instance, error) {
	var all []*ec2.Instance
	err := p.sdk.DescribeInstancesPagesWithContext(ctx, &ec2.DescribeInstancesInput{Filters: filters}, func(page *ec2.DescribeInstancesOutput, _ bool) bool {
		for _, reservation := range page.Reservations {
			all = append(all, reservation.Instances...)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances: %w", err)
	}
	return all, nil
}

func stateOf(instance *ec2.Instance) string {
	if instance.State == nil {
		return ""
	}
	return aws.StringValue(instance.State.Name)
}

func (p *Provisioner) reservation(ctx context.Context, id string) ([]*ec2.Instance, error) {
	all, err := p.instances(ctx, &ec2.Filter{Name: aws.String("reservation-id"), Values: aws.StringSlice([]string{id})})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no instance in reservation '%s': %w", id, lifecycle.ErrBlockNotFound)
	}
	return all, nil
}

func (p *Provisioner) Describe(ctx context.Context, id string) (string, error) {
	all, err := p.reservation(ctx, id)
	if err != nil {
		return "", err
	}
	return internal.Collapse(lo.Map(all, func(instance *ec2.Instance, _ int) string {
		return stateOf(instance)
	}), precedence), nil
}

func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	all, err := p.reservation(ctx, id)
	if err != nil {
		return err
	}

	alive := lo.FilterMap(all, func(instance *ec2.Instance, _ int) (*string, bool) {
		return instance.InstanceId, stateOf(instance) != ec2.InstanceStateNameTerminated
	})
	if len(alive) == 0 {
		return fmt.Errorf("every instance of reservation '%s' is terminated: %w", id, lifecycle.ErrBlockNotFound)
	}

	if _, err := p.sdk.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{InstanceIds: alive}); err != nil {
		return classify(fmt.Errorf("failed to terminate reservation '%s': %w", id, err))
	}
	return nil
}

func (p *Provisioner) List(ctx context.Context, site string) ([]lifecycle.Instance, error) {
	var nodes []internal.Node
	err := p.sdk.DescribeInstancesPagesWithContext(ctx, &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{
			{Name: aws.String("tag:" + internal.SiteTag), Values: aws.StringSlice([]string{site})},
			{Name: aws.String("instance-state-name"), Values: aws.StringSlice(lo.Without(precedence, ec2.InstanceStateNameTerminated))},
		},
	}, func(page *ec2.DescribeInstancesOutput, _ bool) bool {
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				nodes = append(nodes, internal.Node{
					ID:           aws.StringValue(reservation.ReservationId),
					Block:        findTag(instance.Tags, internal.BlockTag),
					NativeStatus: stateOf(instance),
					CreatedAt:    aws.TimeValue(instance.LaunchTime).UTC(),
				})
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instances of site '%s': %w", site, err)
	}

	return internal.Group(nodes, precedence), nil
}

func findTag(tags []*ec2.Tag, key string) string {
	tag, _ := lo.Find(tags, func(tag *ec2.Tag) bool {
		return aws.StringValue(tag.Key) == key
	})
	if tag == nil {
		return ""
	}
	return aws.StringValue(tag.Value)
}
