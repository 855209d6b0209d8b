package iaas

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/avast/retry-go"

	epuerrors "github.com/luispineda/epu/pkg/errors"
)

// clientTokenTag is the EC2 tag EC2Driver uses to recover an instance
// created by a prior, possibly-crashed CreateNode call: RunInstances'
// own ClientToken idempotency only covers the single API call, so the
// driver also tags the instance with NodeID to recognize it across a
// ListNodes sweep after the token itself has expired EC2-side.
const clientTokenTag = "epu:node-id"

var ec2RetryOptions = []retry.Option{
	retry.Delay(2 * time.Second),
	retry.Attempts(5),
	retry.LastErrorOnly(true),
	retry.MaxDelay(10 * time.Second),
}

// EC2Driver drives a real AWS EC2 site.
type EC2Driver struct {
	site         string
	client       *ec2.Client
	instanceType types.InstanceType
	imageID      string
	subnetID     string
}

// NewEC2Driver builds an EC2-backed driver for site using the ambient AWS
// credential chain.
func NewEC2Driver(ctx context.Context, site, region, imageID, subnetID string, instanceType types.InstanceType) (*EC2Driver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, epuerrors.InvalidCreds(err, "load AWS config for site %s", site)
	}
	return &EC2Driver{
		site:         site,
		client:       ec2.NewFromConfig(cfg),
		instanceType: instanceType,
		imageID:      imageID,
		subnetID:     subnetID,
	}, nil
}

func (d *EC2Driver) Site() string { return d.site }

func (d *EC2Driver) CreateNode(ctx context.Context, spec NodeSpec) (*NodeInfo, error) {
	if existing, err := d.findByNodeID(ctx, spec.NodeID); err == nil && existing != nil {
		return existing, nil
	}

	var out *ec2.RunInstancesOutput
	err := retry.Do(func() error {
		var err error
		out, err = d.client.RunInstances(ctx, &ec2.RunInstancesInput{
			ImageId:      &d.imageID,
			InstanceType: d.instanceType,
			MinCount:     awsInt32(1),
			MaxCount:     awsInt32(1),
			SubnetId:     strPtrOrNil(d.subnetID),
			ClientToken:  &spec.NodeID,
			UserData:     strPtrOrNil(spec.UserData),
			TagSpecifications: []types.TagSpecification{{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: strPtr(clientTokenTag), Value: &spec.NodeID},
					{Key: strPtr("epu:allocation"), Value: &spec.Allocation},
				},
			}},
		})
		return err
	}, ec2RetryOptions...)
	if err != nil {
		return nil, classifyEC2Error(err, spec.NodeID)
	}
	if len(out.Instances) == 0 {
		return nil, epuerrors.Driver(fmt.Errorf("no instances returned"), "run instance for %s", spec.NodeID)
	}

	return instanceToNodeInfo(spec.NodeID, &out.Instances[0]), nil
}

func (d *EC2Driver) ListNodes(ctx context.Context) ([]*NodeInfo, error) {
	out, err := d.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   strPtr("tag-key"),
			Values: []string{clientTokenTag},
		}},
	})
	if err != nil {
		return nil, epuerrors.Driver(err, "describe instances for site %s", d.site)
	}

	var infos []*NodeInfo
	for _, res := range out.Reservations {
		for i := range res.Instances {
			inst := &res.Instances[i]
			nodeID := tagValue(inst.Tags, clientTokenTag)
			if nodeID == "" {
				continue
			}
			infos = append(infos, instanceToNodeInfo(nodeID, inst))
		}
	}
	return infos, nil
}

func (d *EC2Driver) DestroyNode(ctx context.Context, nodeID string) error {
	info, err := d.findByNodeID(ctx, nodeID)
	if err != nil {
		return epuerrors.Driver(err, "locate instance for %s before terminate", nodeID)
	}
	if info == nil {
		return nil // already gone: idempotent
	}

	_, err = d.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{info.IaaSID},
	})
	if err != nil {
		return epuerrors.Driver(err, "terminate instance %s", info.IaaSID)
	}
	return nil
}

func (d *EC2Driver) findByNodeID(ctx context.Context, nodeID string) (*NodeInfo, error) {
	out, err := d.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []types.Filter{
			{Name: strPtr(fmt.Sprintf("tag:%s", clientTokenTag)), Values: []string{nodeID}},
		},
	})
	if err != nil {
		return nil, err
	}
	for _, res := range out.Reservations {
		for i := range res.Instances {
			inst := &res.Instances[i]
			if inst.State != nil && inst.State.Name == types.InstanceStateNameTerminated {
				continue
			}
			return instanceToNodeInfo(nodeID, inst), nil
		}
	}
	return nil, nil
}

func classifyEC2Error(err error, nodeID string) error {
	// AuthFailure / UnauthorizedOperation indicate bad credentials and are
	// terminal for the request; everything else is a generic driver error
	// the Provisioner can decide to retry on its own schedule.
	msg := err.Error()
	if contains(msg, "AuthFailure") || contains(msg, "UnauthorizedOperation") {
		return epuerrors.InvalidCreds(err, "create instance for %s", nodeID)
	}
	return epuerrors.Driver(err, "create instance for %s", nodeID)
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func instanceToNodeInfo(nodeID string, inst *types.Instance) *NodeInfo {
	status := NodeStatusPending
	if inst.State != nil {
		switch inst.State.Name {
		case types.InstanceStateNameRunning:
			status = NodeStatusRunning
		case types.InstanceStateNameTerminated, types.InstanceStateNameShuttingDown:
			status = NodeStatusTerminated
		case types.InstanceStateNameStopped:
			status = NodeStatusError
		}
	}

	info := &NodeInfo{
		NodeID: nodeID,
		Status: status,
	}
	if inst.InstanceId != nil {
		info.IaaSID = *inst.InstanceId
	}
	if inst.PublicIpAddress != nil {
		info.PublicIP = *inst.PublicIpAddress
	}
	if inst.PrivateIpAddress != nil {
		info.PrivateIP = *inst.PrivateIpAddress
	}
	if inst.LaunchTime != nil {
		info.Launched = *inst.LaunchTime
	}
	return info
}

func tagValue(tags []types.Tag, key string) string {
	for _, t := range tags {
		if t.Key != nil && *t.Key == key && t.Value != nil {
			return *t.Value
		}
	}
	return ""
}

func awsInt32(v int32) *int32 { return &v }
func strPtr(s string) *string { return &s }
func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
