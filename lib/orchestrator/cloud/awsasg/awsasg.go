// Package awsasg implements cloud.Adapter against AWS EC2 and Auto
// Scaling, the way the teacher repo's lib/cloud/ec2 implements
// cloud.InstanceSet against EC2 alone. Because this spec's ASG is the
// thing that launches and terminates instances -- this orchestrator
// only retags, protects, and resizes -- the adapter talks to the Auto
// Scaling API (DescribeAutoScalingGroups, SetDesiredCapacity,
// SetInstanceProtection, TerminateInstanceInAutoScalingGroup) in
// addition to the EC2 API (DescribeInstances, CreateTags) the teacher
// already uses.
package awsasg

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/sirupsen/logrus"

	"github.com/fogscale/workbench/lib/orchestrator"
	"github.com/fogscale/workbench/lib/orchestrator/wberrors"
)

// EC2API and ASGAPI are the minimal slices of the generated AWS SDK
// clients this adapter depends on, so tests can substitute stubs
// without a live AWS account or the loopback package.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, opts ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

type ASGAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, opts ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, in *autoscaling.SetDesiredCapacityInput, opts ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
	SetInstanceProtection(ctx context.Context, in *autoscaling.SetInstanceProtectionInput, opts ...func(*autoscaling.Options)) (*autoscaling.SetInstanceProtectionOutput, error)
	TerminateInstanceInAutoScalingGroup(ctx context.Context, in *autoscaling.TerminateInstanceInAutoScalingGroupInput, opts ...func(*autoscaling.Options)) (*autoscaling.TerminateInstanceInAutoScalingGroupOutput, error)
}

// Adapter implements cloud.Adapter against a named ASG.
type Adapter struct {
	EC2     EC2API
	ASG     ASGAPI
	ASGName string
	Logger  logrus.FieldLogger
}

// New builds an Adapter from AWS SDK v2 clients already configured
// with the process's credentials and region (via aws-sdk-go-v2/config
// LoadDefaultConfig, the same pattern the rest of the retrieval pack
// uses to build EC2/S3 clients).
func New(ec2Client EC2API, asgClient ASGAPI, asgName string, logger logrus.FieldLogger) *Adapter {
	return &Adapter{EC2: ec2Client, ASG: asgClient, ASGName: asgName, Logger: logger}
}

func (a *Adapter) DescribeInstance(ctx context.Context, instanceID string) (*orchestrator.InstanceDescription, error) {
	out, err := a.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, classifyEC2Error(err, "DescribeInstances")
	}
	for _, rsv := range out.Reservations {
		for _, inst := range rsv.Instances {
			return toDescription(inst), nil
		}
	}
	return nil, wberrors.Newf(wberrors.NotFound, "instance %s not found", instanceID)
}

func toDescription(inst ec2types.Instance) *orchestrator.InstanceDescription {
	desc := &orchestrator.InstanceDescription{
		InstanceID: aws.ToString(inst.InstanceId),
		Tags:       map[string]string{},
	}
	if inst.State != nil {
		desc.State = string(inst.State.Name)
	}
	if inst.PublicIpAddress != nil {
		desc.PublicEndpoint = aws.ToString(inst.PublicIpAddress)
	}
	for _, t := range inst.Tags {
		desc.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return desc
}

func (a *Adapter) SetTags(ctx context.Context, instanceID string, tags map[string]string) error {
	ec2tags := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2tags = append(ec2tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err := a.EC2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      ec2tags,
	})
	if err != nil {
		return classifyEC2Error(err, "CreateTags")
	}
	return nil
}

func (a *Adapter) SetScaleInProtection(ctx context.Context, instanceIDs []string, protected bool) (map[string]bool, error) {
	result := make(map[string]bool, len(instanceIDs))
	if len(instanceIDs) == 0 {
		return result, nil
	}
	_, err := a.ASG.SetInstanceProtection(ctx, &autoscaling.SetInstanceProtectionInput{
		AutoScalingGroupName: aws.String(a.ASGName),
		InstanceIds:          instanceIDs,
		ProtectedFromScaleIn: aws.Bool(protected),
	})
	if err != nil {
		// AWS rejects the whole batch if any id is unknown to the
		// ASG, so a batch failure marks every id false and also
		// returns the classified error to the caller.
		a.Logger.WithError(err).WithField("InstanceIDs", instanceIDs).
			Warn("SetInstanceProtection failed for batch")
		for _, id := range instanceIDs {
			result[id] = false
		}
		return result, classifyASGError(err, "SetInstanceProtection")
	}
	for _, id := range instanceIDs {
		result[id] = true
	}
	return result, nil
}

func (a *Adapter) DescribeAsg(ctx context.Context) (*orchestrator.AsgDescription, error) {
	out, err := a.ASG.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{a.ASGName},
	})
	if err != nil {
		return nil, classifyASGError(err, "DescribeAutoScalingGroups")
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, wberrors.Newf(wberrors.NotFound, "auto-scaling group %s not found", a.ASGName)
	}
	grp := out.AutoScalingGroups[0]
	ids := make([]string, 0, len(grp.Instances))
	for _, inst := range grp.Instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	return &orchestrator.AsgDescription{
		DesiredCapacity: int(aws.ToInt32(grp.DesiredCapacity)),
		MinSize:         int(aws.ToInt32(grp.MinSize)),
		MaxSize:         int(aws.ToInt32(grp.MaxSize)),
		InstanceIDs:     ids,
	}, nil
}

func (a *Adapter) SetDesiredCapacity(ctx context.Context, n int) error {
	_, err := a.ASG.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(a.ASGName),
		DesiredCapacity:      aws.Int32(int32(n)),
		HonorCooldown:        aws.Bool(false),
	})
	if err != nil {
		return classifyASGError(err, "SetDesiredCapacity")
	}
	return nil
}

func (a *Adapter) TerminateInAsgDecrementing(ctx context.Context, instanceID string) error {
	_, err := a.ASG.TerminateInstanceInAutoScalingGroup(ctx, &autoscaling.TerminateInstanceInAutoScalingGroupInput{
		InstanceId:                     aws.String(instanceID),
		ShouldDecrementDesiredCapacity: aws.Bool(true),
	})
	if err != nil {
		return classifyASGError(err, "TerminateInstanceInAutoScalingGroup")
	}
	return nil
}

// classifyEC2Error and classifyASGError give every call site a
// wberrors-Kind-tagged error instead of a raw smithy error, the way
// §4.1 requires ("each returns either a typed result or a classified
// error"). AWS SDK v2 errors don't carry a single universal "is this
// retryable" flag across services, so classification here is
// deliberately coarse: not-found stays NotFound, everything else is
// TransientUpstream. Neither this adapter nor its callers in this
// module retry a TransientUpstream error; it is returned as is.
func classifyEC2Error(err error, op string) error {
	if isNotFound(err) {
		return wberrors.Wrap(wberrors.NotFound, op, err)
	}
	return wberrors.Wrap(wberrors.TransientUpstream, op, err)
}

func classifyASGError(err error, op string) error {
	if isNotFound(err) {
		return wberrors.Wrap(wberrors.NotFound, op, err)
	}
	return wberrors.Wrap(wberrors.TransientUpstream, op, err)
}

func isNotFound(err error) bool {
	msg := fmt.Sprint(err)
	for _, sub := range []string{"NotFound", "InvalidInstanceID", "does not exist"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
