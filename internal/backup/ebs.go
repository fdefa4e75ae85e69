package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stackhealer/backend-go/internal/domain"
)

// EC2SnapshotAPI is the slice of the EC2 client used by EBSSnapshotStrategy
type EC2SnapshotAPI interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateSnapshot(ctx context.Context, in *ec2.CreateSnapshotInput, opts ...func(*ec2.Options)) (*ec2.CreateSnapshotOutput, error)
	DescribeSnapshots(ctx context.Context, in *ec2.DescribeSnapshotsInput, opts ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	CreateReplaceRootVolumeTask(ctx context.Context, in *ec2.CreateReplaceRootVolumeTaskInput, opts ...func(*ec2.Options)) (*ec2.CreateReplaceRootVolumeTaskOutput, error)
}

// EBSSnapshotStrategy snapshots the root volume of the server's EC2 instance
// and restores by replacing the root volume from that snapshot
type EBSSnapshotStrategy struct {
	client       EC2SnapshotAPI
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewEBSSnapshotStrategy creates an EBS snapshot strategy
func NewEBSSnapshotStrategy(client EC2SnapshotAPI) *EBSSnapshotStrategy {
	return &EBSSnapshotStrategy{
		client:       client,
		pollInterval: 15 * time.Second,
		waitTimeout:  20 * time.Minute,
	}
}

func (s *EBSSnapshotStrategy) Name() string { return "ebs_snapshot" }

func (s *EBSSnapshotStrategy) Create(ctx context.Context, app *domain.Application, server *domain.Server, backupID string) (*Artifact, error) {
	volumeID, err := s.rootVolume(ctx, server.InstanceID)
	if err != nil {
		return nil, err
	}

	out, err := s.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(fmt.Sprintf("stackhealer backup %s for %s", backupID, app.ID)),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSnapshot,
			Tags: []ec2types.Tag{
				{Key: aws.String("stackhealer:backup-id"), Value: aws.String(backupID)},
				{Key: aws.String("stackhealer:application-id"), Value: aws.String(app.ID)},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	snapshotID := aws.ToString(out.SnapshotId)

	if err := s.waitCompleted(ctx, snapshotID); err != nil {
		return nil, err
	}
	return &Artifact{
		Location:  snapshotID,
		SizeBytes: int64(aws.ToInt32(out.VolumeSize)) << 30,
	}, nil
}

func (s *EBSSnapshotStrategy) Restore(ctx context.Context, _ *domain.Application, server *domain.Server, location string) error {
	_, err := s.client.CreateReplaceRootVolumeTask(ctx, &ec2.CreateReplaceRootVolumeTaskInput{
		InstanceId: aws.String(server.InstanceID),
		SnapshotId: aws.String(location),
	})
	if err != nil {
		return fmt.Errorf("replace root volume: %w", err)
	}
	return nil
}

func (s *EBSSnapshotStrategy) Validate(ctx context.Context, _ *domain.Server, location string) (bool, error) {
	state, err := s.snapshotState(ctx, location)
	if err != nil {
		return false, err
	}
	return state == ec2types.SnapshotStateCompleted, nil
}

func (s *EBSSnapshotStrategy) rootVolume(ctx context.Context, instanceID string) (string, error) {
	out, err := s.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		return "", fmt.Errorf("describe instance: %w", err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			root := aws.ToString(inst.RootDeviceName)
			for _, bdm := range inst.BlockDeviceMappings {
				if aws.ToString(bdm.DeviceName) == root && bdm.Ebs != nil {
					return aws.ToString(bdm.Ebs.VolumeId), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no EBS root volume on instance %s", instanceID)
}

func (s *EBSSnapshotStrategy) snapshotState(ctx context.Context, snapshotID string) (ec2types.SnapshotState, error) {
	out, err := s.client.DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: []string{snapshotID}})
	if err != nil {
		return "", fmt.Errorf("describe snapshot: %w", err)
	}
	if len(out.Snapshots) == 0 {
		return "", fmt.Errorf("snapshot %s not found", snapshotID)
	}
	return out.Snapshots[0].State, nil
}

func (s *EBSSnapshotStrategy) waitCompleted(ctx context.Context, snapshotID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.waitTimeout)
	defer cancel()

	for {
		state, err := s.snapshotState(ctx, snapshotID)
		if err != nil {
			return err
		}
		switch state {
		case ec2types.SnapshotStateCompleted:
			return nil
		case ec2types.SnapshotStateError:
			return fmt.Errorf("snapshot %s entered error state", snapshotID)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("snapshot %s still %s: %w", snapshotID, state, ctx.Err())
		case <-time.After(s.pollInterval):
		}
	}
}

func isSnapshotID(location string) bool {
	return strings.HasPrefix(location, "snap-")
}
