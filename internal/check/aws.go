package check

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/stackhealer/backend-go/internal/domain"
)

// EC2StatusAPI is the slice of the EC2 client used by EC2InstanceCheck
type EC2StatusAPI interface {
	DescribeInstanceStatus(ctx context.Context, in *ec2.DescribeInstanceStatusInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
}

// RDSDescribeAPI is the slice of the RDS client used by RDSInstanceCheck
type RDSDescribeAPI interface {
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, opts ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// EC2InstanceCheck reports the state and status checks of the EC2
// instance behind a server
type EC2InstanceCheck struct {
	meta   domain.CheckMetadata
	client EC2StatusAPI
}

// NewEC2InstanceCheck creates an EC2 instance status check
func NewEC2InstanceCheck(client EC2StatusAPI) *EC2InstanceCheck {
	return &EC2InstanceCheck{
		meta: domain.CheckMetadata{
			Name:        "ec2_instance_status",
			Category:    domain.CategorySystem,
			RiskLevel:   domain.RiskHigh,
			Description: "EC2 instance is running and passes status checks",
			Timeout:     15 * time.Second,
		},
		client: client,
	}
}

func (c *EC2InstanceCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *EC2InstanceCheck) Execute(ctx context.Context, _ *domain.Application, server *domain.Server) (domain.CheckResult, error) {
	if server == nil || server.InstanceID == "" {
		return Skip(c.meta, "server is not backed by an EC2 instance"), nil
	}

	out, err := c.client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{server.InstanceID},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return Error(c.meta, fmt.Errorf("describe instance status: %w", err)), nil
	}
	if len(out.InstanceStatuses) == 0 {
		return Error(c.meta, fmt.Errorf("instance %s not found", server.InstanceID)), nil
	}

	st := out.InstanceStatuses[0]
	state := ec2types.InstanceStateNameRunning
	if st.InstanceState != nil {
		state = st.InstanceState.Name
	}
	instanceStatus := summary(st.InstanceStatus)
	systemStatus := summary(st.SystemStatus)

	details := map[string]any{
		"instance_id":     server.InstanceID,
		"state":           string(state),
		"instance_status": string(instanceStatus),
		"system_status":   string(systemStatus),
	}

	if state != ec2types.InstanceStateNameRunning {
		res := Fail(c.meta, fmt.Sprintf("instance %s is %s", server.InstanceID, state), "", details)
		res.Severity = domain.RiskCritical
		return res, nil
	}
	if instanceStatus == ec2types.SummaryStatusImpaired || systemStatus == ec2types.SummaryStatusImpaired {
		return Fail(c.meta, fmt.Sprintf("instance %s status checks impaired", server.InstanceID), "", details), nil
	}
	if instanceStatus == ec2types.SummaryStatusInitializing || systemStatus == ec2types.SummaryStatusInitializing {
		res := Warn(c.meta, fmt.Sprintf("instance %s status checks initializing", server.InstanceID), "", details)
		res.Severity = domain.RiskLow
		return res, nil
	}
	return Pass(c.meta, fmt.Sprintf("instance %s running", server.InstanceID), details), nil
}

func summary(s *ec2types.InstanceStatusSummary) ec2types.SummaryStatus {
	if s == nil {
		return ec2types.SummaryStatusNotApplicable
	}
	return s.Status
}

// RDSInstanceCheck reports the status of a managed database. The identifier
// may reference the application name as {{app}}.
type RDSInstanceCheck struct {
	meta       domain.CheckMetadata
	client     RDSDescribeAPI
	identifier string
}

// NewRDSInstanceCheck creates an RDS availability check
func NewRDSInstanceCheck(client RDSDescribeAPI, identifier string) *RDSInstanceCheck {
	if identifier == "" {
		identifier = "{{app}}"
	}
	return &RDSInstanceCheck{
		meta: domain.CheckMetadata{
			Name:        "rds_database_status",
			Category:    domain.CategoryDatabase,
			RiskLevel:   domain.RiskHigh,
			Description: "Managed database instance is available",
			Timeout:     15 * time.Second,
		},
		client:     client,
		identifier: identifier,
	}
}

func (c *RDSInstanceCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *RDSInstanceCheck) Execute(ctx context.Context, app *domain.Application, _ *domain.Server) (domain.CheckResult, error) {
	id := strings.ReplaceAll(c.identifier, "{{app}}", app.Name)

	out, err := c.client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(id),
	})
	if err != nil {
		var nf *rdstypes.DBInstanceNotFoundFault
		if errors.As(err, &nf) {
			return Skip(c.meta, "no managed database "+id), nil
		}
		return Error(c.meta, fmt.Errorf("describe db instances: %w", err)), nil
	}
	if len(out.DBInstances) == 0 {
		return Skip(c.meta, "no managed database "+id), nil
	}

	status := aws.ToString(out.DBInstances[0].DBInstanceStatus)
	details := map[string]any{"db_instance": id, "status": status}

	switch status {
	case "available":
		return Pass(c.meta, fmt.Sprintf("database %s available", id), details), nil
	case "storage-full":
		res := Fail(c.meta, fmt.Sprintf("database %s storage full", id), "Run database repair and purge logs", details)
		res.Severity = domain.RiskCritical
		return res, nil
	case "stopped", "failed", "inaccessible-encryption-credentials", "incompatible-parameters", "incompatible-restore":
		res := Fail(c.meta, fmt.Sprintf("database %s is %s", id, status), "", details)
		res.Severity = domain.RiskCritical
		return res, nil
	default:
		res := Warn(c.meta, fmt.Sprintf("database %s is %s", id, status), "", details)
		res.Severity = domain.RiskLow
		return res, nil
	}
}
