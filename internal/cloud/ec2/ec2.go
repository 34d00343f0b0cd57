/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package ec2 is the Instance Provisioner: it launches, tags, waits on,
// and terminates AWS EC2 instances bound to a pipeline, per spec.md
// §4.5. It is the only platform implemented; the Deployer rejects every
// other platform tag before reaching this package.
package ec2

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/google/uuid"

	"github.com/lightci/lightci/internal/domain"
)

// Config carries the provisioning defaults named in spec.md §6
// (AWS_SECURITY_GROUP_ID, AWS_SUBNET_ID, AWS_AMI_ID, AWS_EC2_KEY_NAME).
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	AMIID           string
	InstanceType    string
	SecurityGroupID string
	SubnetID        string
	KeyName         string
}

// ApplicationPort is TCP-probed by HealthCheck after the AWS status
// checks pass.
const ApplicationPort = 80

// Gateway is the narrow persistence surface Provisioner depends on.
type Gateway interface {
	CreateAutoDeployment(ctx context.Context, d *domain.AutoDeployment) error
	UpdateAutoDeploymentStatus(ctx context.Context, id string, status domain.DeploymentStatus) error
}

// Provisioner wraps an EC2 client with the narrow operations the
// Deployer needs.
type Provisioner struct {
	client *ec2.EC2
	cfg    Config
	gw     Gateway
}

func NewProvisioner(cfg Config, gw Gateway) (*Provisioner, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("ec2: create session: %w", err)
	}
	return &Provisioner{client: ec2.New(sess), cfg: cfg, gw: gw}, nil
}

// ProvisionResult is returned to the Deployer on a successful launch.
type ProvisionResult struct {
	InstanceID string
	PublicDNS  string
}

// Provision launches a VM using the configured AMI, the owner's key
// pair, and configured security group/subnet; tags it with pipeline
// and owner; waits until reachable; records an AutoDeployment with
// status=active.
func (p *Provisioner) Provision(ctx context.Context, ownerID, pipelineID string) (ProvisionResult, error) {
	runOut, err := p.client.RunInstancesWithContext(ctx, &ec2.RunInstancesInput{
		ImageId:          aws.String(p.cfg.AMIID),
		InstanceType:     aws.String(p.cfg.InstanceType),
		KeyName:          aws.String(p.cfg.KeyName),
		SecurityGroupIds: aws.StringSlice([]string{p.cfg.SecurityGroupID}),
		SubnetId:         aws.String(p.cfg.SubnetID),
		MinCount:         aws.Int64(1),
		MaxCount:         aws.Int64(1),
	})
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("ec2: run instances: %w", err)
	}
	if len(runOut.Instances) == 0 {
		return ProvisionResult{}, fmt.Errorf("ec2: run instances returned no instances")
	}
	instanceID := aws.StringValue(runOut.Instances[0].InstanceId)

	_, err = p.client.CreateTagsWithContext(ctx, &ec2.CreateTagsInput{
		Resources: []*string{aws.String(instanceID)},
		Tags: []*ec2.Tag{
			{Key: aws.String("lightci:pipelineId"), Value: aws.String(pipelineID)},
			{Key: aws.String("lightci:ownerId"), Value: aws.String(ownerID)},
		},
	})
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("ec2: tag instance: %w", err)
	}

	if err := p.client.WaitUntilInstanceRunningWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	}); err != nil {
		return ProvisionResult{}, fmt.Errorf("ec2: wait for running: %w", err)
	}

	dns, err := p.publicDNS(ctx, instanceID)
	if err != nil {
		return ProvisionResult{}, err
	}

	if p.gw != nil {
		err = p.gw.CreateAutoDeployment(ctx, &domain.AutoDeployment{
			ID:         uuid.NewString(),
			PipelineID: pipelineID,
			OwnerID:    ownerID,
			InstanceID: instanceID,
			Region:     p.cfg.Region,
			Status:     domain.DeploymentActive,
			Metadata:   map[string]string{},
			CreatedAt:  time.Now().UTC(),
		})
		if err != nil {
			return ProvisionResult{}, fmt.Errorf("ec2: record auto-deployment: %w", err)
		}
	}

	return ProvisionResult{InstanceID: instanceID, PublicDNS: dns}, nil
}

// Terminate terminates the backing VM and flips the AutoDeployment
// record to terminated.
func (p *Provisioner) Terminate(ctx context.Context, autoDeploymentID, instanceID string) error {
	_, err := p.client.TerminateInstancesWithContext(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return fmt.Errorf("ec2: terminate instance: %w", err)
	}
	if p.gw != nil {
		if err := p.gw.UpdateAutoDeploymentStatus(ctx, autoDeploymentID, domain.DeploymentTerminated); err != nil {
			return fmt.Errorf("ec2: mark terminated: %w", err)
		}
	}
	return nil
}

// HealthCheck reports instance state=running AND both system and
// instance status checks=ok AND a TCP probe to the application port
// succeeds, per spec.md §4.5.
func (p *Provisioner) HealthCheck(ctx context.Context, instanceID string) bool {
	statusOut, err := p.client.DescribeInstanceStatusWithContext(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil || len(statusOut.InstanceStatuses) == 0 {
		return false
	}
	st := statusOut.InstanceStatuses[0]
	if aws.StringValue(st.InstanceState.Name) != ec2.InstanceStateNameRunning {
		return false
	}
	if aws.StringValue(st.SystemStatus.Status) != "ok" || aws.StringValue(st.InstanceStatus.Status) != "ok" {
		return false
	}

	dns, err := p.publicDNS(ctx, instanceID)
	if err != nil {
		return false
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", dns, ApplicationPort), 5*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// DiagnoseResult is an operator-facing report; it is never consulted on
// the run path (spec.md §4.5).
type DiagnoseResult struct {
	Success     bool
	Details     []string
	Remediation []string
}

// Diagnose inspects an instance's state/status checks and reachability
// and summarizes actionable findings for an operator.
func (p *Provisioner) Diagnose(ctx context.Context, instanceID string) DiagnoseResult {
	var details, remediation []string

	statusOut, err := p.client.DescribeInstanceStatusWithContext(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []*string{aws.String(instanceID)},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return DiagnoseResult{
			Success:     false,
			Details:     []string{fmt.Sprintf("describe instance status failed: %v", err)},
			Remediation: []string{"verify the instance id and IAM permissions"},
		}
	}
	if len(statusOut.InstanceStatuses) == 0 {
		return DiagnoseResult{Success: false, Details: []string{"instance not found"}, Remediation: []string{"the instance may have been terminated externally"}}
	}

	st := statusOut.InstanceStatuses[0]
	state := aws.StringValue(st.InstanceState.Name)
	details = append(details, fmt.Sprintf("instance state: %s", state))
	if state != ec2.InstanceStateNameRunning {
		remediation = append(remediation, "start or re-provision the instance")
	}

	sysStatus := aws.StringValue(st.SystemStatus.Status)
	details = append(details, fmt.Sprintf("system status: %s", sysStatus))
	if sysStatus != "ok" {
		remediation = append(remediation, "wait for AWS system status checks to recover, or stop/start the instance")
	}

	insStatus := aws.StringValue(st.InstanceStatus.Status)
	details = append(details, fmt.Sprintf("instance status: %s", insStatus))
	if insStatus != "ok" {
		remediation = append(remediation, "check instance-level reachability and OS health")
	}

	return DiagnoseResult{Success: len(remediation) == 0, Details: details, Remediation: remediation}
}

// PublicDNS resolves the current public DNS name for an already-running
// instance, used by the Deployer when reusing an AutoDeployment.
func (p *Provisioner) PublicDNS(ctx context.Context, instanceID string) (string, error) {
	return p.publicDNS(ctx, instanceID)
}

func (p *Provisioner) publicDNS(ctx context.Context, instanceID string) (string, error) {
	out, err := p.client.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []*string{aws.String(instanceID)},
	})
	if err != nil {
		return "", fmt.Errorf("ec2: describe instances: %w", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return "", fmt.Errorf("ec2: instance %s not found", instanceID)
	}
	dns := aws.StringValue(out.Reservations[0].Instances[0].PublicDnsName)
	if dns == "" {
		return "", fmt.Errorf("ec2: instance %s has no public DNS name yet", instanceID)
	}
	return dns, nil
}
