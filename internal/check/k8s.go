package check

import (
	"context"
	"fmt"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// K8sDeploymentCheck compares ready and desired replicas of the deployment
// backing an application. The deployment is named after the application
// unless configured otherwise; the namespace comes from the server.
type K8sDeploymentCheck struct {
	meta       domain.CheckMetadata
	clientset  kubernetes.Interface
	deployment string
}

// NewK8sDeploymentCheck creates a deployment readiness check
func NewK8sDeploymentCheck(clientset kubernetes.Interface, deployment string) *K8sDeploymentCheck {
	return &K8sDeploymentCheck{
		meta: domain.CheckMetadata{
			Name:        "k8s_deployment_ready",
			Category:    domain.CategoryAvailability,
			RiskLevel:   domain.RiskHigh,
			Description: "All deployment replicas are ready",
			Timeout:     10 * time.Second,
		},
		clientset:  clientset,
		deployment: deployment,
	}
}

func (c *K8sDeploymentCheck) Metadata() domain.CheckMetadata { return c.meta }

func (c *K8sDeploymentCheck) Execute(ctx context.Context, app *domain.Application, server *domain.Server) (domain.CheckResult, error) {
	if server == nil || server.Transport != "k8s" {
		return Skip(c.meta, "server is not a kubernetes target"), nil
	}
	namespace := server.Namespace
	if namespace == "" {
		namespace = "default"
	}
	name := c.deployment
	if name == "" {
		name = app.Name
	}

	dep, err := c.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			res := Fail(c.meta, fmt.Sprintf("deployment %s/%s not found", namespace, name), "",
				map[string]any{"deployment": name, "namespace": namespace})
			res.Severity = domain.RiskCritical
			return res, nil
		}
		return Error(c.meta, fmt.Errorf("get deployment: %w", err)), nil
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	ready := dep.Status.ReadyReplicas

	details := map[string]any{
		"deployment":       name,
		"namespace":        namespace,
		"desired_replicas": desired,
		"ready_replicas":   ready,
	}

	switch {
	case ready >= desired:
		return Pass(c.meta, fmt.Sprintf("%d/%d replicas ready", ready, desired), details), nil
	case ready == 0:
		res := Fail(c.meta, fmt.Sprintf("0/%d replicas ready", desired), "Restart application process", details)
		res.Severity = domain.RiskCritical
		return res, nil
	default:
		return Warn(c.meta, fmt.Sprintf("%d/%d replicas ready", ready, desired), "Restart application process", details), nil
	}
}
