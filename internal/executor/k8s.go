package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stackhealer/backend-go/internal/domain"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"
	"k8s.io/kubectl/pkg/scheme"
)

// K8sTransport runs commands inside a pod via the exec subresource.
// The target is Server.Namespace/Server.Pod; when Pod is empty the first
// running pod matching Server.Host as a label selector is used.
type K8sTransport struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
}

// NewK8sClient builds a clientset with in-cluster or kubeconfig auth
func NewK8sClient(kubeconfig string) (kubernetes.Interface, *rest.Config, error) {
	var cfg *rest.Config
	var err error

	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
		if err != nil {
			// Fallback to default kubeconfig
			cfg, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("k8s config: %w", err)
	}

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("k8s clientset: %w", err)
	}
	return cs, cfg, nil
}

// NewK8sTransport wraps an existing clientset
func NewK8sTransport(clientset kubernetes.Interface, restConfig *rest.Config) *K8sTransport {
	return &K8sTransport{clientset: clientset, restConfig: restConfig}
}

// Clientset exposes the underlying kubernetes.Interface for checks
func (t *K8sTransport) Clientset() kubernetes.Interface {
	return t.clientset
}

func (t *K8sTransport) Run(ctx context.Context, server *domain.Server, command string) (*CommandResult, error) {
	start := time.Now()
	namespace := server.Namespace
	if namespace == "" {
		namespace = "default"
	}
	pod, err := t.resolvePod(ctx, namespace, server)
	if err != nil {
		return nil, err
	}

	req := t.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Command: []string{"sh", "-c", command},
			Stdout:  true,
			Stderr:  true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(t.restConfig, "POST", req.URL())
	if err != nil {
		return nil, fmt.Errorf("%w: exec setup for %s: %v", domain.ErrTransport, pod, err)
	}

	var stdout, stderr strings.Builder
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})

	exitCode := 0
	if err != nil {
		var exitErr utilexec.ExitError
		if !errors.As(err, &exitErr) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %w: exec in %s: %v", domain.ErrTransport, ErrConnectionLost, pod, err)
		}
		exitCode = exitErr.ExitStatus()
	}

	return &CommandResult{
		Success:  exitCode == 0,
		Output:   stdout.String() + stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

func (t *K8sTransport) resolvePod(ctx context.Context, namespace string, server *domain.Server) (string, error) {
	if server.Pod != "" {
		return server.Pod, nil
	}
	pods, err := t.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: server.Host})
	if err != nil {
		return "", fmt.Errorf("%w: list pods: %v", domain.ErrTransport, err)
	}
	for _, p := range pods.Items {
		if p.Status.Phase == corev1.PodRunning {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no running pod for selector %q in %s", domain.ErrTransport, server.Host, namespace)
}
