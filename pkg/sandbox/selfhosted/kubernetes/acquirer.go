// Package kubernetes acquires sandbox-server pods for sessions through
// agent-sandbox SandboxClaim resources.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/sandbox-mcp/pkg/debug"
	"github.com/rhuss/sandbox-mcp/pkg/sandbox/selfhosted"
)

// Ensure ClaimAcquirer implements selfhosted.Acquirer.
var _ selfhosted.Acquirer = (*ClaimAcquirer)(nil)

const (
	// serverPort is the port cmd/sandbox-server listens on inside the pod.
	serverPort = 8080

	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "sandbox-mcp"

	pollInterval = 500 * time.Millisecond
)

// Options configures a ClaimAcquirer.
type Options struct {
	// Template is the SandboxTemplate the claims reference.
	Template string
	// Namespace the claims are created in.
	Namespace string
	// ClaimTimeout bounds the wait for a claimed sandbox to become ready.
	ClaimTimeout time.Duration
}

// ClaimAcquirer creates one SandboxClaim per session, waits for the bound
// Sandbox to report Ready, and deletes the claim on release.
type ClaimAcquirer struct {
	client client.Client
	opts   Options
}

// NewClaimAcquirer creates a ClaimAcquirer.
func NewClaimAcquirer(c client.Client, opts Options) *ClaimAcquirer {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 2 * time.Minute
	}
	return &ClaimAcquirer{client: c, opts: opts}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// NewClient builds a controller-runtime client. An empty kubeconfig path
// falls back to in-cluster config and the usual KUBECONFIG discovery.
func NewClient(kubeconfig string) (client.Client, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = ctrlconfig.GetConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load kubernetes config: %w", err)
	}

	scheme, err := NewScheme()
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg, client.Options{Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("create kubernetes client: %w", err)
	}
	return c, nil
}

// Acquire creates a SandboxClaim and returns the sandbox server URL
// (http://<serviceFQDN>:8080) with a release function that deletes the claim.
func (a *ClaimAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	claimName := generateClaimNameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      claimName,
			Namespace: a.opts.Namespace,
			Labels:    map[string]string{managedByLabel: managedByValue},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{
				Name: a.opts.Template,
			},
		},
	}

	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", claimName, err)
	}
	debug.Log("sandbox", "created SandboxClaim", "name", claimName, "namespace", a.opts.Namespace, "template", a.opts.Template)

	fqdn, err := a.waitForReady(ctx, claimName)
	if err != nil {
		a.deleteClaim(context.WithoutCancel(ctx), claimName)
		return "", nil, err
	}

	url := fmt.Sprintf("http://%s:%d", fqdn, serverPort)
	release := func() {
		a.deleteClaim(context.Background(), claimName)
	}

	slog.Info("sandbox claim ready", "name", claimName, "url", url)
	return url, release, nil
}

// waitForReady polls the Sandbox named after the claim until its Ready
// condition is True and a service FQDN is published.
func (a *ClaimAcquirer) waitForReady(ctx context.Context, name string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.opts.ClaimTimeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	key := types.NamespacedName{Name: name, Namespace: a.opts.Namespace}
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", fmt.Errorf("context cancelled waiting for Sandbox %q: %w", name, ctx.Err())
			}
			return "", fmt.Errorf("timeout waiting for Sandbox %q to become ready (waited %s)", name, a.opts.ClaimTimeout)
		case <-ticker.C:
			sbx := &sandboxv1alpha1.Sandbox{}
			if err := a.client.Get(waitCtx, key, sbx); err != nil {
				// The controller has not created the Sandbox yet.
				debug.Log("sandbox", "waiting for Sandbox", "name", name, "error", err.Error())
				continue
			}
			if isReady(sbx) && sbx.Status.ServiceFQDN != "" {
				return sbx.Status.ServiceFQDN, nil
			}
		}
	}
}

func isReady(sbx *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sbx.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) && c.Status == metav1.ConditionTrue {
			return true
		}
	}
	return false
}

// deleteClaim deletes a SandboxClaim. Failures are logged only; the
// controller garbage-collects orphaned pods with the claim's owner refs.
func (a *ClaimAcquirer) deleteClaim(ctx context.Context, name string) {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.opts.Namespace},
	}
	if err := a.client.Delete(ctx, claim); err != nil {
		slog.Warn("failed to delete SandboxClaim", "name", name, "namespace", a.opts.Namespace, "error", err.Error())
		return
	}
	debug.Log("sandbox", "deleted SandboxClaim", "name", name, "namespace", a.opts.Namespace)
}

// generateClaimNameFn creates a unique claim name. Replaced in tests.
var generateClaimNameFn = func() string {
	return "sandbox-mcp-" + uuid.NewString()[:8]
}
