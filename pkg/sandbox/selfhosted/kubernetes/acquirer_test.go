package kubernetes

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/sandbox-mcp/pkg/sandbox/selfhosted"
)

func newFakeClient(t *testing.T) client.Client {
	t.Helper()
	scheme, err := NewScheme()
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&sandboxv1alpha1.Sandbox{}).
		Build()
}

// fixedNames makes claim names deterministic for the duration of a test.
func fixedNames(t *testing.T, prefix string) {
	t.Helper()
	var n atomic.Int32
	orig := generateClaimNameFn
	generateClaimNameFn = func() string { return fmt.Sprintf("%s-%d", prefix, n.Add(1)) }
	t.Cleanup(func() { generateClaimNameFn = orig })
}

// markReady plays the agent-sandbox controller: it creates the Sandbox for
// a claim and reports it Ready with the given FQDN.
func markReady(t *testing.T, c client.Client, name, fqdn string) {
	t.Helper()
	ready := []metav1.Condition{{
		Type:               string(sandboxv1alpha1.SandboxConditionReady),
		Status:             metav1.ConditionTrue,
		LastTransitionTime: metav1.Now(),
		Reason:             "Ready",
	}}
	sbx := &sandboxv1alpha1.Sandbox{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "sandboxes"}}
	if err := c.Create(context.Background(), sbx); err != nil {
		t.Errorf("create sandbox %s: %v", name, err)
		return
	}
	sbx.Status.ServiceFQDN = fqdn
	sbx.Status.Conditions = ready
	if err := c.Status().Update(context.Background(), sbx); err != nil {
		t.Errorf("update sandbox status %s: %v", name, err)
	}
}

func claimExists(c client.Client, name string) bool {
	claim := &extensionsv1alpha1.SandboxClaim{}
	return c.Get(context.Background(), client.ObjectKey{Name: name, Namespace: "sandboxes"}, claim) == nil
}

func TestClaimAcquirer_Acquire(t *testing.T) {
	c := newFakeClient(t)
	fixedNames(t, "claim")
	acq := NewClaimAcquirer(c, Options{Template: "python-runtime", Namespace: "sandboxes", ClaimTimeout: 5 * time.Second})

	go func() {
		time.Sleep(200 * time.Millisecond)
		markReady(t, c, "claim-1", "claim-1.sandboxes.svc.cluster.local")
	}()

	url, release, err := acq.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if want := "http://claim-1.sandboxes.svc.cluster.local:8080"; url != want {
		t.Errorf("url = %q, want %q", url, want)
	}

	claim := &extensionsv1alpha1.SandboxClaim{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: "claim-1", Namespace: "sandboxes"}, claim); err != nil {
		t.Fatalf("get claim: %v", err)
	}
	if claim.Spec.TemplateRef.Name != "python-runtime" {
		t.Errorf("template = %q", claim.Spec.TemplateRef.Name)
	}
	if claim.Labels[managedByLabel] != managedByValue {
		t.Errorf("labels = %v", claim.Labels)
	}

	release()
	if claimExists(c, "claim-1") {
		t.Error("claim still exists after release")
	}
}

func TestClaimAcquirer_CleansUpOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		cancel  bool
	}{
		{name: "claim timeout", timeout: time.Second},
		{name: "context cancelled", timeout: 30 * time.Second, cancel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient(t)
			fixedNames(t, "failing")
			acq := NewClaimAcquirer(c, Options{Template: "t", Namespace: "sandboxes", ClaimTimeout: tt.timeout})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				time.AfterFunc(200*time.Millisecond, cancel)
			}

			if _, _, err := acq.Acquire(ctx); err == nil {
				t.Fatal("expected error")
			}
			if claimExists(c, "failing-1") {
				t.Error("claim not cleaned up")
			}
		})
	}
}

func TestClaimAcquirer_KillThroughService(t *testing.T) {
	c := newFakeClient(t)
	fixedNames(t, "svc")
	acq := NewClaimAcquirer(c, Options{Template: "t", Namespace: "sandboxes", ClaimTimeout: 5 * time.Second})
	svc := selfhosted.NewService(acq, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(200 * time.Millisecond)
		markReady(t, c, "svc-1", "svc-1.sandboxes.svc.cluster.local")
	}()

	sbx, err := svc.Create(context.Background())
	wg.Wait()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !claimExists(c, "svc-1") {
		t.Fatal("claim missing while sandbox is alive")
	}
	if err := sbx.Kill(context.Background()); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if claimExists(c, "svc-1") {
		t.Error("claim still exists after Kill")
	}
}

func TestNewClaimAcquirer_Defaults(t *testing.T) {
	acq := NewClaimAcquirer(nil, Options{Template: "t"})
	if acq.opts.Namespace != "default" {
		t.Errorf("namespace = %q, want default", acq.opts.Namespace)
	}
	if acq.opts.ClaimTimeout != 2*time.Minute {
		t.Errorf("claim timeout = %s, want 2m", acq.opts.ClaimTimeout)
	}
}

func TestIsReady(t *testing.T) {
	tests := []struct {
		name       string
		conditions []metav1.Condition
		want       bool
	}{
		{"no conditions", nil, false},
		{"ready", []metav1.Condition{{Type: string(sandboxv1alpha1.SandboxConditionReady), Status: metav1.ConditionTrue}}, true},
		{"not ready", []metav1.Condition{{Type: string(sandboxv1alpha1.SandboxConditionReady), Status: metav1.ConditionFalse}}, false},
		{"unrelated condition", []metav1.Condition{{Type: "Available", Status: metav1.ConditionTrue}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sbx := &sandboxv1alpha1.Sandbox{Status: sandboxv1alpha1.SandboxStatus{Conditions: tt.conditions}}
			if got := isReady(sbx); got != tt.want {
				t.Errorf("isReady() = %v, want %v", got, tt.want)
			}
		})
	}
}
