// Package kubernetes acquires sandbox servers by creating agent-sandbox
// SandboxClaims, one per script run.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/sktools/pkg/pyexec/runner/remote"
)

var _ remote.Acquirer = (*ClaimAcquirer)(nil)

// ManagedByLabel marks claims created by this package.
const ManagedByLabel = "app.kubernetes.io/managed-by"

const (
	serverPort   = 8080
	pollInterval = 500 * time.Millisecond
)

// ClaimAcquirer creates a SandboxClaim per run, waits for the bound
// Sandbox to report Ready, and deletes the claim on release.
type ClaimAcquirer struct {
	client    client.Client
	template  string
	namespace string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClaimAcquirer creates a ClaimAcquirer. timeout bounds the wait for
// the Sandbox to become ready.
func NewClaimAcquirer(c client.Client, template, namespace string, timeout time.Duration, logger *slog.Logger) *ClaimAcquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClaimAcquirer{
		client:    c,
		template:  template,
		namespace: namespace,
		timeout:   timeout,
		logger:    logger,
	}
}

// NewScheme returns a scheme with the agent-sandbox types registered.
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

// Acquire implements remote.Acquirer.
func (a *ClaimAcquirer) Acquire(ctx context.Context) (string, func(), error) {
	name := newClaimName()
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.namespace,
			Labels:    map[string]string{ManagedByLabel: "sktools"},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{Name: a.template},
		},
	}
	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	a.logger.Debug("created SandboxClaim", "name", name, "namespace", a.namespace, "template", a.template)

	fqdn, err := a.waitForReady(ctx, name)
	if err != nil {
		a.release(name)
		return "", nil, err
	}

	url := fmt.Sprintf("http://%s:%d", fqdn, serverPort)
	a.logger.Debug("sandbox acquired", "name", name, "url", url)
	return url, func() { a.release(name) }, nil
}

// waitForReady polls the Sandbox named after the claim until it is Ready
// and has a service FQDN.
func (a *ClaimAcquirer) waitForReady(ctx context.Context, name string) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	key := types.NamespacedName{Name: name, Namespace: a.namespace}
	for {
		select {
		case <-waitCtx.Done():
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return "", fmt.Errorf("sandbox %q not ready after %s", name, a.timeout)
			}
			return "", fmt.Errorf("waiting for sandbox %q: %w", name, ctx.Err())
		case <-ticker.C:
			sb := &sandboxv1alpha1.Sandbox{}
			if err := a.client.Get(waitCtx, key, sb); err != nil {
				// the controller may not have created it yet
				continue
			}
			if ready(sb) && sb.Status.ServiceFQDN != "" {
				return sb.Status.ServiceFQDN, nil
			}
		}
	}
}

func ready(sb *sandboxv1alpha1.Sandbox) bool {
	for _, c := range sb.Status.Conditions {
		if c.Type == string(sandboxv1alpha1.SandboxConditionReady) {
			return c.Status == metav1.ConditionTrue
		}
	}
	return false
}

// release deletes the claim. Failures are logged; the claim's owner
// reference lets the controller garbage collect it later.
func (a *ClaimAcquirer) release(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.namespace},
	}
	if err := client.IgnoreNotFound(a.client.Delete(ctx, claim)); err != nil {
		a.logger.Warn("deleting SandboxClaim failed", "name", name, "namespace", a.namespace, "error", err)
		return
	}
	a.logger.Debug("deleted SandboxClaim", "name", name, "namespace", a.namespace)
}

// newClaimName is replaced in tests for deterministic names.
var newClaimName = func() string {
	return "sktools-run-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
