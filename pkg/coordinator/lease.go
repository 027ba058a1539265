package coordinator

import (
	"context"
	"fmt"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/utils/ptr"
)

const managedByLabel = "app.kubernetes.io/managed-by"

// NewKubeClientset creates a clientset with kubeconfig auth when a path is
// given, in-cluster auth otherwise.
func NewKubeClientset(kubeconfig string) (kubernetes.Interface, error) {
	var restConfig *rest.Config
	var err error

	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s clientset: %w", err)
	}
	return clientset, nil
}

// LeaseBackend implements Backend on a coordination.k8s.io Lease. The lock is
// held while spec.holderIdentity is set. Writes rely on the resourceVersion
// precondition, so concurrent claimers see a Conflict and lose.
type LeaseBackend struct {
	clientset kubernetes.Interface
	namespace string
	name      string
}

// Ensure LeaseBackend implements Backend.
var _ Backend = (*LeaseBackend)(nil)

// NewLeaseBackend creates a Lease-based lock backend.
func NewLeaseBackend(clientset kubernetes.Interface, namespace, name string) *LeaseBackend {
	return &LeaseBackend{
		clientset: clientset,
		namespace: namespace,
		name:      name,
	}
}

// TryAcquire sets the holder identity if the Lease is free or missing.
func (b *LeaseBackend) TryAcquire(ctx context.Context, owner string) (bool, error) {
	leases := b.clientset.CoordinationV1().Leases(b.namespace)

	lease, err := leases.Get(ctx, b.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      b.name,
				Namespace: b.namespace,
				Labels:    map[string]string{managedByLabel: "masterlock"},
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity: ptr.To(owner),
				AcquireTime:    ptr.To(metav1.NowMicro()),
			},
		}, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to create lease: %w", err)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get lease: %w", err)
	}

	holder := ptr.Deref(lease.Spec.HolderIdentity, "")
	if holder == owner {
		return true, nil
	}
	if holder != "" {
		return false, nil
	}

	lease.Spec.HolderIdentity = ptr.To(owner)
	lease.Spec.AcquireTime = ptr.To(metav1.NowMicro())
	transitions := ptr.Deref(lease.Spec.LeaseTransitions, 0) + 1
	lease.Spec.LeaseTransitions = &transitions

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update lease: %w", err)
	}
	return true, nil
}

// releaseAttempts bounds Release retries after a resourceVersion conflict.
const releaseAttempts = 2

// Release clears the holder identity if owner holds the Lease. A conflict
// means the Lease was written meanwhile; it is re-read before reporting
// ErrNotHeld, since the write may not have touched the holder.
func (b *LeaseBackend) Release(ctx context.Context, owner string) error {
	leases := b.clientset.CoordinationV1().Leases(b.namespace)

	for attempt := 1; ; attempt++ {
		lease, err := leases.Get(ctx, b.name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return ErrNotHeld
		}
		if err != nil {
			return fmt.Errorf("failed to get lease: %w", err)
		}
		if ptr.Deref(lease.Spec.HolderIdentity, "") != owner {
			return ErrNotHeld
		}

		lease.Spec.HolderIdentity = nil
		lease.Spec.AcquireTime = nil
		_, err = leases.Update(ctx, lease, metav1.UpdateOptions{})
		if err == nil {
			return nil
		}
		if !apierrors.IsConflict(err) {
			return fmt.Errorf("failed to update lease: %w", err)
		}
		if attempt == releaseAttempts {
			return fmt.Errorf("failed to release lease after %d conflicts: %w", attempt, err)
		}
	}
}

// ForceRelease clears the holder identity whoever holds the Lease.
func (b *LeaseBackend) ForceRelease(ctx context.Context) error {
	leases := b.clientset.CoordinationV1().Leases(b.namespace)

	lease, err := leases.Get(ctx, b.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil {
		return nil
	}

	lease.Spec.HolderIdentity = nil
	lease.Spec.AcquireTime = nil
	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update lease: %w", err)
	}
	return nil
}

// Holder returns the Lease's holder identity, "" when free or missing.
func (b *LeaseBackend) Holder(ctx context.Context) (string, error) {
	lease, err := b.clientset.CoordinationV1().Leases(b.namespace).Get(ctx, b.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get lease: %w", err)
	}
	return ptr.Deref(lease.Spec.HolderIdentity, ""), nil
}
