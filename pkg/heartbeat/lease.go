package heartbeat

import (
	"context"
	"fmt"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/utils/ptr"
)

// LeaseStore keeps the heartbeat in spec.renewTime of a dedicated Lease,
// separate from the lock Lease so heartbeat writes never conflict with
// acquisition attempts.
type LeaseStore struct {
	clientset kubernetes.Interface
	namespace string
	name      string
}

// Ensure LeaseStore implements Store.
var _ Store = (*LeaseStore)(nil)

// NewLeaseStore creates a heartbeat store in the Lease lockName+"-heartbeat".
func NewLeaseStore(clientset kubernetes.Interface, namespace, lockName string) *LeaseStore {
	return &LeaseStore{
		clientset: clientset,
		namespace: namespace,
		name:      lockName + "-heartbeat",
	}
}

// Update records t unless a later heartbeat is already stored.
func (s *LeaseStore) Update(ctx context.Context, t time.Time) error {
	return s.write(ctx, t, true)
}

// Reset records t unconditionally.
func (s *LeaseStore) Reset(ctx context.Context, t time.Time) error {
	return s.write(ctx, t, false)
}

func (s *LeaseStore) write(ctx context.Context, t time.Time, monotonic bool) error {
	leases := s.clientset.CoordinationV1().Leases(s.namespace)
	renew := metav1.NewMicroTime(t)

	lease, err := leases.Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      s.name,
				Namespace: s.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				RenewTime: &renew,
			},
		}, metav1.CreateOptions{})
		if err != nil {
			return fmt.Errorf("failed to create heartbeat lease: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get heartbeat lease: %w", err)
	}

	if monotonic && lease.Spec.RenewTime != nil && !lease.Spec.RenewTime.Time.Before(t) {
		return nil
	}
	lease.Spec.RenewTime = ptr.To(renew)

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update heartbeat lease: %w", err)
	}
	return nil
}

// Last returns the Lease's renew time.
func (s *LeaseStore) Last(ctx context.Context) (time.Time, error) {
	lease, err := s.clientset.CoordinationV1().Leases(s.namespace).Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get heartbeat lease: %w", err)
	}
	if lease.Spec.RenewTime == nil {
		return time.Time{}, nil
	}
	return lease.Spec.RenewTime.Time, nil
}
