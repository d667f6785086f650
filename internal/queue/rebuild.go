package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tesselab/ariadne/pkg/common"
	"github.com/tesselab/ariadne/pkg/community"
	"github.com/tesselab/ariadne/pkg/hierarchy"
	"github.com/tesselab/ariadne/pkg/leaselock"
	"github.com/tesselab/ariadne/pkg/logger"
)

// rebuildLeaseTTL bounds how long a crashed worker can block the next
// rebuild of the same tenant.
const rebuildLeaseTTL = 15 * time.Minute

// ProcessCommunityRebuild rebuilds the community index for the tenant in the
// message. The rebuild runs under a per-tenant lease; when another worker
// already holds it the message is dropped, since the running rebuild covers
// the same graph state or a rebuild message is queued right behind it.
func (h *Handler) ProcessCommunityRebuild(ctx context.Context, msg string) error {
	tenantID, err := rebuildTenant(msg)
	if err != nil {
		return err
	}

	err = h.locks.WithLease(ctx, leaselock.CommunityRebuildKey(tenantID), leaselock.Options{TTL: rebuildLeaseTTL}, func(ctx context.Context) error {
		return community.NewBuilder(h.store, h.client).Build(ctx, tenantID)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("Community rebuild already running", "tenant", tenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("community rebuild for %s: %w", tenantID, err)
	}
	return nil
}

// ProcessHierarchyRebuild rebuilds the hierarchy index for the tenant in the
// message, with the same lease semantics as the community rebuild.
func (h *Handler) ProcessHierarchyRebuild(ctx context.Context, msg string) error {
	tenantID, err := rebuildTenant(msg)
	if err != nil {
		return err
	}

	err = h.locks.WithLease(ctx, leaselock.HierarchyRebuildKey(tenantID), leaselock.Options{TTL: rebuildLeaseTTL}, func(ctx context.Context) error {
		return hierarchy.NewBuilder(h.store, h.client).Build(ctx, tenantID)
	})
	if errors.Is(err, leaselock.ErrBusy) {
		logger.Info("Hierarchy rebuild already running", "tenant", tenantID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("hierarchy rebuild for %s: %w", tenantID, err)
	}
	return nil
}

func rebuildTenant(msg string) (string, error) {
	data := new(RebuildMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return "", fmt.Errorf("unmarshal rebuild message: %w", err)
	}
	if data.TenantID == "" {
		return "", common.ErrMissingTenant
	}
	return data.TenantID, nil
}
