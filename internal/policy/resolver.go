package policy

import (
	"context"
	"fmt"

	"github.com/ratewarden/ratewarden/internal/models"
)

// ResolverFunc adapts a function to the TierResolver interface.
type ResolverFunc func(ctx context.Context, callerID string) (*models.CallerTier, error)

func (f ResolverFunc) ResolveTier(ctx context.Context, callerID string) (*models.CallerTier, error) {
	return f(ctx, callerID)
}

// TierStore looks a tier up by name, nil when unknown.
type TierStore interface {
	FindByName(ctx context.Context, name string) (*models.CallerTier, error)
}

// DirectoryResolver resolves a caller's tier from a directory key in the
// shared store (written by the admin API) and the persisted tier catalog.
// Stands in for the external identity collaborator in single-process
// deployments.
type DirectoryResolver struct {
	directory Cache
	tiers     TierStore
}

func NewDirectoryResolver(directory Cache, tiers TierStore) *DirectoryResolver {
	return &DirectoryResolver{directory: directory, tiers: tiers}
}

func (r *DirectoryResolver) ResolveTier(ctx context.Context, callerID string) (*models.CallerTier, error) {
	name, err := r.directory.Get(ctx, directoryKey(callerID))
	if err != nil || name == "" {
		// Unknown caller, catalog falls back to the lowest tier
		return nil, nil
	}

	return r.tiers.FindByName(ctx, name)
}

// Assigns a caller to a tier in the directory. No TTL: assignment holds
// until changed.
func (r *DirectoryResolver) Assign(ctx context.Context, callerID, tierName string) error {
	return r.directory.Set(ctx, directoryKey(callerID), tierName, 0)
}

func directoryKey(callerID string) string {
	return fmt.Sprintf("caller:tier:%s", callerID)
}

var (
	_ TierResolver = (*DirectoryResolver)(nil)
	_ TierResolver = ResolverFunc(nil)
)
