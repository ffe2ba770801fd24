package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/config"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
	"github.com/dmitrijs2005/gatekeeper/internal/server/export"
)

// Backends are the optional external stores. A nil Directory or Export
// means the backend is not configured.
type Backends struct {
	Directory directory.Backend
	Export    export.Sink
}

// delegates reports whether passwords of role are checked by the directory.
func delegates(b Backends, cfg *config.Config, role string) bool {
	if b.Directory == nil {
		return false
	}
	roles := cfg.Directory.Roles
	return len(roles) == 0 || slices.Contains(roles, role)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// unavailable translates a raw backend error. The cause survives as text only.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
}
