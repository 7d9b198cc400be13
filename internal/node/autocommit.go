package node

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/liftedinit/medchain/internal/consensus"
)

// AutoCommit attempts a commit every interval until ctx is done and drops
// expired consent tickets on each tick. Attempts refused because the window
// is open or nothing is pending are skipped silently.
func (n *Node) AutoCommit(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.consent.Sweep()
			if n.pending.Len() == 0 || n.engine.Remaining() > 0 {
				continue
			}
			msg, err := n.TryCommit(ctx)
			var werr *consensus.WindowError
			switch {
			case err == nil:
				slog.Info("Auto-commit", "result", msg)
			case errors.Is(err, consensus.ErrNoPending), errors.As(err, &werr):
				slog.Debug("Auto-commit skipped", "reason", err)
			default:
				slog.Warn("Auto-commit failed", "error", err)
			}
		}
	}
}
