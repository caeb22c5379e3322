package installer

import (
	"context"

	"nithronos/zinstaller/internal/disks"
)

// rollback exports and destroys the pools of a, newest first, then erases
// signatures from every destination and storage disk. Nothing here may
// replace the error that triggered it, so failures are only logged.
func (e *Engine) rollback(ctx context.Context, req Request, a *attempt) {
	a.log.Warn().Strs("pools", a.pools).Msg("rolling back")
	for i := len(a.pools) - 1; i >= 0; i-- {
		e.Pools.ExportDestroy(ctx, a.pools[i])
	}

	names := disks.Names(req.DestinationDisks)
	if req.StoragePool != nil {
		names = append(names, req.StoragePool.Disks...)
	}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		e.Prepare.WipeSignatures(ctx, disks.DevicePath(n))
	}
}
