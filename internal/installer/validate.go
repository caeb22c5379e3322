package installer

import (
	"context"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/insterr"
	"nithronos/zinstaller/internal/pools"
	"nithronos/zinstaller/internal/sysinfo"
)

// plan is what validation learned that later stages need.
type plan struct {
	// touchedPools are pools with a member on any disk this request uses.
	touchedPools map[string]bool
}

// validate rejects bad requests before anything is written to a disk.
func (e *Engine) validate(ctx context.Context, req Request) (plan, error) {
	p := plan{touchedPools: map[string]bool{}}
	if len(req.DestinationDisks) == 0 {
		return p, insterr.Wrap(ErrValidation, "No destination disks selected")
	}
	dest := map[string]bool{}
	for _, d := range req.DestinationDisks {
		if dest[d.Name] {
			return p, insterr.Wrap(ErrValidation, "Disk %s selected more than once", d.Name)
		}
		dest[d.Name] = true
	}
	for _, d := range req.WipeDisks {
		if dest[d.Name] {
			return p, insterr.Wrap(ErrValidation, "Disk %s is selected both for installation and for erasure", d.Name)
		}
	}

	sp := req.StoragePool
	if sp != nil {
		seen := map[string]bool{}
		var overlap []string
		for _, n := range sp.Disks {
			if seen[n] {
				return p, insterr.Wrap(ErrValidation, "Storage pool disk %s selected more than once", n)
			}
			seen[n] = true
			if dest[n] {
				overlap = append(overlap, n)
			}
		}
		if len(overlap) > 0 {
			sort.Strings(overlap)
			return p, insterr.Wrap(ErrValidation, "Storage pool disks overlap with boot pool disks: %s", strings.Join(overlap, ", "))
		}
		if err := pools.ValidateTopology(sp.Topology, len(sp.Disks)); err != nil {
			return p, err
		}
	}

	var all []disks.Disk
	if e.Disks != nil {
		var err error
		all, err = e.Disks.List(ctx)
		if err != nil {
			if sp != nil {
				return p, insterr.Wrap(err, "Failed to list disks: %v", err)
			}
			e.log.Warn().Err(err).Msg("cannot list disks")
		}
	}

	if sp != nil {
		storage, err := SelectDisks(all, sp.Disks)
		if err != nil {
			return p, err
		}
		sizes := make([]uint64, len(storage))
		for i, d := range storage {
			sizes[i] = d.Size
			for _, pool := range d.Pools() {
				if !e.Pools.Managed(pool) {
					return p, insterr.Wrap(ErrValidation, "Disk %s is already in use by ZFS pool %s", d.Name, pool)
				}
			}
		}
		if err := pools.ValidateCapacity(sizes); err != nil {
			return p, err
		}
		e.log.Info().Str("topology", string(sp.Topology)).Strs("disks", sp.Disks).
			Str("usable", humanize.IBytes(pools.UsableBytes(sp.Topology, sizes))).Msg("storage pool validated")
	}

	touched := map[string]bool{}
	for _, d := range append(append([]disks.Disk{}, req.DestinationDisks...), req.WipeDisks...) {
		touched[d.Name] = true
		for _, pool := range d.Pools() {
			p.touchedPools[pool] = true
		}
	}
	if sp != nil {
		for _, n := range sp.Disks {
			touched[n] = true
		}
	}
	for _, d := range all {
		if !touched[d.Name] {
			continue
		}
		for _, pool := range d.Pools() {
			p.touchedPools[pool] = true
		}
	}

	for _, d := range req.DestinationDisks {
		for _, pool := range d.Pools() {
			if !e.Pools.Managed(pool) {
				e.log.Warn().Str("disk", d.Name).Str("pool", pool).Msg("destination disk belongs to another pool and will be erased")
			}
		}
	}
	e.checkMemory(ctx)
	return p, nil
}

func (e *Engine) checkMemory(ctx context.Context) {
	if e.Memory == nil {
		return
	}
	total, err := e.Memory(ctx)
	if err != nil {
		e.log.Debug().Err(err).Msg("cannot read memory size")
		return
	}
	if total < sysinfo.RecommendedMemory {
		e.log.Warn().Str("memory", humanize.IBytes(total)).Str("recommended", humanize.IBytes(sysinfo.RecommendedMemory)).
			Msg("system memory is below the recommended minimum")
	}
}
