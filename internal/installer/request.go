package installer

import (
	"errors"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/insterr"
	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
)

// InstallationError is the only error kind Install returns.
type InstallationError = insterr.Error

var ErrValidation = errors.New("invalid installation request")

// ProgressFunc receives non-decreasing fractions in [0,1]. It is called on
// the installing goroutine and must not block.
type ProgressFunc func(progress float64, message string)

type StoragePoolConfig struct {
	Topology pools.Topology `json:"topology"`
	Disks    []string       `json:"disks"`
}

type Request struct {
	DestinationDisks []disks.Disk
	// WipeDisks are erased but not installed to, typically disks holding a
	// stale boot pool.
	WipeDisks      []disks.Disk
	SetPMBR        bool
	Authentication *payload.AuthMethod
	PostInstall    map[string]any
	SerialSQL      string
	StoragePool    *StoragePoolConfig
}

// DisksToWipe returns the disks outside dest that carry a member of
// bootPool. Leaving them would make two pools of that name visible at boot.
func DisksToWipe(all []disks.Disk, dest []string, bootPool string) []disks.Disk {
	skip := map[string]bool{}
	for _, n := range dest {
		skip[n] = true
	}
	var out []disks.Disk
	for _, d := range all {
		if !skip[d.Name] && d.InPool(bootPool) {
			out = append(out, d)
		}
	}
	return out
}

// SelectDisks resolves names against the current disk listing.
func SelectDisks(all []disks.Disk, names []string) ([]disks.Disk, error) {
	found, missing := disks.Select(all, names)
	if len(missing) > 0 {
		return nil, insterr.Wrap(ErrValidation, "Disk %s not found", missing[0])
	}
	return found, nil
}
