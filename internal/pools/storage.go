package pools

import (
	"context"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/insterr"
)

var storagePoolProps = []string{"ashift=12", "autotrim=on"}

var storageFSProps = []string{
	"acltype=posixacl",
	"normalization=formD",
	"relatime=on",
	"xattr=sa",
	"dnodesize=auto",
	"compression=lz4",
	"devices=off",
}

// CreateStoragePool wipes the named disks and builds the data pool on them.
// The disk count is checked before anything runs; any later failure leaves
// no pool behind.
func (m *Manager) CreateStoragePool(ctx context.Context, t Topology, names []string, notify func(string)) error {
	if err := ValidateTopology(t, len(names)); err != nil {
		return err
	}
	if notify == nil {
		notify = func(string) {}
	}
	err := m.createStoragePool(ctx, t, names, notify)
	if err != nil {
		if derr := m.Destroy(ctx, m.StoragePool); derr != nil {
			m.log.Debug().Err(derr).Str("pool", m.StoragePool).Msg("destroy after failure")
		}
		return insterr.From(err, "Error creating storage pool")
	}
	notify("Storage pool " + m.StoragePool + " created successfully")
	return nil
}

func (m *Manager) createStoragePool(ctx context.Context, t Topology, names []string, notify func(string)) error {
	log := m.log.With().Str("pool", m.StoragePool).Str("topology", string(t)).Strs("disks", names).Logger()
	for _, name := range names {
		dev := disks.DevicePath(name)
		log.Info().Str("disk", name).Msg("cleaning storage disk")
		for _, c := range [][]string{
			{"wipefs", "-a", dev},
			{"sgdisk", "-Z", dev},
			{"zpool", "labelclear", "-f", dev},
		} {
			if _, err := m.run.Run(ctx, c[0], c[1:]...); err != nil {
				log.Warn().Err(err).Strs("cmd", c).Msg("ignored failure")
			}
		}
	}

	status, err := m.Status(ctx, "")
	if err != nil {
		log.Debug().Err(err).Msg("zpool status failed")
	}
	for _, name := range names {
		if MentionsDisk(status, name) {
			return insterr.New("Disk %s is already in use by a ZFS pool", name)
		}
	}

	m.ExportDestroy(ctx, m.StoragePool)

	args := []string{"create", "-f"}
	args = append(args, optionArgs("-o", storagePoolProps)...)
	args = append(args, optionArgs("-O", storageFSProps)...)
	args = append(args, "-O", "mountpoint=/"+m.StoragePool, m.StoragePool)
	if t != Stripe && len(names) > 1 {
		args = append(args, t.Keyword())
	}
	for _, name := range names {
		args = append(args, disks.DevicePath(name))
	}

	notify("Creating storage pool")
	log.Info().Strs("args", args).Msg("creating storage pool")
	if res, err := m.run.Run(ctx, "zpool", args...); err != nil {
		return insterr.Wrap(err, "Error creating storage pool: %s", outputOf(res.Output(), err))
	}

	out, err := m.Status(ctx, m.StoragePool)
	if state := ParseState(out); err != nil || state != "ONLINE" {
		log.Error().Err(err).Str("state", state).Msg("pool failed verification")
		return insterr.Wrap(ErrPoolNotOnline, "Storage pool %s creation failed verification", m.StoragePool)
	}
	return nil
}
