package pools

import (
	"context"

	"nithronos/zinstaller/internal/insterr"
)

var bootPoolProps = []string{"ashift=12", "cachefile=none", "compatibility=grub2"}

var bootFSProps = []string{
	"acltype=off",
	"canmount=off",
	"compression=on",
	"devices=off",
	"mountpoint=none",
	"normalization=formD",
	"relatime=on",
	"xattr=sa",
}

// CreateBootPool builds the system pool over partitions, mirrored when there
// is more than one, and its ROOT and grub datasets.
func (m *Manager) CreateBootPool(ctx context.Context, partitions []string) error {
	if len(partitions) == 0 {
		return insterr.New("No partitions available for %s", m.BootPool)
	}
	args := []string{"create", "-f"}
	args = append(args, optionArgs("-o", bootPoolProps)...)
	args = append(args, optionArgs("-O", bootFSProps)...)
	args = append(args, m.BootPool)
	if len(partitions) > 1 {
		args = append(args, "mirror")
	}
	args = append(args, partitions...)

	m.log.Info().Str("pool", m.BootPool).Strs("partitions", partitions).Msg("creating boot pool")
	if res, err := m.run.Run(ctx, "zpool", args...); err != nil {
		return insterr.Wrap(err, "Failed to create %s: %s", m.BootPool, outputOf(res.Output(), err))
	}
	if err := m.CreateDataset(ctx, m.BootPool+"/ROOT", "canmount=off"); err != nil {
		m.ExportDestroy(ctx, m.BootPool)
		return insterr.Wrap(err, "Failed to create %s/ROOT: %v", m.BootPool, err)
	}
	if err := m.CreateDataset(ctx, m.BootPool+"/grub", "canmount=off", "mountpoint=legacy"); err != nil {
		m.ExportDestroy(ctx, m.BootPool)
		return insterr.Wrap(err, "Failed to create %s/grub: %v", m.BootPool, err)
	}
	return nil
}

func outputOf(out string, err error) string {
	if out != "" {
		return out
	}
	return err.Error()
}
