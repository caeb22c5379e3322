// Package prepare wipes and partitions disks ahead of pool creation.
package prepare

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/insterr"
	"nithronos/zinstaller/pkg/shell"
)

const (
	DefaultTries    = 30
	DefaultInterval = time.Second

	// zeroMiB is how much of each end of a disk ForceClean overwrites.
	zeroMiB = 100
	// maxPartition bounds the partition nodes probed when clearing labels.
	maxPartition = 15
)

// BootPartitions are the partitions FormatDisk lays out: BIOS boot, EFI, data.
var BootPartitions = []int{1, 2, 3}

// DataPartition is the partition number that joins the boot pool.
const DataPartition = 3

var errPartitionMissing = errors.New("partition missing")

type Preparer struct {
	run shell.Runner
	log zerolog.Logger

	Tries    int
	Interval time.Duration
	// Exists reports whether a device node is present.
	Exists func(path string) bool
}

func New(run shell.Runner, log zerolog.Logger) *Preparer {
	return &Preparer{
		run:      run,
		log:      log.With().Str("component", "prepare").Logger(),
		Tries:    DefaultTries,
		Interval: DefaultInterval,
		Exists:   nodeExists,
	}
}

func nodeExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// try runs a best-effort command and logs, rather than returns, its failure.
func (p *Preparer) try(ctx context.Context, name string, args ...string) bool {
	res, err := p.run.Run(ctx, name, args...)
	if err != nil {
		p.log.Warn().Err(err).Str("cmd", name).Strs("args", args).Str("output", res.Output()).Msg("ignored failure")
		return false
	}
	return true
}

// WipeDisk clears ZFS labels of every known member, then filesystem signatures
// and the partition table. Nothing here is fatal; only context cancellation is
// returned.
func (p *Preparer) WipeDisk(ctx context.Context, d disks.Disk) error {
	p.log.Info().Str("disk", d.Name).Msg("wiping disk")
	for _, m := range d.ZfsMembers {
		p.try(ctx, "zpool", "labelclear", "-f", disks.DevicePath(m.Device))
	}
	p.try(ctx, "wipefs", "-a", d.Device)
	p.try(ctx, "sgdisk", "-Z", d.Device)
	return ctx.Err()
}

// WipeSignatures erases filesystem signatures from device, best-effort.
func (p *Preparer) WipeSignatures(ctx context.Context, device string) {
	p.try(ctx, "wipefs", "-a", device)
}

// ClearLabels removes ZFS labels from the whole device and from every
// partition node that currently exists on it.
func (p *Preparer) ClearLabels(ctx context.Context, d disks.Disk) error {
	p.try(ctx, "zpool", "labelclear", "-f", d.Device)
	for i := 1; i <= maxPartition; i++ {
		part := disks.PartitionPath(d.Device, i)
		if p.Exists(part) {
			p.try(ctx, "zpool", "labelclear", "-f", part)
		}
	}
	return ctx.Err()
}

// ForceClean is the aggressive cleanup applied to destination disks: it also
// zeroes the first and last 100 MiB so stale labels at either end are gone.
func (p *Preparer) ForceClean(ctx context.Context, d disks.Disk) error {
	p.log.Info().Str("disk", d.Name).Msg("force cleaning disk")
	p.try(ctx, "wipefs", "-a", d.Device)
	p.try(ctx, "sgdisk", "-Z", d.Device)
	of := "of=" + d.Device
	p.try(ctx, "dd", "if=/dev/zero", of, "bs=1M", "count="+strconv.Itoa(zeroMiB))
	if size := p.deviceSize(ctx, d); size > 2*zeroMiB<<20 {
		seek := size>>20 - zeroMiB
		p.try(ctx, "dd", "if=/dev/zero", of, "bs=1M", "count="+strconv.Itoa(zeroMiB), "seek="+strconv.FormatUint(seek, 10))
	} else {
		p.log.Debug().Str("disk", d.Name).Uint64("size", size).Msg("skipping tail zeroing")
	}
	return p.ClearLabels(ctx, d)
}

func (p *Preparer) deviceSize(ctx context.Context, d disks.Disk) uint64 {
	if d.Size > 0 {
		return d.Size
	}
	res, err := p.run.Run(ctx, "blockdev", "--getsize64", d.Device)
	if err != nil {
		p.log.Warn().Err(err).Str("disk", d.Name).Msg("cannot read device size")
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(res.Stdout)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// FormatDisk wipes d and lays out the BIOS boot, EFI and data partitions. It
// returns the device path of each partition.
func (p *Preparer) FormatDisk(ctx context.Context, d disks.Disk, setPMBR bool) (map[int]string, error) {
	if err := p.WipeDisk(ctx, d); err != nil {
		return nil, err
	}
	layout := [][]string{
		{"-a4096", "-n1:0:+1024K", "-t1:EF02", "-A1:set:2"},
		{"-n2:0:+524288K", "-t2:EF00"},
		{"-n3:0:0", "-t3:BF01"},
	}
	for i, args := range layout {
		res, err := p.run.Run(ctx, "sgdisk", append(args, d.Device)...)
		if err != nil {
			return nil, insterr.Wrap(err, "Failed to create partition %d on %s: %s", i+1, d.Name, firstLine(res.Output(), err))
		}
	}
	parts, err := p.WaitForPartitions(ctx, d, BootPartitions, p.Tries)
	if err != nil {
		return nil, err
	}
	if setPMBR {
		p.try(ctx, "parted", "-s", d.Device, "disk_set", "pmbr_boot", "on")
	}
	return parts, nil
}

// WaitForPartitions polls until every partition in nums has a device node,
// making at most tries checks spaced by Interval.
func (p *Preparer) WaitForPartitions(ctx context.Context, d disks.Disk, nums []int, tries int) (map[int]string, error) {
	if tries < 1 {
		tries = 1
	}
	found := map[int]string{}
	missing := 0
	op := func() error {
		for _, n := range nums {
			if _, ok := found[n]; ok {
				continue
			}
			path := disks.PartitionPath(d.Device, n)
			if !p.Exists(path) {
				missing = n
				return errPartitionMissing
			}
			found[n] = path
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(tries-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, errPartitionMissing) {
			return nil, insterr.Wrap(err, "Failed to find partition number %d on %s", missing, d.Name)
		}
		return nil, err
	}
	return found, nil
}

func firstLine(out string, err error) string {
	if out == "" {
		out = err.Error()
	}
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		return out[:i]
	}
	return out
}
