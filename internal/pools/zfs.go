// Package pools creates and tears down the ZFS pools of an installation.
package pools

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/rs/zerolog"

	"nithronos/zinstaller/pkg/shell"
)

const (
	DefaultBootPool    = "boot-pool"
	DefaultStoragePool = "pool"
)

// PoolRef is one line of `zpool list -H -o name,guid`.
type PoolRef struct {
	Name string `json:"name"`
	GUID string `json:"guid"`
}

type Manager struct {
	run shell.Runner
	log zerolog.Logger

	BootPool    string
	StoragePool string
}

func New(run shell.Runner, log zerolog.Logger) *Manager {
	return &Manager{
		run:         run,
		log:         log.With().Str("component", "pools").Logger(),
		BootPool:    DefaultBootPool,
		StoragePool: DefaultStoragePool,
	}
}

// Managed reports whether name is one of the pools this installer owns.
func (m *Manager) Managed(name string) bool {
	return name == m.BootPool || name == m.StoragePool
}

func (m *Manager) Export(ctx context.Context, name string) error {
	_, err := m.run.Run(ctx, "zpool", "export", "-f", name)
	return err
}

func (m *Manager) Destroy(ctx context.Context, name string) error {
	_, err := m.run.Run(ctx, "zpool", "destroy", "-f", name)
	return err
}

// ExportDestroy exports then destroys name, logging failures of either step.
func (m *Manager) ExportDestroy(ctx context.Context, name string) {
	if err := m.Export(ctx, name); err != nil {
		m.log.Debug().Err(err).Str("pool", name).Msg("export failed")
	}
	if err := m.Destroy(ctx, name); err != nil {
		m.log.Debug().Err(err).Str("pool", name).Msg("destroy failed")
	}
}

func (m *Manager) LabelClear(ctx context.Context, device string) error {
	_, err := m.run.Run(ctx, "zpool", "labelclear", "-f", device)
	return err
}

// List returns the currently imported pools.
func (m *Manager) List(ctx context.Context) ([]PoolRef, error) {
	res, err := m.run.Run(ctx, "zpool", "list", "-H", "-o", "name,guid")
	if err != nil {
		return nil, err
	}
	return ParseList(res.Stdout), nil
}

func ParseList(out []byte) []PoolRef {
	refs := []PoolRef{}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		ref := PoolRef{Name: f[0]}
		if len(f) > 1 {
			ref.GUID = f[1]
		}
		refs = append(refs, ref)
	}
	return refs
}

// Status returns the text of `zpool status`, for one pool or all of them
// when name is empty.
func (m *Manager) Status(ctx context.Context, name string) (string, error) {
	args := []string{"status"}
	if name != "" {
		args = append(args, name)
	}
	res, err := m.run.Run(ctx, "zpool", args...)
	return string(res.Stdout), err
}

// ParseState extracts the value of the "state:" line of zpool status output.
func ParseState(status string) string {
	sc := bufio.NewScanner(strings.NewReader(status))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if v, ok := strings.CutPrefix(line, "state:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// MentionsDisk reports whether zpool status output lists disk, or one of its
// partitions, as a vdev. Both bare and /dev/ prefixed names are recognised.
func MentionsDisk(status, disk string) bool {
	for _, f := range strings.Fields(status) {
		f = strings.TrimPrefix(f, "/dev/")
		rest, ok := strings.CutPrefix(f, disk)
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, "p")
		if rest == "" || isDigits(rest) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (m *Manager) CreateDataset(ctx context.Context, name string, props ...string) error {
	args := []string{"create"}
	for _, p := range props {
		args = append(args, "-o", p)
	}
	args = append(args, name)
	_, err := m.run.Run(ctx, "zfs", args...)
	return err
}

func optionArgs(flag string, opts []string) []string {
	out := make([]string, 0, 2*len(opts))
	for _, o := range opts {
		out = append(out, flag, o)
	}
	return out
}
