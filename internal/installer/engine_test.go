package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nithronos/zinstaller/internal/config"
	"nithronos/zinstaller/internal/disks"
	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
	"nithronos/zinstaller/pkg/shell"
	"nithronos/zinstaller/pkg/shell/shelltest"
)

const gib = uint64(1) << 30

const lsblkOut = `{"blockdevices": [
  {"name":"sda","path":"/dev/sda","size":64424509440,"type":"disk","model":"SSD"},
  {"name":"sdb","path":"/dev/sdb","size":107374182400,"type":"disk","model":"HDD"},
  {"name":"sdc","path":"/dev/sdc","size":107374182400,"type":"disk","model":"HDD"},
  {"name":"sdd","path":"/dev/sdd","size":107374182400,"type":"disk","model":"HDD",
   "children":[{"name":"sdd1","path":"/dev/sdd1","size":107374182400,"type":"part","fstype":"zfs_member","label":"tank"}]},
  {"name":"sde","path":"/dev/sde","size":107374182400,"type":"disk","model":"HDD"}
]}`

// zfsState answers zpool commands from a set of imported pools, so tests can
// check which pools exist when Install returns.
type zfsState struct {
	mu    sync.Mutex
	pools map[string]bool
}

func (z *zfsState) install(f *shelltest.Fake) {
	z.pools = map[string]bool{}
	f.OnFunc("zpool create", func(c shelltest.Call) (shell.Result, error) {
		z.mu.Lock()
		defer z.mu.Unlock()
		z.pools[createdPool(c.Args)] = true
		return shell.Result{}, nil
	})
	f.OnFunc("zpool destroy", func(c shelltest.Call) (shell.Result, error) {
		z.mu.Lock()
		defer z.mu.Unlock()
		name := c.Args[len(c.Args)-1]
		if !z.pools[name] {
			return shell.Result{Code: 1}, &shell.ExitError{Name: "zpool", Args: c.Args, Code: 1, Stderr: "no such pool"}
		}
		delete(z.pools, name)
		return shell.Result{}, nil
	})
	f.OnFunc("zpool status", func(c shelltest.Call) (shell.Result, error) {
		z.mu.Lock()
		defer z.mu.Unlock()
		if len(c.Args) == 2 && z.pools[c.Args[1]] {
			return shell.Result{Stdout: []byte("  pool: " + c.Args[1] + "\n state: ONLINE\n")}, nil
		}
		return shell.Result{}, nil
	})
}

func (z *zfsState) exists(name string) bool {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.pools[name]
}

// createdPool returns the first argument of zpool create that is not an option.
func createdPool(args []string) string {
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-f":
		case "-o", "-O":
			i++
		default:
			return args[i]
		}
	}
	return ""
}

type harness struct {
	fake   *shelltest.Fake
	zfs    *zfsState
	engine *Engine
	all    []disks.Disk
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := shelltest.New().Stdout("lsblk", lsblkOut)
	z := &zfsState{}
	z.install(f)

	cfg := config.Defaults()
	cfg.LockFile = ""
	cfg.PartitionInterval = 0
	log := zerolog.Nop()
	e := New(cfg, f, disks.LsblkLister{Runner: f}, log)
	e.Prepare.Exists = func(string) bool { return true }
	e.Payload = payload.New(f, log, payload.Config{Image: "/cdrom/os.update", TempDir: t.TempDir()})
	e.Memory = func(context.Context) (uint64, error) { return 16 * gib, nil }

	all, err := disks.ParseLsblk([]byte(lsblkOut))
	if err != nil {
		t.Fatal(err)
	}
	return &harness{fake: f, zfs: z, engine: e, all: all}
}

func (h *harness) disks(t *testing.T, names ...string) []disks.Disk {
	t.Helper()
	out, err := SelectDisks(h.all, names)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

type progressLog struct {
	mu     sync.Mutex
	values []float64
	msgs   []string
}

func (p *progressLog) fn(v float64, m string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
	p.msgs = append(p.msgs, m)
}

func TestInstallSuccess(t *testing.T) {
	h := newHarness(t)
	h.fake.Process(shelltest.Script{Output: `{"progress": 0.5, "message": "Extracting"}` + "\n"})
	var prog progressLog
	req := Request{
		DestinationDisks: h.disks(t, "sda"),
		StoragePool:      &StoragePoolConfig{Topology: pools.Mirror, Disks: []string{"sdb", "sdc"}},
	}
	if err := h.engine.Install(context.Background(), req, prog.fn); err != nil {
		t.Fatalf("install: %v", err)
	}

	cmds := h.fake.Commands()
	order := []string{
		"lsblk",
		"zpool list -H -o name,guid",
		"dd if=/dev/zero of=/dev/sda bs=1M count=100",
		"sgdisk -n3:0:0 -t3:BF01 /dev/sda",
		"zpool create -f -o ashift=12 -o cachefile=none",
		"zfs create -o canmount=off boot-pool/ROOT",
		"zpool create -f -o ashift=12 -o autotrim=on",
		"mount /cdrom/os.update",
		"python3 -m truenas_install",
		"umount -f",
		"zpool export -f boot-pool",
		"zpool export -f pool",
	}
	last := -1
	for _, prefix := range order {
		i := -1
		for j := last + 1; j < len(cmds); j++ {
			if strings.HasPrefix(cmds[j], prefix) {
				i = j
				break
			}
		}
		if i < 0 {
			t.Fatalf("%q missing or out of order in\n%s", prefix, strings.Join(cmds, "\n"))
		}
		last = i
	}
	if !strings.Contains(cmds[h.fake.Index("zpool create -f -o ashift=12 -o cachefile=none")], "boot-pool /dev/sda3") {
		t.Fatalf("boot pool must use the data partition")
	}
	if h.fake.Has("parted") {
		t.Fatalf("pmbr not requested")
	}

	if n := len(prog.values); n == 0 || prog.values[n-1] != 1 || prog.msgs[n-1] != "Installation completed successfully" {
		t.Fatalf("final progress: %v %v", prog.values, prog.msgs)
	}
}

func TestRollbackDestroysBothPoolsAndKeepsInstallerError(t *testing.T) {
	h := newHarness(t)
	h.fake.Process(shelltest.Script{Output: "starting\n" + `{"error": "Failed to install GRUB"}` + "\n", Code: 1})
	req := Request{
		DestinationDisks: h.disks(t, "sda"),
		StoragePool:      &StoragePoolConfig{Topology: pools.Mirror, Disks: []string{"sdb", "sdc"}},
	}
	err := h.engine.Install(context.Background(), req, nil)
	var ie *InstallationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InstallationError, got %T %v", err, err)
	}
	if ie.Message != "Failed to install GRUB" {
		t.Fatalf("message: %q", ie.Message)
	}
	if h.zfs.exists("boot-pool") || h.zfs.exists("pool") {
		t.Fatalf("pools left behind: %v", h.zfs.pools)
	}

	cmds := h.fake.Commands()
	start := h.fake.Index("python3")
	tail := strings.Join(cmds[start:], "\n")
	want := []string{
		"zpool export -f pool",
		"zpool destroy -f pool",
		"zpool export -f boot-pool",
		"zpool destroy -f boot-pool",
		"wipefs -a /dev/sda",
		"wipefs -a /dev/sdb",
		"wipefs -a /dev/sdc",
	}
	if !strings.Contains(tail, strings.Join(want, "\n")) {
		t.Fatalf("rollback sequence wrong:\n%s", tail)
	}
}

func TestOverlapRejectedBeforeAnyCommand(t *testing.T) {
	h := newHarness(t)
	req := Request{
		DestinationDisks: h.disks(t, "sda", "sdb"),
		StoragePool:      &StoragePoolConfig{Topology: pools.Mirror, Disks: []string{"sdc", "sdb"}},
	}
	err := h.engine.Install(context.Background(), req, nil)
	if err == nil || err.Error() != "Storage pool disks overlap with boot pool disks: sdb" {
		t.Fatalf("unexpected: %v", err)
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error")
	}
	if n := len(h.fake.Calls()); n != 0 {
		t.Fatalf("commands ran: %v", h.fake.Commands())
	}
}

func TestTooFewStorageDisks(t *testing.T) {
	h := newHarness(t)
	req := Request{
		DestinationDisks: h.disks(t, "sda"),
		StoragePool:      &StoragePoolConfig{Topology: pools.RaidZ1, Disks: []string{"sdb", "sdc"}},
	}
	err := h.engine.Install(context.Background(), req, nil)
	if !errors.Is(err, pools.ErrTooFewDisks) {
		t.Fatalf("expected too few disks, got %v", err)
	}
	if h.fake.Has("zpool create") || h.fake.Has("wipefs") {
		t.Fatalf("destructive commands ran: %v", h.fake.Commands())
	}
}

func TestValidationRejects(t *testing.T) {
	cases := []struct {
		name string
		req  func(h *harness) Request
		want string
	}{
		{"no destination", func(h *harness) Request { return Request{} }, "No destination disks selected"},
		{"wipe overlaps destination", func(h *harness) Request {
			return Request{DestinationDisks: h.disks(t, "sda"), WipeDisks: h.disks(t, "sda")}
		}, "Disk sda is selected both for installation and for erasure"},
		{"foreign pool on storage disk", func(h *harness) Request {
			return Request{DestinationDisks: h.disks(t, "sda"), StoragePool: &StoragePoolConfig{Topology: pools.Mirror, Disks: []string{"sdc", "sdd"}}}
		}, "Disk sdd is already in use by ZFS pool tank"},
		{"unknown storage disk", func(h *harness) Request {
			return Request{DestinationDisks: h.disks(t, "sda"), StoragePool: &StoragePoolConfig{Topology: pools.Stripe, Disks: []string{"sdz"}}}
		}, "Disk sdz not found"},
	}
	for _, c := range cases {
		h := newHarness(t)
		err := h.engine.Install(context.Background(), c.req(h), nil)
		if err == nil || err.Error() != c.want {
			t.Fatalf("%s: got %v want %q", c.name, err, c.want)
		}
		if h.fake.Has("wipefs") || h.fake.Has("zpool") {
			t.Fatalf("%s: destructive commands ran: %v", c.name, h.fake.Commands())
		}
	}
}

func TestMissingPartitionRollsBack(t *testing.T) {
	h := newHarness(t)
	h.engine.Prepare.Tries = 3
	h.engine.Prepare.Exists = func(p string) bool { return p != "/dev/sda3" }
	err := h.engine.Install(context.Background(), Request{DestinationDisks: h.disks(t, "sda")}, nil)
	if err == nil || err.Error() != "Failed to find partition number 3 on sda" {
		t.Fatalf("unexpected: %v", err)
	}
	if h.fake.Has("zpool create") {
		t.Fatalf("boot pool created without partitions")
	}
	cmds := h.fake.Commands()
	if cmds[len(cmds)-1] != "wipefs -a /dev/sda" {
		t.Fatalf("rollback must wipe the destination last: %v", cmds)
	}
}

func TestCleanupLeavesUnrelatedPools(t *testing.T) {
	h := newHarness(t)
	h.fake.Stdout("zpool list", "boot-pool\t111\ntank\t222\nbackup\t333\n")
	wipe := []disks.Disk{{Name: "sde", Device: "/dev/sde", ZfsMembers: []disks.ZfsMember{{Pool: "backup", Device: "sde1"}}}}
	if err := h.engine.Install(context.Background(), Request{DestinationDisks: h.disks(t, "sda"), WipeDisks: wipe}, nil); err != nil {
		t.Fatalf("install: %v", err)
	}
	if !h.fake.Has("zpool export -f backup") || !h.fake.Has("zpool export -f boot-pool") {
		t.Fatalf("touched pools must be removed: %v", h.fake.Commands())
	}
	if h.fake.Has("zpool export -f tank") || h.fake.Has("zpool destroy -f tank") {
		t.Fatalf("unrelated pool touched")
	}
	if !h.fake.Has("zpool labelclear -f /dev/sde1") || h.fake.Index("zpool labelclear -f /dev/sde1") > h.fake.Index("zpool list") {
		t.Fatalf("wipe disks must be cleared first: %v", h.fake.Commands())
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness(t)
	h.fake.Process(shelltest.Script{Output: "" +
		`{"progress": 0.5, "message": "a"}` + "\n" +
		`{"progress": 0.3, "message": "b"}` + "\n" +
		`{"progress": 1.7, "message": "c"}` + "\n"})
	var prog progressLog
	if err := h.engine.Install(context.Background(), Request{DestinationDisks: h.disks(t, "sda")}, prog.fn); err != nil {
		t.Fatalf("install: %v", err)
	}
	prev := 0.0
	for i, v := range prog.values {
		if v < prev || v < 0 || v > 1 {
			t.Fatalf("progress %d out of order: %v", i, prog.values)
		}
		prev = v
	}
}

func TestPanicIsRolledBack(t *testing.T) {
	h := newHarness(t)
	h.fake.Process(shelltest.Script{Before: func() { panic("boom") }})
	err := h.engine.Install(context.Background(), Request{DestinationDisks: h.disks(t, "sda")}, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "Installation failed: unexpected fault during installer_run: boom") {
		t.Fatalf("unexpected: %v", err)
	}
	if h.zfs.exists("boot-pool") {
		t.Fatalf("boot pool left behind")
	}
	if h.engine.Lock.Busy() {
		t.Fatalf("lock not released")
	}
}

func TestConcurrentInstallsDoNotInterleave(t *testing.T) {
	h := newHarness(t)
	h.fake.Process(shelltest.Script{Before: func() { time.Sleep(30 * time.Millisecond) }})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"sda", "sdb"} {
		wg.Add(1)
		go func(i int, d []disks.Disk) {
			defer wg.Done()
			errs[i] = h.engine.Install(context.Background(), Request{DestinationDisks: d}, nil)
		}(i, h.disks(t, name))
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("install: %v", err)
		}
	}

	cmds := h.fake.Commands()
	var starts []int
	for i, c := range cmds {
		if strings.HasPrefix(c, "lsblk") {
			starts = append(starts, i)
		}
	}
	if len(starts) != 2 {
		t.Fatalf("expected two attempts: %v", cmds)
	}
	if cmds[starts[1]-1] != "zpool export -f boot-pool" {
		t.Fatalf("second attempt began before the first exported: %s", cmds[starts[1]-1])
	}
	first, second := cmds[:starts[1]], cmds[starts[1]:]
	disk := func(seg []string) string {
		for _, c := range seg {
			if strings.HasPrefix(c, "sgdisk -Z ") {
				return strings.TrimPrefix(c, "sgdisk -Z ")
			}
		}
		return ""
	}
	d1, d2 := disk(first), disk(second)
	if d1 == "" || d2 == "" || d1 == d2 {
		t.Fatalf("segments not attributable: %q %q", d1, d2)
	}
	for _, c := range second {
		if strings.Contains(c, d1+" ") || strings.HasSuffix(c, d1) {
			t.Fatalf("first attempt's disk %s used during second attempt: %s", d1, c)
		}
	}
}

func TestDisksToWipe(t *testing.T) {
	all := []disks.Disk{
		{Name: "sda", ZfsMembers: []disks.ZfsMember{{Pool: "boot-pool", Device: "sda3"}}},
		{Name: "sdb", ZfsMembers: []disks.ZfsMember{{Pool: "boot-pool", Device: "sdb3"}}},
		{Name: "sdc", ZfsMembers: []disks.ZfsMember{{Pool: "tank", Device: "sdc1"}}},
	}
	got := DisksToWipe(all, []string{"sda"}, "boot-pool")
	if len(got) != 1 || got[0].Name != "sdb" {
		t.Fatalf("got %v", disks.Names(got))
	}
}

func TestStageNames(t *testing.T) {
	if StageBootPoolReady.String() != "boot_pool_ready" || Stage(99).String() != fmt.Sprintf("Stage(%d)", 99) {
		t.Fatalf("stage names")
	}
}
