// Package sysinfo reads facts about the machine the installer runs on.
package sysinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const DefaultVendor = "TrueNAS"

// RecommendedMemory is the smallest amount of RAM installs are not warned about.
const RecommendedMemory uint64 = 8 << 30

var (
	versionFile = "/etc/version"
	vendorFile  = "/data/.vendor"
	efiDir      = "/sys/firmware/efi"
	cmdlineFile = "/proc/cmdline"
)

type Info struct {
	Vendor      string `json:"vendor"`
	Version     string `json:"version"`
	EFI         bool   `json:"efi"`
	Hostname    string `json:"hostname,omitempty"`
	Kernel      string `json:"kernel,omitempty"`
	CPUs        int    `json:"cpus,omitempty"`
	MemoryBytes uint64 `json:"memory_bytes,omitempty"`
}

// Collect gathers Info; facts that cannot be read are left empty.
func Collect(ctx context.Context) Info {
	info := Info{Vendor: Vendor(), Version: Version(), EFI: EFI()}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.Kernel = h.KernelVersion
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUs = n
	}
	if total, err := TotalMemory(ctx); err == nil {
		info.MemoryBytes = total
	}
	return info
}

// Version returns the release being installed, or "unknown".
func Version() string {
	b, err := os.ReadFile(versionFile)
	if err != nil {
		return "unknown"
	}
	if v := strings.TrimSpace(string(b)); v != "" {
		return v
	}
	return "unknown"
}

// Vendor returns the product name from the vendor file, or DefaultVendor.
func Vendor() string {
	b, err := os.ReadFile(vendorFile)
	if err != nil {
		return DefaultVendor
	}
	var v struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(b, &v) != nil || v.Name == "" {
		return DefaultVendor
	}
	return v.Name
}

// EFI reports whether the installer was booted through UEFI firmware.
func EFI() bool {
	st, err := os.Stat(efiDir)
	return err == nil && st.IsDir()
}

func TotalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// SerialSQL returns the statements that carry a serial console setting from
// the installer's kernel command line over to the installed system. It is
// empty when no serial console is configured.
func SerialSQL() (string, error) {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		return "", fmt.Errorf("read kernel command line: %w", err)
	}
	return ParseSerialSQL(string(b)), nil
}

// ParseSerialSQL turns a console=ttyS<n>[,<speed>...] argument into SQL.
func ParseSerialSQL(cmdline string) string {
	var port, opts string
	for _, arg := range strings.Fields(cmdline) {
		v, ok := strings.CutPrefix(arg, "console=")
		if !ok || !strings.HasPrefix(v, "ttyS") {
			continue
		}
		port, opts, _ = strings.Cut(v, ",")
	}
	if port == "" {
		return ""
	}
	speed := 9600
	digits := opts
	if i := strings.IndexFunc(opts, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = opts[:i]
	}
	if n, err := strconv.Atoi(digits); err == nil && n > 0 {
		speed = n
	}
	return "UPDATE system_advanced SET adv_serialconsole = 1;" +
		fmt.Sprintf("UPDATE system_advanced SET adv_serialspeed = %d;", speed) +
		fmt.Sprintf("UPDATE system_advanced SET adv_serialport = '%s';", port)
}
