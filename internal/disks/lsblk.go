package disks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"nithronos/zinstaller/pkg/shell"
)

// Lister supplies the current snapshot of block devices.
type Lister interface {
	List(ctx context.Context) ([]Disk, error)
}

type lsblkJSON struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	KName    string        `json:"kname"`
	Path     string        `json:"path"`
	Size     any           `json:"size"`
	Rota     any           `json:"rota"`
	Type     string        `json:"type"`
	Tran     string        `json:"tran"`
	Model    string        `json:"model"`
	Label    string        `json:"label"`
	Serial   string        `json:"serial"`
	FSType   string        `json:"fstype"`
	ReadOnly any           `json:"ro"`
	Children []lsblkDevice `json:"children"`
}

var lsblkArgs = []string{"-J", "-b", "-o", "NAME,KNAME,PATH,SIZE,ROTA,TYPE,TRAN,MODEL,LABEL,SERIAL,FSTYPE,RO"}

// skipPrefixes are virtual devices never offered for installation.
var skipPrefixes = []string{"loop", "ram", "zram", "sr", "fd", "md", "dm-", "nbd"}

// LsblkLister enumerates disks with lsblk.
type LsblkLister struct {
	Runner shell.Runner
}

func (l LsblkLister) List(ctx context.Context) ([]Disk, error) {
	res, err := l.Runner.Run(ctx, "lsblk", lsblkArgs...)
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	return ParseLsblk(res.Stdout)
}

func ParseSizeToBytes(v any) uint64 {
	switch t := v.(type) {
	case float64:
		if t > 0 {
			return uint64(t)
		}
	case string:
		if n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// lsblk prints booleans as true/false, "1"/"0" or 1/0 depending on version
func parseFlag(v any) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case float64:
		b = t != 0
	case string:
		switch t {
		case "1", "true":
			b = true
		case "0", "false":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}

// ParseLsblk converts `lsblk -J -b` output into whole-disk snapshots sorted by name.
func ParseLsblk(data []byte) ([]Disk, error) {
	var tree lsblkJSON
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse lsblk: %w", err)
	}
	out := []Disk{}
	for _, d := range tree.Blockdevices {
		if d.Type != "disk" || skipDevice(d.Name) {
			continue
		}
		if ro := parseFlag(d.ReadOnly); ro != nil && *ro {
			continue
		}
		size := ParseSizeToBytes(d.Size)
		if size == 0 {
			continue
		}
		path := d.Path
		if path == "" {
			path = DevicePath(d.Name)
		}
		disk := Disk{
			Name:       d.Name,
			Device:     path,
			Model:      strings.TrimSpace(d.Model),
			Label:      strings.TrimSpace(d.Label),
			Size:       size,
			Rota:       parseFlag(d.Rota),
			Tran:       d.Tran,
			Serial:     strings.TrimSpace(d.Serial),
			ZfsMembers: []ZfsMember{},
		}
		var walk func(n lsblkDevice)
		walk = func(n lsblkDevice) {
			if n.FSType == "zfs_member" {
				disk.ZfsMembers = append(disk.ZfsMembers, ZfsMember{Pool: n.Label, Device: n.Name})
			}
			for _, c := range n.Children {
				walk(c)
			}
		}
		walk(d)
		if disk.Label == "" {
			disk.Label = firstPartitionLabel(d)
		}
		out = append(out, disk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func skipDevice(name string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// firstPartitionLabel gives the menu something to show for disks whose label
// lives on a partition rather than the whole device.
func firstPartitionLabel(d lsblkDevice) string {
	for _, c := range d.Children {
		if l := strings.TrimSpace(c.Label); l != "" {
			return l
		}
	}
	return ""
}
