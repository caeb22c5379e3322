package disks

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ZfsMember records that a disk, or one of its partitions, belongs to a pool.
type ZfsMember struct {
	Pool   string `json:"pool"`
	Device string `json:"device"`
}

// Disk is a read-only snapshot of a whole block device.
type Disk struct {
	Name       string      `json:"name"`
	Device     string      `json:"device"`
	Model      string      `json:"model,omitempty"`
	Label      string      `json:"label,omitempty"`
	Size       uint64      `json:"size"`
	Rota       *bool       `json:"rota,omitempty"`
	Tran       string      `json:"tran,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	ZfsMembers []ZfsMember `json:"zfs_members"`
}

// HumanSize renders Size in binary units, e.g. "120 GiB".
func (d Disk) HumanSize() string {
	return humanize.IBytes(d.Size)
}

// InPool reports whether any part of the disk belongs to pool.
func (d Disk) InPool(pool string) bool {
	for _, m := range d.ZfsMembers {
		if m.Pool == pool {
			return true
		}
	}
	return false
}

// Pools returns the sorted, distinct pool names the disk participates in.
func (d Disk) Pools() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, m := range d.ZfsMembers {
		if m.Pool == "" || seen[m.Pool] {
			continue
		}
		seen[m.Pool] = true
		out = append(out, m.Pool)
	}
	sort.Strings(out)
	return out
}

// DevicePath returns "/dev/<name>" unless name already is a path.
func DevicePath(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return "/dev/" + name
}

// PartitionPath returns the node of partition n on device, following the
// kernel rule that a "p" separates the number when the device ends in a digit.
func PartitionPath(device string, n int) string {
	if device == "" {
		return ""
	}
	last := device[len(device)-1]
	if last >= '0' && last <= '9' {
		return device + "p" + strconv.Itoa(n)
	}
	return device + strconv.Itoa(n)
}

func Names(list []Disk) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.Name
	}
	return out
}

func ByName(list []Disk) map[string]Disk {
	out := make(map[string]Disk, len(list))
	for _, d := range list {
		out[d.Name] = d
	}
	return out
}

// Select returns the disks of list named in names, in the order of names.
// The second result holds names that were not found.
func Select(list []Disk, names []string) ([]Disk, []string) {
	idx := ByName(list)
	var out []Disk
	var missing []string
	for _, n := range names {
		if d, ok := idx[n]; ok {
			out = append(out, d)
		} else {
			missing = append(missing, n)
		}
	}
	return out, missing
}
