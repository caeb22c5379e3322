package pools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"nithronos/zinstaller/internal/insterr"
)

// Topology is the redundancy layout of the storage pool.
type Topology string

const (
	Stripe Topology = "STRIPE"
	Mirror Topology = "MIRROR"
	RaidZ1 Topology = "RAIDZ1"
	RaidZ2 Topology = "RAIDZ2"
	RaidZ3 Topology = "RAIDZ3"
)

// MinCapacity is the smallest aggregate raw size accepted for a storage pool.
const MinCapacity uint64 = 10 << 30

var (
	ErrUnknownTopology      = errors.New("unknown topology")
	ErrTooFewDisks          = errors.New("too few disks for topology")
	ErrInsufficientCapacity = errors.New("insufficient pool capacity")
	ErrPoolNotOnline        = errors.New("pool not online")
)

var minDisks = map[Topology]int{
	Stripe: 1,
	Mirror: 2,
	RaidZ1: 3,
	RaidZ2: 4,
	RaidZ3: 5,
}

var parity = map[Topology]int{
	RaidZ1: 1,
	RaidZ2: 2,
	RaidZ3: 3,
}

// Topologies lists every supported layout in menu order.
func Topologies() []Topology {
	out := make([]Topology, 0, len(minDisks))
	for t := range minDisks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return minDisks[out[i]] < minDisks[out[j]] })
	return out
}

// ParseTopology accepts a topology name in any case.
func ParseTopology(s string) (Topology, error) {
	t := Topology(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := minDisks[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTopology, s)
	}
	return t, nil
}

func (t Topology) MinDisks() int { return minDisks[t] }

// Parity is the number of disks worth of space spent on parity for RAIDZ
// layouts; zero otherwise.
func (t Topology) Parity() int { return parity[t] }

// Keyword is the vdev type word passed to zpool create.
func (t Topology) Keyword() string { return strings.ToLower(string(t)) }

// ValidateTopology checks n disks satisfy the minimum for t.
func ValidateTopology(t Topology, n int) error {
	min, ok := minDisks[t]
	if !ok {
		return insterr.Wrap(ErrUnknownTopology, "Unknown storage pool type %q", string(t))
	}
	if n < min {
		return insterr.Wrap(ErrTooFewDisks, "Storage pool type %s requires at least %d disks, but only %d provided", t, min, n)
	}
	return nil
}

// ValidateCapacity rejects disk sets whose combined raw size is below MinCapacity.
func ValidateCapacity(sizes []uint64) error {
	var total uint64
	for _, s := range sizes {
		total += s
	}
	if total < MinCapacity {
		return insterr.Wrap(ErrInsufficientCapacity, "Storage pool capacity %s is below the minimum of %s",
			humanize.IBytes(total), humanize.IBytes(MinCapacity))
	}
	return nil
}

// UsableBytes estimates the space a pool of the given disks offers.
func UsableBytes(t Topology, sizes []uint64) uint64 {
	if len(sizes) == 0 {
		return 0
	}
	smallest := sizes[0]
	var total uint64
	for _, s := range sizes {
		total += s
		if s < smallest {
			smallest = s
		}
	}
	n := uint64(len(sizes))
	switch t {
	case Stripe:
		return total
	case Mirror:
		return smallest * (n / 2)
	case RaidZ1, RaidZ2, RaidZ3:
		p := uint64(t.Parity())
		if n <= p {
			return 0
		}
		return smallest * (n - p)
	}
	return 0
}
