package dissect

import (
	"fmt"
	"strings"
)

// Partition is a region of a flash layout.
type Partition struct {
	// Name matches the partition name stored in RBL headers
	Name string

	// Start is the physical flash offset
	Start uint32

	// Size is the physical size in bytes
	Size uint32

	// MappedAddress is the CPU address the partition is executed from, used
	// to key the code cipher
	MappedAddress uint32
}

// Layout is a named set of partitions.
type Layout struct {
	Name       string
	Partitions []Partition
}

// Flash layouts used by Beken SDKs.
var (
	LayoutOTA1 = Layout{
		Name: "ota_1",
		Partitions: []Partition{
			{Name: "bootloader", Start: 0x00000, Size: 0x11000, MappedAddress: 0x00000},
			{Name: "app", Start: 0x11000, Size: 0x121000, MappedAddress: 0x10000},
		},
	}

	LayoutOTA2 = Layout{
		Name: "ota_2",
		Partitions: []Partition{
			{Name: "bootloader", Start: 0x00000, Size: 0x11000, MappedAddress: 0x00000},
			{Name: "app", Start: 0x11000, Size: 0x119000, MappedAddress: 0x10000},
		},
	}
)

// Layouts returns the known layouts.
func Layouts() []Layout {
	return []Layout{LayoutOTA1, LayoutOTA2}
}

// LayoutByName returns the layout with the given name.
func LayoutByName(name string) (Layout, error) {
	var names []string
	for _, l := range Layouts() {
		if l.Name == name {
			return l, nil
		}
		names = append(names, l.Name)
	}
	return Layout{}, fmt.Errorf("unknown flash layout %q (known: %s)", name, strings.Join(names, ", "))
}

// Partition returns the partition with the given name.
func (l Layout) Partition(name string) (Partition, bool) {
	for _, p := range l.Partitions {
		if p.Name == name {
			return p, true
		}
	}
	return Partition{}, false
}

// mappedAddress returns the cipher address of a partition, or 0 when the
// layout does not know it.
func (l Layout) mappedAddress(name string) uint32 {
	if p, ok := l.Partition(name); ok {
		return p.MappedAddress
	}
	return 0
}
