package ring

import "fmt"

// SizeMismatchError is returned when an existing ring's capacity or slot
// size disagrees with what the opener asked for.
type SizeMismatchError struct {
	WantCapacity, GotCapacity uint32
	WantSlotSize, GotSlotSize uint32
}

func (m SizeMismatchError) Error() string {
	return fmt.Sprintf(
		"ring layout mismatch: want capacity=%d slot_size=%d, existing capacity=%d slot_size=%d",
		m.WantCapacity, m.WantSlotSize, m.GotCapacity, m.GotSlotSize,
	)
}

// BadMagicError is returned when a region's header does not carry a
// recognizable ring magic value, nor the zero value of a never-initialized
// region.
type BadMagicError struct {
	Got uint32
}

func (m BadMagicError) Error() string {
	return fmt.Sprintf("ring: unrecognized header magic 0x%x", m.Got)
}

// BadVersionError is returned when a region's header layout_version is not
// one this build understands.
type BadVersionError struct {
	Got uint32
}

func (m BadVersionError) Error() string {
	return fmt.Sprintf("ring: unsupported layout version %d", m.Got)
}
