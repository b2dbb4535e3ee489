package hub

import "fmt"

// SizeMismatchError is returned when an existing topic region was created
// with a different capacity than requested.
type SizeMismatchError struct {
	Topic                     string
	WantCapacity, GotCapacity uint32
}

func (m SizeMismatchError) Error() string {
	return fmt.Sprintf("hub: topic %q size mismatch: want capacity=%d, existing capacity=%d",
		m.Topic, m.WantCapacity, m.GotCapacity)
}

// RejectedValueError is returned by Send when the endpoint cannot reach its
// backing region at all. The rejected value is attached so the caller can
// retry or drop it (design §7: "the sent value is returned").
type RejectedValueError[T any] struct {
	Topic string
	Value T
	Err   error
}

func (m RejectedValueError[T]) Error() string {
	return fmt.Sprintf("hub: topic %q rejected value: %v", m.Topic, m.Err)
}

func (m RejectedValueError[T]) Unwrap() error { return m.Err }
