package refmap

import "errors"

var (
	// ErrInvalidArgument is returned when a map is configured with a
	// negative capacity, a non-positive load factor or concurrency level,
	// or an unknown reference type.
	ErrInvalidArgument = errors.New("refmap: invalid argument")
	// ErrExhaustedIterator is returned by EntryIterator.Next when no
	// entries remain.
	ErrExhaustedIterator = errors.New("refmap: iterator exhausted")
	// ErrInvalidState is returned by EntryIterator.Remove when there is
	// no entry to remove.
	ErrInvalidState = errors.New("refmap: no entry to remove")
)
