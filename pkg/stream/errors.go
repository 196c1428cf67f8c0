package stream

import "errors"

var (
	// ErrNotUnique is returned by Unique when the stream produces more than one document
	ErrNotUnique = errors.New("stream produced more than one document")
	// ErrInvalidCursor is returned when a cursor does not decode against the stream it is used with
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrIncompatibleOrder is returned when merging streams with different comparison keys
	ErrIncompatibleOrder = errors.New("incompatible stream order")
	// ErrInvalidOrderBy is returned when OrderBy asks for fields the physical scan cannot honor
	ErrInvalidOrderBy = errors.New("invalid orderBy")
	// ErrInvalidPageSize is returned for negative page sizes and read budgets
	ErrInvalidPageSize = errors.New("invalid page size")
)
