package engine

import (
	"errors"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/disk"
	"github.com/KevoDB/blockq/pkg/extsort"
	"github.com/KevoDB/blockq/pkg/join"
	"github.com/KevoDB/blockq/pkg/relation"
	"github.com/KevoDB/blockq/pkg/selection"
)

var (
	// ErrEngineClosed is returned when operations are performed on a closed engine
	ErrEngineClosed = errors.New("engine is closed")
)

// errorType maps an operation failure to the label used in stats and metrics
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrEngineClosed):
		return "engine_closed"
	case errors.Is(err, extsort.ErrFanInExceeded):
		return "fan_in_exceeded"
	case errors.Is(err, extsort.ErrInvalidRunSize):
		return "invalid_run_size"
	case errors.Is(err, selection.ErrNotSorted), errors.Is(err, join.ErrNotSorted):
		return "not_sorted"
	case errors.Is(err, selection.ErrBlockIDRange):
		return "block_id_range"
	case errors.Is(err, relation.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, relation.ErrInvalidTuple):
		return "invalid_tuple"
	case errors.Is(err, buffer.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, disk.ErrBlockNotFound):
		return "block_not_found"
	case errors.Is(err, disk.ErrCorruptBlock):
		return "corrupt_block"
	case errors.Is(err, disk.ErrInvalidSnapshot):
		return "invalid_snapshot"
	default:
		return "io"
	}
}
