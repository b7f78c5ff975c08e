// Package disk provides the simulated block-addressable disk underneath the
// buffer pool. Blocks are fixed-size and addressed by non-negative integer ids.
package disk

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/KevoDB/blockq/pkg/tuple"
)

var (
	// ErrBlockNotFound is returned when reading an address that was never written
	ErrBlockNotFound = errors.New("block not found")
	// ErrCorruptBlock is returned when a stored block fails its checksum
	ErrCorruptBlock = errors.New("corrupt block")
	// ErrInvalidBlockID is returned for negative block ids
	ErrInvalidBlockID = errors.New("invalid block id")
	// ErrBlockSize is returned when a buffer does not match the block size
	ErrBlockSize = errors.New("buffer size does not match block size")
	// ErrClosed is returned when using a closed disk
	ErrClosed = errors.New("disk is closed")
)

// Disk is a block-addressable store
type Disk interface {
	// ReadBlock copies block id into dst, which must be tuple.BlockSize bytes
	ReadBlock(id int, dst []byte) error
	// WriteBlock persists src at block id
	WriteBlock(id int, src []byte) error
	// BlockIDs returns every written block id in ascending order
	BlockIDs() ([]int, error)
	// Close releases any resources held by the disk
	Close() error
}

func checkArgs(id int, buf []byte) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockID, id)
	}
	if len(buf) != tuple.BlockSize {
		return fmt.Errorf("%w: got %d bytes, expected %d", ErrBlockSize, len(buf), tuple.BlockSize)
	}
	return nil
}

// MemDisk keeps blocks in memory
type MemDisk struct {
	mu     sync.RWMutex
	blocks map[int][]byte
	closed bool
}

// NewMemDisk creates an empty in-memory disk
func NewMemDisk() *MemDisk {
	return &MemDisk{blocks: make(map[int][]byte)}
}

// ReadBlock implements Disk
func (d *MemDisk) ReadBlock(id int, dst []byte) error {
	if err := checkArgs(id, dst); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	data, ok := d.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBlockNotFound, id)
	}
	copy(dst, data)
	return nil
}

// WriteBlock implements Disk
func (d *MemDisk) WriteBlock(id int, src []byte) error {
	if err := checkArgs(id, src); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	d.blocks[id] = append([]byte(nil), src...)
	return nil
}

// BlockIDs implements Disk
func (d *MemDisk) BlockIDs() ([]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	ids := make([]int, 0, len(d.blocks))
	for id := range d.blocks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Close implements Disk
func (d *MemDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.blocks = nil
	return nil
}
