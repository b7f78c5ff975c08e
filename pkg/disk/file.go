package disk

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/KevoDB/blockq/pkg/tuple"
)

const (
	blockFileExt = ".blk"
	checksumSize = 8
)

// FileDisk stores every block in its own file named <id>.blk under a
// directory. With checksums enabled each file carries an xxhash64 trailer
// that is verified on read.
type FileDisk struct {
	dir       string
	checksums bool

	mu     sync.RWMutex
	closed bool
}

// FileOption configures a FileDisk
type FileOption func(*FileDisk)

// WithChecksums enables or disables the per-block checksum trailer
func WithChecksums(enabled bool) FileOption {
	return func(d *FileDisk) {
		d.checksums = enabled
	}
}

// OpenFileDisk opens (creating if needed) a file-backed disk in dir
func OpenFileDisk(dir string, options ...FileOption) (*FileDisk, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create disk directory: %w", err)
	}

	d := &FileDisk{
		dir:       dir,
		checksums: true,
	}
	for _, option := range options {
		option(d)
	}
	return d, nil
}

// Dir returns the backing directory
func (d *FileDisk) Dir() string {
	return d.dir
}

func (d *FileDisk) path(id int) string {
	return filepath.Join(d.dir, strconv.Itoa(id)+blockFileExt)
}

// ReadBlock implements Disk
func (d *FileDisk) ReadBlock(id int, dst []byte) error {
	if err := checkArgs(id, dst); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	data, err := os.ReadFile(d.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %d", ErrBlockNotFound, id)
		}
		return fmt.Errorf("failed to read block %d: %w", id, err)
	}

	switch {
	case len(data) == tuple.BlockSize && !d.checksums:
	case len(data) == tuple.BlockSize+checksumSize:
		stored := binary.LittleEndian.Uint64(data[tuple.BlockSize:])
		if computed := xxhash.Sum64(data[:tuple.BlockSize]); computed != stored {
			return fmt.Errorf("%w: block %d checksum mismatch: expected %d, got %d",
				ErrCorruptBlock, id, stored, computed)
		}
	default:
		return fmt.Errorf("%w: block %d has %d bytes", ErrCorruptBlock, id, len(data))
	}

	copy(dst, data[:tuple.BlockSize])
	return nil
}

// WriteBlock implements Disk. The block is written to a temporary file and
// renamed into place.
func (d *FileDisk) WriteBlock(id int, src []byte) error {
	if err := checkArgs(id, src); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}

	data := make([]byte, tuple.BlockSize, tuple.BlockSize+checksumSize)
	copy(data, src)
	if d.checksums {
		data = binary.LittleEndian.AppendUint64(data, xxhash.Sum64(src))
	}

	path := d.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write block %d: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename block %d: %w", id, err)
	}
	return nil
}

// BlockIDs implements Disk
func (d *FileDisk) BlockIDs() ([]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, ErrClosed
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list disk directory: %w", err)
	}

	ids := make([]int, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, blockFileExt) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, blockFileExt))
		if err != nil || id < 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Close implements Disk
func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
