// Package buffer implements the bounded block buffer pool every algorithm
// works through. The pool holds at most Capacity blocks at a time and charges
// one I/O for every block read from or written to disk. There is no caching:
// reading the same block twice costs two I/Os, which is what makes the I/O
// counter a faithful cost model for out-of-core algorithms.
package buffer

import (
	"errors"
	"fmt"

	"github.com/KevoDB/blockq/pkg/common/log"
	"github.com/KevoDB/blockq/pkg/disk"
	"github.com/KevoDB/blockq/pkg/tuple"
)

var (
	// ErrInvalidCapacity is returned when a pool cannot be sized as requested
	ErrInvalidCapacity = errors.New("invalid buffer pool capacity")
	// ErrPoolExhausted is returned when every frame is already handed out
	ErrPoolExhausted = errors.New("buffer pool exhausted")
	// ErrForeignBlock is returned when a block is used with a pool that does not own it
	ErrForeignBlock = errors.New("block does not belong to this pool")
	// ErrPoolClosed is returned when using a closed pool
	ErrPoolClosed = errors.New("buffer pool is closed")
)

// IOStats counts the block transfers performed through a pool
type IOStats struct {
	Reads  uint64
	Writes uint64
}

// Total returns reads plus writes
func (s IOStats) Total() uint64 {
	return s.Reads + s.Writes
}

// Add returns the element-wise sum of two IOStats
func (s IOStats) Add(o IOStats) IOStats {
	return IOStats{Reads: s.Reads + o.Reads, Writes: s.Writes + o.Writes}
}

func (s IOStats) String() string {
	return fmt.Sprintf("%d (reads=%d writes=%d)", s.Total(), s.Reads, s.Writes)
}

// Block is one in-memory frame handed out by a Pool. It is exclusively owned
// by the caller until released.
type Block struct {
	pool  *Pool
	frame int
	// id is the disk address the block was read from or last written to, -1 if none
	id   int
	data []byte
}

// Data returns the block's bytes; writes go straight into the frame
func (b *Block) Data() []byte {
	return b.data
}

// ID returns the disk address bound to the block, or -1
func (b *Block) ID() int {
	return b.id
}

// Tuple decodes the tuple in slot
func (b *Block) Tuple(slot int) tuple.Tuple {
	return tuple.Get(b.data, slot)
}

// SetTuple encodes t into slot
func (b *Block) SetTuple(slot int, t tuple.Tuple) {
	tuple.Set(b.data, slot, t)
}

// Empty reports whether slot holds no tuple
func (b *Block) Empty(slot int) bool {
	return tuple.IsEmpty(b.data, slot)
}

// Clear zeroes the block
func (b *Block) Clear() {
	tuple.Clear(b.data)
}

// Pool is a fixed-capacity set of block frames bound to a disk
type Pool struct {
	disk   disk.Disk
	logger log.Logger

	frames []*Block
	free   []int
	inUse  int
	io     IOStats
	closed bool
	// onIO observes every transfer; used by the engine for stats
	onIO func(write bool, id int)
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the logger used for per-block I/O tracing
func WithLogger(logger log.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithIOObserver registers a callback invoked after every successful transfer
func WithIOObserver(fn func(write bool, id int)) Option {
	return func(p *Pool) {
		p.onIO = fn
	}
}

// New allocates a pool of capacity frames over d
func New(d disk.Disk, capacity int, options ...Option) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: nil disk", ErrInvalidCapacity)
	}

	p := &Pool{
		disk:   d,
		logger: log.GetDefaultLogger(),
		frames: make([]*Block, capacity),
		free:   make([]int, 0, capacity),
	}
	for _, option := range options {
		option(p)
	}

	mem := make([]byte, capacity*tuple.BlockSize)
	for i := capacity - 1; i >= 0; i-- {
		p.frames[i] = &Block{
			pool:  p,
			frame: i,
			id:    -1,
			data:  mem[i*tuple.BlockSize : (i+1)*tuple.BlockSize : (i+1)*tuple.BlockSize],
		}
		p.free = append(p.free, i)
	}
	return p, nil
}

func (p *Pool) acquire() (*Block, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	if len(p.free) == 0 {
		return nil, fmt.Errorf("%w: all %d frames in use", ErrPoolExhausted, len(p.frames))
	}
	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse++

	b := p.frames[idx]
	b.id = -1
	b.Clear()
	return b, nil
}

func (p *Pool) owns(b *Block) bool {
	return b != nil && b.pool == p && b.frame >= 0 && b.frame < len(p.frames) && p.frames[b.frame] == b
}

// NewBlock hands out a zeroed frame not bound to any disk address
func (p *Pool) NewBlock() (*Block, error) {
	return p.acquire()
}

// Read loads block id from disk into a free frame. One I/O.
func (p *Pool) Read(id int) (*Block, error) {
	b, err := p.acquire()
	if err != nil {
		return nil, err
	}
	if err := p.disk.ReadBlock(id, b.data); err != nil {
		p.Release(b)
		return nil, fmt.Errorf("failed to read block %d: %w", id, err)
	}
	b.id = id
	p.io.Reads++
	p.logger.Debug("read block %d", id)
	if p.onIO != nil {
		p.onIO(false, id)
	}
	return b, nil
}

// Write persists b at disk address id. One I/O. The frame stays owned by
// the caller.
func (p *Pool) Write(b *Block, id int) error {
	if p.closed {
		return ErrPoolClosed
	}
	if !p.owns(b) {
		return ErrForeignBlock
	}
	if err := p.disk.WriteBlock(id, b.data); err != nil {
		return fmt.Errorf("failed to write block %d: %w", id, err)
	}
	b.id = id
	p.io.Writes++
	p.logger.Debug("wrote block %d", id)
	if p.onIO != nil {
		p.onIO(true, id)
	}
	return nil
}

// Release returns a frame to the pool. Releasing nil or an already free
// frame is a no-op.
func (p *Pool) Release(b *Block) {
	if !p.owns(b) || p.closed {
		return
	}
	for _, idx := range p.free {
		if idx == b.frame {
			return
		}
	}
	b.id = -1
	p.free = append(p.free, b.frame)
	p.inUse--
}

// Close releases the whole pool. The I/O counters stay readable.
func (p *Pool) Close() {
	p.closed = true
	p.free = p.free[:0]
	p.inUse = 0
}

// IO returns the transfers performed so far
func (p *Pool) IO() IOStats {
	return p.io
}

// NumIO returns reads plus writes performed so far
func (p *Pool) NumIO() uint64 {
	return p.io.Total()
}

// InUse returns the number of frames currently handed out
func (p *Pool) InUse() int {
	return p.inUse
}

// Available returns the number of free frames
func (p *Pool) Available() int {
	if p.closed {
		return 0
	}
	return len(p.free)
}

// Capacity returns the number of frames
func (p *Pool) Capacity() int {
	return len(p.frames)
}
