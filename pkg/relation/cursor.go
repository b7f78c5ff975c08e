package relation

import (
	"fmt"

	"github.com/KevoDB/blockq/pkg/buffer"
	"github.com/KevoDB/blockq/pkg/tuple"
)

// Cursor walks the live tuples of a relation in block then slot order,
// holding at most one block of the pool at a time. Moving within the held
// block is free; moving to another block releases the held frame and reads
// the new block (one I/O).
type Cursor struct {
	pool *buffer.Pool
	rel  Relation

	blk *buffer.Block
	pos Position
	cur tuple.Tuple
	ok  bool
}

// NewCursor creates a cursor positioned on the first live tuple of rel
func NewCursor(pool *buffer.Pool, rel Relation) (*Cursor, error) {
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	c := &Cursor{pool: pool, rel: rel}
	if err := c.Seek(Position{Block: rel.Start, Slot: 0}); err != nil {
		return nil, err
	}
	return c, nil
}

// Valid reports whether the cursor is positioned on a tuple
func (c *Cursor) Valid() bool {
	return c.ok
}

// Tuple returns the current tuple; only meaningful when Valid
func (c *Cursor) Tuple() tuple.Tuple {
	return c.cur
}

// Position returns the current position. When the cursor is exhausted the
// position is one past the last block.
func (c *Cursor) Position() Position {
	return c.pos
}

// Relation returns the relation being scanned
func (c *Cursor) Relation() Relation {
	return c.rel
}

// Next advances to the following live tuple
func (c *Cursor) Next() error {
	if !c.ok {
		return nil
	}
	return c.Seek(Position{Block: c.pos.Block, Slot: c.pos.Slot + 1})
}

// Seek positions the cursor on the first live tuple at or after p
func (c *Cursor) Seek(p Position) error {
	c.ok = false
	for p.Block <= c.rel.End {
		if p.Block < c.rel.Start {
			p = Position{Block: c.rel.Start}
		}
		if err := c.load(p.Block); err != nil {
			return err
		}
		data := c.blk.Data()
		for ; p.Slot < tuple.TuplesPerBlock; p.Slot++ {
			if tuple.IsEmpty(data, p.Slot) {
				continue
			}
			c.pos = p
			c.cur = tuple.Get(data, p.Slot)
			c.ok = true
			return nil
		}
		p = Position{Block: p.Block + 1}
	}

	c.pos = Position{Block: c.rel.End + 1}
	c.release()
	return nil
}

func (c *Cursor) load(id int) error {
	if c.blk != nil && c.blk.ID() == id {
		return nil
	}
	c.release()
	blk, err := c.pool.Read(id)
	if err != nil {
		return fmt.Errorf("cursor over %s: %w", c.rel, err)
	}
	c.blk = blk
	return nil
}

func (c *Cursor) release() {
	if c.blk != nil {
		c.pool.Release(c.blk)
		c.blk = nil
	}
}

// Close releases the held block
func (c *Cursor) Close() {
	c.release()
	c.ok = false
}
