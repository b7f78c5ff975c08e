package disk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/KevoDB/blockq/pkg/tuple"
)

// Codec selects the compression used for snapshots
type Codec byte

const (
	CodecNone Codec = iota
	CodecZstd
	CodecSnappy
)

var (
	// ErrInvalidSnapshot is returned when a snapshot cannot be decoded
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrUnknownCodec is returned for unsupported snapshot codecs
	ErrUnknownCodec = errors.New("unknown snapshot codec")
)

var snapshotMagic = [4]byte{'B', 'Q', 'S', '1'}

const (
	snapshotHeaderSize = 4 + 1
	snapshotRecordSize = 4 + tuple.BlockSize
)

// String returns the codec name
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("codec(%d)", byte(c))
	}
}

// ParseCodec maps a codec name to a Codec
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none", "":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "snappy":
		return CodecSnappy, nil
	default:
		return CodecNone, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// WriteSnapshot serializes every block of d to w.
//
// Layout: magic, codec byte, then the compressed payload. The payload is a
// sequence of [uint32 id][block] records followed by an xxhash64 of the records.
// It returns the number of blocks written.
func WriteSnapshot(d Disk, w io.Writer, codec Codec) (int, error) {
	ids, err := d.BlockIDs()
	if err != nil {
		return 0, err
	}

	payload := make([]byte, 0, len(ids)*snapshotRecordSize+8)
	block := make([]byte, tuple.BlockSize)
	for _, id := range ids {
		if err := d.ReadBlock(id, block); err != nil {
			return 0, fmt.Errorf("failed to read block %d for snapshot: %w", id, err)
		}
		payload = binary.LittleEndian.AppendUint32(payload, uint32(id))
		payload = append(payload, block...)
	}
	payload = binary.LittleEndian.AppendUint64(payload, xxhash.Sum64(payload))

	compressed, err := compress(payload, codec)
	if err != nil {
		return 0, err
	}

	header := make([]byte, 0, snapshotHeaderSize)
	header = append(header, snapshotMagic[:]...)
	header = append(header, byte(codec))
	if _, err := w.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write snapshot header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return 0, fmt.Errorf("failed to write snapshot payload: %w", err)
	}
	return len(ids), nil
}

// ReadSnapshot restores every block from r into d and returns the block count
func ReadSnapshot(d Disk, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) < snapshotHeaderSize || !bytes.Equal(data[:4], snapshotMagic[:]) {
		return 0, fmt.Errorf("%w: bad header", ErrInvalidSnapshot)
	}

	payload, err := decompress(data[snapshotHeaderSize:], Codec(data[4]))
	if err != nil {
		return 0, err
	}
	if len(payload) < 8 || (len(payload)-8)%snapshotRecordSize != 0 {
		return 0, fmt.Errorf("%w: truncated payload of %d bytes", ErrInvalidSnapshot, len(payload))
	}

	records := payload[:len(payload)-8]
	stored := binary.LittleEndian.Uint64(payload[len(payload)-8:])
	if computed := xxhash.Sum64(records); computed != stored {
		return 0, fmt.Errorf("%w: checksum mismatch", ErrInvalidSnapshot)
	}

	count := 0
	for off := 0; off < len(records); off += snapshotRecordSize {
		id := int(binary.LittleEndian.Uint32(records[off:]))
		if err := d.WriteBlock(id, records[off+4:off+snapshotRecordSize]); err != nil {
			return count, fmt.Errorf("failed to restore block %d: %w", id, err)
		}
		count++
	}
	return count, nil
}

func compress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CodecSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

func decompress(data []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return data, nil
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		return out, nil
	case CodecSnappy:
		out, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}
