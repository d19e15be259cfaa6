// Package gguf reads tokenizer metadata out of GGUF model containers. Only
// the header and the string-keyed metadata section are parsed; the tensor
// directory and tensor data belong to the inference stack and are left
// untouched in the file.
package gguf

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const (
	ggufMagic           = "GGUF"
	minSupportedVersion = 2
)

// File holds the metadata of a GGUF container. Create one with Open or
// Parse and read keys through the typed accessors in metadata.go.
type File struct {
	// Version is the GGUF format version (2 or 3).
	Version uint32
	// TensorCount is the number of tensors the header declares. The
	// directory itself is not read.
	TensorCount uint64

	kv map[string]metaValue
}

// Open memory-maps a GGUF file and parses its metadata. Everything is
// copied out of the mapping, which is released before returning.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gguf: open %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("gguf: mmap %s: %w", path, err)
	}
	defer m.Unmap()

	file, err := Parse(m)
	if err != nil {
		return nil, fmt.Errorf("gguf: parse %s: %w", path, err)
	}
	return file, nil
}

// Parse reads a GGUF container from memory.
func Parse(data []byte) (*File, error) {
	c := &cursor{data: data}

	magic, err := c.take(4)
	if err != nil {
		return nil, fmt.Errorf("gguf: read magic: %w", err)
	}
	if string(magic) != ggufMagic {
		return nil, fmt.Errorf("gguf: invalid magic %q, expected %q", magic, ggufMagic)
	}

	version, err := c.u32()
	if err != nil {
		return nil, fmt.Errorf("gguf: read version: %w", err)
	}
	if version < minSupportedVersion {
		return nil, fmt.Errorf("gguf: unsupported version %d (minimum %d)", version, minSupportedVersion)
	}

	tensorCount, err := c.u64()
	if err != nil {
		return nil, fmt.Errorf("gguf: read tensor count: %w", err)
	}
	kvCount, err := c.u64()
	if err != nil {
		return nil, fmt.Errorf("gguf: read kv count: %w", err)
	}

	file := &File{
		Version:     version,
		TensorCount: tensorCount,
		kv:          make(map[string]metaValue, kvCount),
	}
	for i := range kvCount {
		key, err := c.str()
		if err != nil {
			return nil, fmt.Errorf("gguf: read key %d/%d: %w", i, kvCount, err)
		}
		tag, err := c.u32()
		if err != nil {
			return nil, fmt.Errorf("gguf: read value type of %q: %w", key, err)
		}
		v, err := readMeta(c, fieldType(tag))
		if err != nil {
			return nil, fmt.Errorf("gguf: read value of %q: %w", key, err)
		}
		if v.kind != kindNone {
			file.kv[key] = v
		}
	}
	return file, nil
}

// Has reports whether a metadata key is present.
func (f *File) Has(key string) bool {
	_, ok := f.kv[key]
	return ok
}

// Architecture returns the model architecture string (e.g. "llama"), or ""
// if the metadata key "general.architecture" is not present.
func (f *File) Architecture() string {
	s, _ := f.String("general.architecture")
	return s
}

// cursor walks the raw container bytes.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || len(c.data)-c.off < n {
		return nil, fmt.Errorf("need %d bytes at offset %d, file has %d", n, c.off, len(c.data))
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// str reads a GGUF string: a uint64 length prefix followed by that many bytes.
func (c *cursor) str() (string, error) {
	n, err := c.u64()
	if err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("metadata string of %d bytes is implausibly large", n)
	}
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// scalarInt reads one integer of the given wire type, sign-extending the
// signed widths.
func (c *cursor) scalarInt(t fieldType) (uint64, error) {
	switch t {
	case ftUint8:
		b, err := c.take(1)
		if err != nil {
			return 0, err
		}
		return uint64(b[0]), nil
	case ftInt8:
		b, err := c.take(1)
		if err != nil {
			return 0, err
		}
		return uint64(int64(int8(b[0]))), nil
	case ftUint16:
		b, err := c.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case ftInt16:
		b, err := c.take(2)
		if err != nil {
			return 0, err
		}
		return uint64(int64(int16(binary.LittleEndian.Uint16(b)))), nil
	case ftUint32:
		v, err := c.u32()
		return uint64(v), err
	case ftInt32:
		v, err := c.u32()
		return uint64(int64(int32(v))), err
	case ftUint64, ftInt64:
		return c.u64()
	default:
		return 0, fmt.Errorf("value type %d is not an integer", t)
	}
}
