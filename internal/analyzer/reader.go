package analyzer

import (
	"context"
	"errors"
	"unicode/utf8"
)

// budget is shared by every reader of one decode. It bounds nesting depth and
// polls the context so a hostile binary cannot hold a worker forever.
type budget struct {
	ctx      context.Context
	maxDepth int
	steps    uint32
}

const checkEvery = 256

func (b *budget) tick(offset int) error {
	b.steps++
	if b.steps%checkEvery != 1 {
		return nil
	}
	if err := b.ctx.Err(); err != nil {
		de := newError(KindTimeout, offset, "analysis budget exceeded")
		if errors.Is(err, context.Canceled) {
			de.Message = "analysis cancelled"
		}
		de.Cause = err
		return de
	}
	return nil
}

func (b *budget) enter(depth, offset int) error {
	if depth > b.maxDepth {
		return newError(KindMalformedSection, offset, "nesting depth exceeds %d", b.maxDepth)
	}
	return nil
}

// reader is a bounds-checked cursor over a byte slice. base is the absolute
// offset of data[0] in the outermost binary so errors point at real bytes.
type reader struct {
	data   []byte
	pos    int
	base   int
	budget *budget
}

func newReader(data []byte, b *budget) *reader {
	return &reader{data: data, budget: b}
}

func (r *reader) offset() int { return r.base + r.pos }

func (r *reader) done() bool { return r.pos >= len(r.data) }

func (r *reader) remaining() int { return len(r.data) - r.pos }

func (r *reader) truncated(what string) error {
	return newError(KindTruncatedSection, r.offset(), "unexpected end of data reading %s", what)
}

func (r *reader) malformed(format string, args ...interface{}) error {
	return newError(KindMalformedSection, r.offset(), format, args...)
}

func (r *reader) tick() error { return r.budget.tick(r.offset()) }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.truncated("byte")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peek() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.truncated("byte")
	}
	return r.data[r.pos], nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, r.truncated("bytes")
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

// u32 reads an unsigned LEB128 value of at most five bytes.
func (r *reader) u32() (uint32, error) {
	var result uint32
	for shift := uint(0); ; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b&0x70 != 0 {
			return 0, r.malformed("integer representation too long")
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		if shift == 28 {
			return 0, r.malformed("integer representation too long")
		}
	}
}

// u64 reads an unsigned LEB128 value of at most ten bytes.
func (r *reader) u64() (uint64, error) {
	var result uint64
	for shift := uint(0); shift < 70; shift += 7 {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return 0, r.malformed("integer representation too long")
}

// s33 reads a signed LEB128 value of at most five bytes, as used for
// heap types and block types.
func (r *reader) s33() (int64, error) {
	var result int64
	var shift uint
	for i := 0; i < 5; i++ {
		b, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
	return 0, r.malformed("integer representation too long")
}

// count reads a vector length. Every element takes at least one byte, so a
// length larger than the remaining payload is reported as truncation before
// anything is allocated for it.
func (r *reader) count() (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if int(n) > r.remaining() {
		return 0, r.truncated("vector")
	}
	return int(n), nil
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", r.malformed("name is not valid UTF-8")
	}
	return string(b), nil
}

// sub carves the next n bytes into an independent reader.
func (r *reader) sub(n int) (*reader, error) {
	start := r.offset()
	b, err := r.bytes(n)
	if err != nil {
		return nil, err
	}
	return &reader{data: b, base: start, budget: r.budget}, nil
}
