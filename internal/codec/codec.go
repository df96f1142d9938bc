// Package codec encodes typed numeric matrices and vectors into raw byte
// buffers for transfer across the engine bridge, and decodes engine-produced
// buffers back into Go slices.
//
// Every buffer carries an explicit byte-order flag. The receiving side must
// honor the declared flag rather than assume its own native order; a mismatch
// between declared and actual order corrupts every value silently, so the
// flag travels with the bytes at all times. The codec knows nothing about
// models or learners.
package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType identifies the element type of an encoded buffer.
type DType string

const (
	Float64 DType = "float64" // 8-byte IEEE-754
	Int32   DType = "int32"   // 4-byte signed
)

// Size returns the element width in bytes.
func (d DType) Size() int {
	switch d {
	case Float64:
		return 8
	case Int32:
		return 4
	default:
		return 0
	}
}

// ByteOrder is the declared endianness of a buffer's payload.
type ByteOrder string

const (
	LittleEndian ByteOrder = "little"
	BigEndian    ByteOrder = "big"
)

// byteOrder is what the codec needs from encoding/binary: reads and appends.
type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func (o ByteOrder) impl() (byteOrder, error) {
	switch o {
	case LittleEndian:
		return binary.LittleEndian, nil
	case BigEndian:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("codec: unknown byte order %q", string(o))
	}
}

// Buffer is an encoded array: raw bytes plus the metadata needed to decode
// them. Cols is zero for vectors. The JSON form (base64 payload) is the wire
// representation used inside bridge request and response bodies.
type Buffer struct {
	Data  []byte    `json:"data"`
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols,omitempty"`
	DType DType     `json:"dtype"`
	Order ByteOrder `json:"order"`
}

// Elems returns the declared element count.
func (b Buffer) Elems() int {
	if b.Cols > 0 {
		return b.Rows * b.Cols
	}
	return b.Rows
}

// SizeError reports a buffer whose byte length disagrees with its declared
// element count. Decoding never truncates or zero-pads; a short or long
// buffer is fatal for the call that produced it.
type SizeError struct {
	Elems int // declared element count
	Want  int // expected byte length
	Got   int // actual byte length
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec: buffer size mismatch: %d elements need %d bytes, have %d", e.Elems, e.Want, e.Got)
}

func (b Buffer) check() error {
	want := b.Elems() * b.DType.Size()
	if b.DType.Size() == 0 {
		return fmt.Errorf("codec: unknown dtype %q", string(b.DType))
	}
	if len(b.Data) != want {
		return &SizeError{Elems: b.Elems(), Want: want, Got: len(b.Data)}
	}
	return nil
}

// EncodeFloat64Matrix encodes a dense row-major matrix as 8-byte floats.
// All rows must have the same width.
func EncodeFloat64Matrix(x [][]float64, order ByteOrder) (Buffer, error) {
	ord, err := order.impl()
	if err != nil {
		return Buffer{}, err
	}
	if len(x) == 0 {
		return Buffer{}, fmt.Errorf("codec: empty matrix")
	}
	cols := len(x[0])
	if cols == 0 {
		return Buffer{}, fmt.Errorf("codec: matrix with zero columns")
	}
	data := make([]byte, 0, len(x)*cols*8)
	for i, row := range x {
		if len(row) != cols {
			return Buffer{}, fmt.Errorf("codec: ragged matrix: row %d has %d values, want %d", i, len(row), cols)
		}
		for _, v := range row {
			data = ord.AppendUint64(data, math.Float64bits(v))
		}
	}
	return Buffer{Data: data, Rows: len(x), Cols: cols, DType: Float64, Order: order}, nil
}

// EncodeFloat64Vector encodes a vector as 8-byte floats.
func EncodeFloat64Vector(v []float64, order ByteOrder) (Buffer, error) {
	ord, err := order.impl()
	if err != nil {
		return Buffer{}, err
	}
	data := make([]byte, 0, len(v)*8)
	for _, f := range v {
		data = ord.AppendUint64(data, math.Float64bits(f))
	}
	return Buffer{Data: data, Rows: len(v), DType: Float64, Order: order}, nil
}

// EncodeInt32Vector encodes a vector of 4-byte signed integers. Classification
// labels cross the bridge in this form.
func EncodeInt32Vector(v []int32, order ByteOrder) (Buffer, error) {
	ord, err := order.impl()
	if err != nil {
		return Buffer{}, err
	}
	data := make([]byte, 0, len(v)*4)
	for _, n := range v {
		data = ord.AppendUint32(data, uint32(n))
	}
	return Buffer{Data: data, Rows: len(v), DType: Int32, Order: order}, nil
}

// DecodeFloat64Matrix decodes a row-major float64 matrix buffer.
func DecodeFloat64Matrix(b Buffer) ([][]float64, error) {
	if b.DType != Float64 {
		return nil, fmt.Errorf("codec: dtype %q where float64 expected", string(b.DType))
	}
	if b.Cols <= 0 {
		return nil, fmt.Errorf("codec: matrix buffer without column count")
	}
	ord, err := b.Order.impl()
	if err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	out := make([][]float64, b.Rows)
	off := 0
	for i := range out {
		row := make([]float64, b.Cols)
		for j := range row {
			row[j] = math.Float64frombits(ord.Uint64(b.Data[off:]))
			off += 8
		}
		out[i] = row
	}
	return out, nil
}

// DecodeFloat64Vector decodes a float64 vector buffer.
func DecodeFloat64Vector(b Buffer) ([]float64, error) {
	if b.DType != Float64 {
		return nil, fmt.Errorf("codec: dtype %q where float64 expected", string(b.DType))
	}
	ord, err := b.Order.impl()
	if err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	out := make([]float64, b.Elems())
	for i := range out {
		out[i] = math.Float64frombits(ord.Uint64(b.Data[i*8:]))
	}
	return out, nil
}

// DecodeInt32Vector decodes an int32 vector buffer.
func DecodeInt32Vector(b Buffer) ([]int32, error) {
	if b.DType != Int32 {
		return nil, fmt.Errorf("codec: dtype %q where int32 expected", string(b.DType))
	}
	ord, err := b.Order.impl()
	if err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	out := make([]int32, b.Elems())
	for i := range out {
		out[i] = int32(ord.Uint32(b.Data[i*4:]))
	}
	return out, nil
}
