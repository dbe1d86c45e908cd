// Package mat provides a reader for the MATLAB container files (.mat) that
// PhysiCell writes its dense numeric payloads into.
//
// Both container generations found in simulator output are supported:
//   - Level 4: a bare 20-byte matrix header per matrix (what BioFVM writes)
//   - Level 5: 128-byte file header plus tagged data elements, including
//     zlib-compressed (miCOMPRESSED) elements
//
// Only dense 2-D numeric matrices are decoded; everything is widened to
// float64, column-major, which is the layout the payload contracts assume.
package mat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zlib"
)

// ErrCorrupt marks structurally invalid matrix content. Callers use it to
// recognize the known zero-cells output bug of older PhysiCell versions.
var ErrCorrupt = errors.New("mat: corrupt payload")

// Level 5 data element types.
const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
)

// Level 5 array classes.
const (
	mxDOUBLE = 6
	mxSINGLE = 7
	mxINT8   = 8
	mxUINT8  = 9
	mxINT16  = 10
	mxUINT16 = 11
	mxINT32  = 12
	mxUINT32 = 13
	mxINT64  = 14
	mxUINT64 = 15
)

// Matrix is a dense 2-D numeric matrix with column-major backing.
type Matrix struct {
	Name string
	Rows int
	Cols int
	data []float64
}

// At returns the element at row r, column c.
func (m *Matrix) At(r, c int) float64 {
	return m.data[c*m.Rows+r]
}

// Row returns a copy of row r.
func (m *Matrix) Row(r int) []float64 {
	out := make([]float64, m.Cols)
	for c := 0; c < m.Cols; c++ {
		out[c] = m.data[c*m.Rows+r]
	}
	return out
}

// File holds the matrices decoded from one container file.
type File struct {
	matrices map[string]*Matrix
}

// Matrix returns the named matrix, if present.
func (f *File) Matrix(name string) (*Matrix, bool) {
	m, ok := f.matrices[name]
	return m, ok
}

// Read decodes all matrices from the container at path. A missing file
// surfaces the underlying fs error; malformed content wraps ErrCorrupt.
func Read(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func decode(raw []byte) (*File, error) {
	f := &File{matrices: make(map[string]*Matrix)}

	if isLevel5(raw) {
		if err := decodeLevel5(raw, f); err != nil {
			return nil, err
		}
		return f, nil
	}
	if err := decodeLevel4(raw, f); err != nil {
		return nil, err
	}
	return f, nil
}

// isLevel5 reports whether raw carries a Level 5 file header. Level 5 files
// open with 116 bytes of descriptive ASCII text; Level 4 files open with a
// small binary type code whose high bytes are zero.
func isLevel5(raw []byte) bool {
	if len(raw) < 128 {
		return false
	}
	for _, b := range raw[:4] {
		if b == 0 {
			return false
		}
	}
	return true
}

// --- Level 5 ---

func decodeLevel5(raw []byte, f *File) error {
	if raw[126] != 'I' || raw[127] != 'M' {
		return fmt.Errorf("%w: unsupported byte order indicator %q", ErrCorrupt, string(raw[126:128]))
	}

	body := raw[128:]
	for len(body) > 0 {
		elemType, elemData, rest, err := readElement(body)
		if err != nil {
			return err
		}
		body = rest

		switch elemType {
		case miCOMPRESSED:
			inflated, err := inflate(elemData)
			if err != nil {
				return fmt.Errorf("%w: compressed element: %v", ErrCorrupt, err)
			}
			innerType, innerData, _, err := readElement(inflated)
			if err != nil {
				return err
			}
			if innerType != miMATRIX {
				continue
			}
			if err := decodeMatrix(innerData, f); err != nil {
				return err
			}
		case miMATRIX:
			if err := decodeMatrix(elemData, f); err != nil {
				return err
			}
		default:
			// Non-matrix top-level elements are skipped.
		}
	}
	return nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// readElement consumes one tagged data element, handling the packed
// small-element form, and returns the element type, its payload, and the
// remaining bytes after tag, payload, and padding.
func readElement(b []byte) (elemType int, data []byte, rest []byte, err error) {
	if len(b) < 8 {
		return 0, nil, nil, fmt.Errorf("%w: truncated element tag", ErrCorrupt)
	}
	word := binary.LittleEndian.Uint32(b[0:4])
	if word>>16 != 0 {
		// Small data element: byte count in the upper half word, payload
		// packed into the second tag word.
		n := int(word >> 16)
		if n > 4 {
			return 0, nil, nil, fmt.Errorf("%w: small element with %d bytes", ErrCorrupt, n)
		}
		return int(word & 0xffff), b[4 : 4+n], b[8:], nil
	}

	elemType = int(word)
	n := int(binary.LittleEndian.Uint32(b[4:8]))
	if len(b) < 8+n {
		return 0, nil, nil, fmt.Errorf("%w: element of %d bytes exceeds remaining %d", ErrCorrupt, n, len(b)-8)
	}
	data = b[8 : 8+n]

	// Compressed elements are not padded; everything else aligns to 8 bytes.
	pad := 0
	if elemType != miCOMPRESSED {
		if r := n % 8; r != 0 {
			pad = 8 - r
		}
	}
	end := 8 + n + pad
	if end > len(b) {
		end = len(b)
	}
	return elemType, data, b[end:], nil
}

func decodeMatrix(b []byte, f *File) error {
	// Array flags subelement.
	t, flags, b, err := readElement(b)
	if err != nil {
		return err
	}
	if t != miUINT32 || len(flags) < 8 {
		return fmt.Errorf("%w: bad array flags subelement", ErrCorrupt)
	}
	class := int(flags[0])
	if class < mxDOUBLE || class > mxUINT64 {
		return fmt.Errorf("mat: unsupported array class %d", class)
	}

	// Dimensions subelement.
	t, dims, b, err := readElement(b)
	if err != nil {
		return err
	}
	if t != miINT32 || len(dims)%4 != 0 {
		return fmt.Errorf("%w: bad dimensions subelement", ErrCorrupt)
	}
	nd := len(dims) / 4
	if nd != 2 {
		return fmt.Errorf("mat: unsupported %d-dimensional array", nd)
	}
	rows := int(int32(binary.LittleEndian.Uint32(dims[0:4])))
	cols := int(int32(binary.LittleEndian.Uint32(dims[4:8])))
	if rows < 0 || cols < 0 {
		return fmt.Errorf("%w: negative dimensions %dx%d", ErrCorrupt, rows, cols)
	}

	// Array name subelement.
	t, nameBytes, b, err := readElement(b)
	if err != nil {
		return err
	}
	if t != miINT8 && t != miUTF8 {
		return fmt.Errorf("%w: bad array name subelement", ErrCorrupt)
	}
	name := string(nameBytes)

	// Real part subelement.
	t, real, _, err := readElement(b)
	if err != nil {
		return err
	}
	data, err := widen(t, real)
	if err != nil {
		return err
	}
	if len(data) != rows*cols {
		return fmt.Errorf("%w: matrix %q has %d values, dimensions say %dx%d", ErrCorrupt, name, len(data), rows, cols)
	}

	f.matrices[name] = &Matrix{Name: name, Rows: rows, Cols: cols, data: data}
	return nil
}

// widen converts a raw numeric subelement into float64 values.
func widen(elemType int, b []byte) ([]float64, error) {
	size, ok := elemSize(elemType)
	if !ok {
		return nil, fmt.Errorf("mat: unsupported numeric element type %d", elemType)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%w: numeric data of %d bytes is not a multiple of %d", ErrCorrupt, len(b), size)
	}
	n := len(b) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		off := i * size
		switch elemType {
		case miINT8:
			out[i] = float64(int8(b[off]))
		case miUINT8:
			out[i] = float64(b[off])
		case miINT16:
			out[i] = float64(int16(binary.LittleEndian.Uint16(b[off:])))
		case miUINT16:
			out[i] = float64(binary.LittleEndian.Uint16(b[off:]))
		case miINT32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b[off:])))
		case miUINT32:
			out[i] = float64(binary.LittleEndian.Uint32(b[off:]))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[off:])))
		case miDOUBLE:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		case miINT64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(b[off:])))
		case miUINT64:
			out[i] = float64(binary.LittleEndian.Uint64(b[off:]))
		}
	}
	return out, nil
}

func elemSize(elemType int) (int, bool) {
	switch elemType {
	case miINT8, miUINT8:
		return 1, true
	case miINT16, miUINT16:
		return 2, true
	case miINT32, miUINT32, miSINGLE:
		return 4, true
	case miDOUBLE, miINT64, miUINT64:
		return 8, true
	}
	return 0, false
}

// --- Level 4 ---

// Level 4 precision digits (the P digit of the MOPT type code).
const (
	l4Double  = 0
	l4Single  = 1
	l4Int32   = 2
	l4Int16   = 3
	l4UInt16  = 4
	l4UInt8   = 5
	l4Invalid = 6
)

func decodeLevel4(raw []byte, f *File) error {
	body := raw
	for len(body) > 0 {
		if len(body) < 20 {
			return fmt.Errorf("%w: truncated level 4 matrix header", ErrCorrupt)
		}
		mopt := int(int32(binary.LittleEndian.Uint32(body[0:4])))
		rows := int(int32(binary.LittleEndian.Uint32(body[4:8])))
		cols := int(int32(binary.LittleEndian.Uint32(body[8:12])))
		imagf := int(int32(binary.LittleEndian.Uint32(body[12:16])))
		nameLen := int(int32(binary.LittleEndian.Uint32(body[16:20])))
		body = body[20:]

		if mopt < 0 || mopt >= 10000 || rows < 0 || cols < 0 || nameLen <= 0 {
			return fmt.Errorf("%w: invalid level 4 header (type=%d rows=%d cols=%d namelen=%d)", ErrCorrupt, mopt, rows, cols, nameLen)
		}
		m := mopt / 1000 % 10 // byte order
		p := mopt / 10 % 10   // precision
		t := mopt % 10        // matrix type
		if m != 0 {
			return fmt.Errorf("mat: unsupported level 4 byte order %d", m)
		}
		if t != 0 {
			return fmt.Errorf("mat: unsupported level 4 matrix type %d", t)
		}
		if imagf != 0 {
			return fmt.Errorf("mat: complex matrices are not supported")
		}

		if len(body) < nameLen {
			return fmt.Errorf("%w: truncated level 4 matrix name", ErrCorrupt)
		}
		name := body[:nameLen]
		body = body[nameLen:]
		// Name is NUL-terminated.
		for i, c := range name {
			if c == 0 {
				name = name[:i]
				break
			}
		}

		size, elemType, err := level4Precision(p)
		if err != nil {
			return err
		}
		n := rows * cols
		if len(body) < n*size {
			return fmt.Errorf("%w: matrix %q needs %d data bytes, %d remain", ErrCorrupt, name, n*size, len(body))
		}
		data, err := widen(elemType, body[:n*size])
		if err != nil {
			return err
		}
		body = body[n*size:]

		f.matrices[string(name)] = &Matrix{Name: string(name), Rows: rows, Cols: cols, data: data}
	}
	return nil
}

func level4Precision(p int) (size, elemType int, err error) {
	switch p {
	case l4Double:
		return 8, miDOUBLE, nil
	case l4Single:
		return 4, miSINGLE, nil
	case l4Int32:
		return 4, miINT32, nil
	case l4Int16:
		return 2, miINT16, nil
	case l4UInt16:
		return 2, miUINT16, nil
	case l4UInt8:
		return 1, miUINT8, nil
	}
	return 0, 0, fmt.Errorf("mat: unsupported level 4 precision %d", p)
}
