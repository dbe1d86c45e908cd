package mat

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// FromRows builds a matrix from row slices. All rows must share one length.
func FromRows(name string, rows [][]float64) (*Matrix, error) {
	nr := len(rows)
	nc := 0
	if nr > 0 {
		nc = len(rows[0])
	}
	data := make([]float64, nr*nc)
	for r, row := range rows {
		if len(row) != nc {
			return nil, fmt.Errorf("mat: row %d has %d values, expected %d", r, len(row), nc)
		}
		for c, v := range row {
			data[c*nr+r] = v
		}
	}
	return &Matrix{Name: name, Rows: nr, Cols: nc, data: data}, nil
}

// WriteLevel4 writes matrices to path in the Level 4 container layout the
// simulator itself emits (little-endian, double precision, full matrices).
func WriteLevel4(path string, matrices ...*Matrix) error {
	var buf []byte
	for _, m := range matrices {
		name := append([]byte(m.Name), 0)
		header := make([]byte, 20)
		binary.LittleEndian.PutUint32(header[0:4], 0) // MOPT: little-endian double full
		binary.LittleEndian.PutUint32(header[4:8], uint32(m.Rows))
		binary.LittleEndian.PutUint32(header[8:12], uint32(m.Cols))
		binary.LittleEndian.PutUint32(header[12:16], 0)
		binary.LittleEndian.PutUint32(header[16:20], uint32(len(name)))
		buf = append(buf, header...)
		buf = append(buf, name...)
		for _, v := range m.data {
			var w [8]byte
			binary.LittleEndian.PutUint64(w[:], math.Float64bits(v))
			buf = append(buf, w[:]...)
		}
	}
	return os.WriteFile(path, buf, 0o644)
}
