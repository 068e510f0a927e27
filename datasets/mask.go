package datasets

import (
	"encoding/binary"
	"fmt"
)

// Mask is a dense boolean matrix indexed [frame][column]. Depending on where
// it is used the columns are tracked points or individual coordinates.
type Mask struct {
	rows, cols int
	data       []bool
}

// NewMask allocates an all-false mask.
func NewMask(rows, cols int) *Mask {
	return &Mask{rows: rows, cols: cols, data: make([]bool, rows*cols)}
}

// MaskFromRows builds a mask from a row-major [][]bool. All rows must have the
// same length.
func MaskFromRows(rows [][]bool) (*Mask, error) {
	if len(rows) == 0 {
		return NewMask(0, 0), nil
	}
	m := NewMask(len(rows), len(rows[0]))
	for i, r := range rows {
		if len(r) != m.cols {
			return nil, fmt.Errorf("mask row %d has %d columns, want %d: %w", i, len(r), m.cols, ErrShapeMismatch)
		}
		copy(m.data[i*m.cols:(i+1)*m.cols], r)
	}
	return m, nil
}

// Dims returns the number of rows (frames) and columns.
func (m *Mask) Dims() (int, int) { return m.rows, m.cols }

// At reports whether the entry is set.
func (m *Mask) At(i, j int) bool { return m.data[i*m.cols+j] }

// Set sets an entry.
func (m *Mask) Set(i, j int, v bool) { m.data[i*m.cols+j] = v }

// Row returns a view of row i. Writes go through to the mask.
func (m *Mask) Row(i int) []bool { return m.data[i*m.cols : (i+1)*m.cols] }

// RowAny reports whether any column of row i is set.
func (m *Mask) RowAny(i int) bool {
	for _, v := range m.Row(i) {
		if v {
			return true
		}
	}
	return false
}

// Any reports whether any entry is set.
func (m *Mask) Any() bool {
	for _, v := range m.data {
		if v {
			return true
		}
	}
	return false
}

// Count returns the number of set entries.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.data {
		if v {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	c := NewMask(m.rows, m.cols)
	copy(c.data, m.data)
	return c
}

// RepeatColumns broadcasts each column n times, turning a per-point mask into
// a per-coordinate one (n = 3 for 3D markers).
func (m *Mask) RepeatColumns(n int) *Mask {
	out := NewMask(m.rows, m.cols*n)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			if !m.At(i, j) {
				continue
			}
			for k := 0; k < n; k++ {
				out.Set(i, j*n+k, true)
			}
		}
	}
	return out
}

// GroupAny collapses each consecutive group of n columns with a logical OR,
// turning a per-coordinate mask back into a per-point one.
func (m *Mask) GroupAny(n int) (*Mask, error) {
	if n <= 0 || m.cols%n != 0 {
		return nil, fmt.Errorf("cannot group %d columns by %d: %w", m.cols, n, ErrShapeMismatch)
	}
	out := NewMask(m.rows, m.cols/n)
	for i := 0; i < m.rows; i++ {
		row := m.Row(i)
		for p := 0; p < out.cols; p++ {
			for k := 0; k < n; k++ {
				if row[p*n+k] {
					out.Set(i, p, true)
					break
				}
			}
		}
	}
	return out, nil
}

// And returns the element-wise conjunction of two masks of equal shape.
func (m *Mask) And(o *Mask) (*Mask, error) {
	if m.rows != o.rows || m.cols != o.cols {
		return nil, fmt.Errorf("mask shapes %dx%d and %dx%d: %w", m.rows, m.cols, o.rows, o.cols, ErrShapeMismatch)
	}
	out := NewMask(m.rows, m.cols)
	for i := range m.data {
		out.data[i] = m.data[i] && o.data[i]
	}
	return out, nil
}

// Reverse returns a copy with the row (time) order flipped.
func (m *Mask) Reverse() *Mask {
	out := NewMask(m.rows, m.cols)
	for i := 0; i < m.rows; i++ {
		copy(out.Row(m.rows-1-i), m.Row(i))
	}
	return out
}

// Slice returns a copy of rows [from, to).
func (m *Mask) Slice(from, to int) *Mask {
	out := NewMask(to-from, m.cols)
	copy(out.data, m.data[from*m.cols:to*m.cols])
	return out
}

// Subsample keeps every stride-th row starting at row 0.
func (m *Mask) Subsample(stride int) *Mask {
	if stride <= 1 {
		return m.Clone()
	}
	n := (m.rows + stride - 1) / stride
	out := NewMask(n, m.cols)
	for i := 0; i < n; i++ {
		copy(out.Row(i), m.Row(i*stride))
	}
	return out
}

// Column returns a copy of column j.
func (m *Mask) Column(j int) []bool {
	out := make([]bool, m.rows)
	for i := 0; i < m.rows; i++ {
		out[i] = m.At(i, j)
	}
	return out
}

// ToRows returns the mask as a row-major [][]bool. Used for serialisation.
func (m *Mask) ToRows() [][]bool {
	out := make([][]bool, m.rows)
	for i := range out {
		out[i] = append([]bool(nil), m.Row(i)...)
	}
	return out
}

// ConcatMasks stacks masks along the row axis. Column counts must agree.
func ConcatMasks(ms ...*Mask) (*Mask, error) {
	if len(ms) == 0 {
		return NewMask(0, 0), nil
	}
	cols := ms[0].cols
	rows := 0
	for _, m := range ms {
		if m.cols != cols {
			return nil, fmt.Errorf("concat masks with %d and %d columns: %w", cols, m.cols, ErrShapeMismatch)
		}
		rows += m.rows
	}
	out := NewMask(rows, cols)
	off := 0
	for _, m := range ms {
		copy(out.data[off:], m.data)
		off += len(m.data)
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler so masks can travel inside
// gob-encoded artifacts.
func (m *Mask) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16+len(m.data))
	binary.LittleEndian.PutUint64(buf[0:], uint64(m.rows))
	binary.LittleEndian.PutUint64(buf[8:], uint64(m.cols))
	for i, v := range m.data {
		if v {
			buf[16+i] = 1
		}
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *Mask) UnmarshalBinary(buf []byte) error {
	if len(buf) < 16 {
		return fmt.Errorf("mask encoding too short: %d bytes", len(buf))
	}
	rows := int(binary.LittleEndian.Uint64(buf[0:]))
	cols := int(binary.LittleEndian.Uint64(buf[8:]))
	if rows < 0 || cols < 0 || len(buf)-16 != rows*cols {
		return fmt.Errorf("mask encoding of %d bytes for %dx%d: %w", len(buf), rows, cols, ErrShapeMismatch)
	}
	m.rows, m.cols = rows, cols
	m.data = make([]bool, rows*cols)
	for i := range m.data {
		m.data[i] = buf[16+i] != 0
	}
	return nil
}
