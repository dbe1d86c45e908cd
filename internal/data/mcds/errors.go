package mcds

import "fmt"

// ParseError reports a malformed or incomplete manifest, settings document,
// or graph file. A ParseError aborts the load.
type ParseError struct {
	File   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mcds: parse %s: %s", e.File, e.Reason)
}

// InvariantError reports a data-integrity violation in a decoded payload,
// such as a mesh built from more than one voxel volume. Always fatal.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("mcds: invariant violated: %s", e.Reason)
}

// RangeError reports a coordinate outside the mesh, or a slice coordinate
// that is not an exact mesh axis value. Only produced in strict mode; the
// permissive default logs a warning and substitutes the nearest valid value
// or an empty result instead.
type RangeError struct {
	Axis  string
	Value float64
	Min   float64
	Max   float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("mcds: %s = %v out of range [%v, %v]", e.Axis, e.Value, e.Min, e.Max)
}
