package mcds

import (
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/mcds-view/server/internal/data/mat"
)

// Mesh is the reconstructed structured 3D voxel mesh. Axis slices hold the
// unique, ascending mesh center coordinates per dimension; the voxel center
// list and volume array come straight from the mesh payload and keep its
// column order.
type Mesh struct {
	XAxis []float64 // m axis
	YAxis []float64 // n axis
	ZAxis []float64 // p axis

	XYZRange [3][2]float64 // domain bounding box
	MNPRange [3][2]float64 // mesh center ranges
	IJKRange [3][2]int     // voxel index ranges

	SpatialUnits string

	centers [3][]float64 // flattened voxel center coordinates, payload order
	volumes []float64
}

// newMesh reconstructs the mesh from the manifest geometry descriptors and
// the mesh payload (rows 0-2 voxel centers, row 3 voxel volume).
func newMesh(man *Manifest, payload *mat.Matrix) (*Mesh, error) {
	if payload.Rows < 4 {
		return nil, &InvariantError{Reason: fmt.Sprintf("mesh payload has %d rows, expected 4", payload.Rows)}
	}

	m := &Mesh{
		XAxis:        uniqueSorted(man.XCoordinates),
		YAxis:        uniqueSorted(man.YCoordinates),
		ZAxis:        uniqueSorted(man.ZCoordinates),
		SpatialUnits: man.SpatialUnits,
	}
	for i := 0; i < 3; i++ {
		m.XYZRange[i] = [2]float64{man.BoundingBox[i], man.BoundingBox[i+3]}
	}
	axes := m.axes()
	for i, axis := range axes {
		if len(axis) == 0 {
			return nil, &InvariantError{Reason: fmt.Sprintf("empty %s axis", axisName(i))}
		}
		m.MNPRange[i] = [2]float64{axis[0], axis[len(axis)-1]}
		m.IJKRange[i] = [2]int{0, len(axis) - 1}
	}

	for r := 0; r < 3; r++ {
		m.centers[r] = payload.Row(r)
	}
	m.volumes = payload.Row(3)
	return m, nil
}

func (m *Mesh) axes() [3][]float64 {
	return [3][]float64{m.XAxis, m.YAxis, m.ZAxis}
}

func axisName(i int) string {
	return [3]string{"x", "y", "z"}[i]
}

// IJKAxis returns the voxel coordinate vectors per axis.
func (m *Mesh) IJKAxis() [3][]int {
	var out [3][]int
	for i, r := range m.IJKRange {
		axis := make([]int, r[1]+1)
		for j := range axis {
			axis[j] = j
		}
		out[i] = axis
	}
	return out
}

// Grid returns the three mesh center coordinate meshgrids, each shaped
// (len(YAxis), len(XAxis), len(ZAxis)).
func (m *Mesh) Grid() [3][][][]float64 {
	ny, nx, nz := len(m.YAxis), len(m.XAxis), len(m.ZAxis)
	var out [3][][][]float64
	for a := 0; a < 3; a++ {
		g := make([][][]float64, ny)
		for j := 0; j < ny; j++ {
			g[j] = make([][]float64, nx)
			for i := 0; i < nx; i++ {
				g[j][i] = make([]float64, nz)
				for k := 0; k < nz; k++ {
					switch a {
					case 0:
						g[j][i][k] = m.XAxis[i]
					case 1:
						g[j][i][k] = m.YAxis[j]
					case 2:
						g[j][i][k] = m.ZAxis[k]
					}
				}
			}
		}
		out[a] = g
	}
	return out
}

// Coordinates returns the flattened voxel center coordinate list in the
// payload's column order.
func (m *Mesh) Coordinates() [3][]float64 {
	return m.centers
}

// VoxelCount returns the number of voxels in the mesh payload.
func (m *Mesh) VoxelCount() int {
	return len(m.volumes)
}

// VoxelVolume returns the uniform voxel volume. A mesh carrying more than
// one distinct volume value violates the uniform-voxel invariant and is an
// error, never a silent average.
func (m *Mesh) VoxelVolume() (float64, error) {
	if len(m.volumes) == 0 {
		return 0, &InvariantError{Reason: "mesh payload has no voxels"}
	}
	distinct := uniqueSorted(m.volumes)
	if len(distinct) != 1 {
		return 0, &InvariantError{Reason: fmt.Sprintf("mesh is not built out of a unique voxel volume %v", distinct)}
	}
	return distinct[0], nil
}

// MeshSpacing returns the distance between mesh centers per axis. A
// degenerate single-value axis reports spacing 1.
func (m *Mesh) MeshSpacing() [3]float64 {
	var out [3]float64
	for i, axis := range m.axes() {
		r := m.MNPRange[i]
		if len(axis) < 2 || r[0] == r[1] {
			out[i] = 1
			continue
		}
		out[i] = (r[1] - r[0]) / float64(len(axis)-1)
	}
	return out
}

// VoxelSpacing returns the voxel width, height, and depth. Depth is
// re-derived from the voxel volume (dp = volume / (dm*dn)) so that a
// single-slice simulation still reports a meaningful synthetic depth.
func (m *Mesh) VoxelSpacing() ([3]float64, error) {
	volume, err := m.VoxelVolume()
	if err != nil {
		return [3]float64{}, err
	}
	spacing := m.MeshSpacing()
	spacing[2] = volume / (spacing[0] * spacing[1])
	return spacing, nil
}

// Contains reports whether the point lies inside the domain bounding box,
// inclusive on all sides. Each out-of-range axis is reported as a warning.
func (m *Mesh) Contains(x, y, z float64) bool {
	inside := true
	for i, v := range [3]float64{x, y, z} {
		r := m.XYZRange[i]
		if v < r[0] || v > r[1] {
			log.Printf("mcds: %s = %v out of bounds: %s-range is [%v, %v]", axisName(i), v, axisName(i), r[0], r[1])
			inside = false
		}
	}
	return inside
}

// VoxelIJK maps a position to the indices of the voxel containing it, by
// nearest-voxel rounding from the mesh center range minima. The caller is
// responsible for the in-mesh check; out-of-mesh positions clamp poorly.
func (m *Mesh) VoxelIJK(x, y, z float64) ([3]int, error) {
	spacing, err := m.VoxelSpacing()
	if err != nil {
		return [3]int{}, err
	}
	var ijk [3]int
	for i, v := range [3]float64{x, y, z} {
		ijk[i] = int(math.Round((v - m.MNPRange[i][0]) / spacing[i]))
	}
	return ijk, nil
}

// ClampIJK clamps voxel indices into the mesh's valid voxel index range.
func (m *Mesh) ClampIJK(ijk [3]int) [3]int {
	for i := range ijk {
		if ijk[i] < m.IJKRange[i][0] {
			ijk[i] = m.IJKRange[i][0]
		}
		if ijk[i] > m.IJKRange[i][1] {
			ijk[i] = m.IJKRange[i][1]
		}
	}
	return ijk
}

// CenterAt returns the mesh center coordinate of voxel (i,j,k).
func (m *Mesh) CenterAt(ijk [3]int) [3]float64 {
	return [3]float64{m.XAxis[ijk[0]], m.YAxis[ijk[1]], m.ZAxis[ijk[2]]}
}

// axisIndex locates the axis element matching the value within tolerance.
func axisIndex(axis []float64, value, tolerance float64) (int, bool) {
	for i, a := range axis {
		if math.Abs(value-a) < tolerance {
			return i, true
		}
	}
	return 0, false
}

// nearestAxisValue snaps a coordinate to the closest axis element,
// resolving ties toward the smaller coordinate.
func nearestAxisValue(axis []float64, value float64) float64 {
	best := axis[0]
	bestDist := math.Abs(value - best)
	for _, a := range axis[1:] {
		d := math.Abs(value - a)
		if d < bestDist {
			best, bestDist = a, d
		}
	}
	return best
}

func uniqueSorted(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}
