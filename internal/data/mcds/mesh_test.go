package mcds

import (
	"errors"
	"math"
	"testing"
)

func loadFixture(t *testing.T, f fixtureConfig, opts Options) *Snapshot {
	t.Helper()
	dir := t.TempDir()
	path := writeFixture(t, dir, f)
	s, err := Load(path, opts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func TestMeshAxes(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())
	m := s.Mesh

	if len(m.XAxis) != 11 || len(m.YAxis) != 11 || len(m.ZAxis) != 1 {
		t.Fatalf("unexpected axis lengths %d/%d/%d", len(m.XAxis), len(m.YAxis), len(m.ZAxis))
	}
	if m.XAxis[0] != -15 || m.XAxis[10] != 285 {
		t.Errorf("unexpected x axis ends %v %v", m.XAxis[0], m.XAxis[10])
	}
	if m.XYZRange != [3][2]float64{{-30, 300}, {-20, 200}, {-5, 5}} {
		t.Errorf("unexpected xyz range %v", m.XYZRange)
	}
	if m.MNPRange != [3][2]float64{{-15, 285}, {-10, 190}, {0, 0}} {
		t.Errorf("unexpected mnp range %v", m.MNPRange)
	}
	if m.IJKRange != [3][2]int{{0, 10}, {0, 10}, {0, 0}} {
		t.Errorf("unexpected ijk range %v", m.IJKRange)
	}
	if m.VoxelCount() != 121 {
		t.Errorf("expected 121 voxels, got %d", m.VoxelCount())
	}
	if m.SpatialUnits != "micron" {
		t.Errorf("unexpected spatial units %q", m.SpatialUnits)
	}

	axes := m.IJKAxis()
	if len(axes[0]) != 11 || axes[0][10] != 10 || len(axes[2]) != 1 {
		t.Errorf("unexpected ijk axes %v", axes)
	}
}

func TestMeshSpacing(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())
	m := s.Mesh

	// The degenerate z axis reports mesh spacing 1; the voxel depth is
	// re-derived from the voxel volume instead.
	if got := m.MeshSpacing(); got != [3]float64{30, 20, 1} {
		t.Errorf("unexpected mesh spacing %v", got)
	}
	spacing, err := m.VoxelSpacing()
	if err != nil {
		t.Fatalf("VoxelSpacing failed: %v", err)
	}
	if spacing != [3]float64{30, 20, 10} {
		t.Errorf("unexpected voxel spacing %v", spacing)
	}
	volume, err := m.VoxelVolume()
	if err != nil {
		t.Fatalf("VoxelVolume failed: %v", err)
	}
	if volume != 6000 {
		t.Errorf("expected voxel volume 6000, got %v", volume)
	}
}

func TestMeshNonUniformVolume(t *testing.T) {
	f := defaultFixture()
	f.secondVolume = 7000
	s := loadFixture(t, f, DefaultOptions())

	var invErr *InvariantError
	if _, err := s.Mesh.VoxelVolume(); !errors.As(err, &invErr) {
		t.Fatalf("expected InvariantError, got %v", err)
	}
	if _, err := s.Mesh.VoxelSpacing(); !errors.As(err, &invErr) {
		t.Fatalf("expected InvariantError from VoxelSpacing, got %v", err)
	}
}

func TestMeshGrid(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())
	grid := s.Mesh.Grid()

	for a := 0; a < 3; a++ {
		if len(grid[a]) != 11 || len(grid[a][0]) != 11 || len(grid[a][0][0]) != 1 {
			t.Fatalf("axis %d grid not shaped (11,11,1)", a)
		}
	}
	// grid[axis][j][i][k]
	if grid[0][3][2][0] != -15+30*2 {
		t.Errorf("unexpected x value %v", grid[0][3][2][0])
	}
	if grid[1][3][2][0] != -10+20*3 {
		t.Errorf("unexpected y value %v", grid[1][3][2][0])
	}
	if grid[2][3][2][0] != 0 {
		t.Errorf("unexpected z value %v", grid[2][3][2][0])
	}
}

func TestIsInMesh(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())

	cases := []struct {
		x, y, z float64
		want    bool
	}{
		{0, 0, 0, true},
		{-30, -20, -5, true}, // inclusive bounds
		{300, 200, 5, true},
		{301, 0, 0, false},
		{0, -21, 0, false},
		{0, 0, 6, false},
	}
	for _, tc := range cases {
		got, err := s.IsInMesh(tc.x, tc.y, tc.z)
		if err != nil {
			t.Fatalf("IsInMesh(%v,%v,%v) failed: %v", tc.x, tc.y, tc.z, err)
		}
		if got != tc.want {
			t.Errorf("IsInMesh(%v,%v,%v) = %v, want %v", tc.x, tc.y, tc.z, got, tc.want)
		}
	}
}

func TestIsInMeshStrict(t *testing.T) {
	opts := DefaultOptions()
	opts.Strict = true
	s := loadFixture(t, defaultFixture(), opts)

	_, err := s.IsInMesh(301, 0, 0)
	var rangeErr *RangeError
	if !errors.As(err, &rangeErr) {
		t.Fatalf("expected RangeError, got %v", err)
	}
	if rangeErr.Axis != "x" || rangeErr.Value != 301 {
		t.Errorf("unexpected range error %+v", rangeErr)
	}

	if ok, err := s.IsInMesh(0, 0, 0); err != nil || !ok {
		t.Errorf("in-mesh point should not error in strict mode: %v %v", ok, err)
	}
}

func TestVoxelIJK(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())

	ijk, ok, err := s.VoxelIJK(30, 20, 0)
	if err != nil || !ok {
		t.Fatalf("VoxelIJK failed: ok=%v err=%v", ok, err)
	}
	if ijk != [3]int{2, 2, 0} {
		t.Errorf("expected voxel [2 2 0], got %v", ijk)
	}

	if _, ok, err := s.VoxelIJK(301, 0, 0); err != nil || ok {
		t.Errorf("out-of-mesh point: ok=%v err=%v", ok, err)
	}
}

// Every voxel center maps back to its own voxel, and every voxel index
// round-trips through its center coordinate.
func TestVoxelCenterRoundTrip(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())
	m := s.Mesh

	spacing, err := m.VoxelSpacing()
	if err != nil {
		t.Fatalf("VoxelSpacing failed: %v", err)
	}
	for i := 0; i <= m.IJKRange[0][1]; i++ {
		for j := 0; j <= m.IJKRange[1][1]; j++ {
			for k := 0; k <= m.IJKRange[2][1]; k++ {
				want := [3]int{i, j, k}
				center := m.CenterAt(want)
				got, err := m.VoxelIJK(center[0], center[1], center[2])
				if err != nil {
					t.Fatalf("VoxelIJK(%v) failed: %v", center, err)
				}
				if got != want {
					t.Fatalf("voxel %v center %v maps to %v", want, center, got)
				}
				for a := 0; a < 3; a++ {
					if d := math.Abs(center[a] - m.CenterAt(got)[a]); d > spacing[a]/2 {
						t.Fatalf("voxel %v center drift %v on axis %d", want, d, a)
					}
				}
			}
		}
	}
}

func TestClampIJK(t *testing.T) {
	s := loadFixture(t, defaultFixture(), DefaultOptions())
	m := s.Mesh

	if got := m.ClampIJK([3]int{-1, 11, 5}); got != [3]int{0, 10, 0} {
		t.Errorf("unexpected clamp result %v", got)
	}
	if got := m.ClampIJK([3]int{4, 5, 0}); got != [3]int{4, 5, 0} {
		t.Errorf("in-range indices should be unchanged, got %v", got)
	}
}
