package mcds

import (
	"fmt"
	"log"
	"sort"

	"github.com/mcds-view/server/internal/data/mat"
)

// Substrate is one reconstructed scalar field: a diffusible chemical species
// sampled on the mesh grid. Data is shaped exactly like the mesh grid,
// indexed [j][i][k].
type Substrate struct {
	Name      string
	Units     string
	Diffusion Param
	Decay     Param
	Data      [][][]float64
}

// reconstructSubstrates redistributes the microenvironment payload (rows 4+
// are one row per declared substrate, columns are voxels in arbitrary order)
// onto mesh-shaped grids by matching each column's stored voxel center
// against the mesh axes. Payload column order is not guaranteed to follow
// the grid's canonical ordering, so index assumptions are never made.
func reconstructSubstrates(man *Manifest, mesh *Mesh, payload *mat.Matrix) (map[string]*Substrate, []string, error) {
	if payload.Rows != 4+len(man.Substrates) {
		return nil, nil, &ParseError{
			File:   man.MicroenvFile,
			Reason: fmt.Sprintf("payload has %d rows, expected 4 + %d substrates", payload.Rows, len(man.Substrates)),
		}
	}

	centers := mesh.Coordinates()
	axes := mesh.axes()
	nVoxels := len(centers[0])
	if payload.Cols != nVoxels {
		return nil, nil, &ParseError{
			File:   man.MicroenvFile,
			Reason: fmt.Sprintf("payload has %d voxel columns, mesh has %d", payload.Cols, nVoxels),
		}
	}

	// Resolve each payload column's grid position once; all substrates share
	// the voxel enumeration.
	type gridPos struct{ i, j, k int }
	positions := make([]gridPos, nVoxels)
	for v := 0; v < nVoxels; v++ {
		var pos gridPos
		var ok [3]bool
		pos.i, ok[0] = axisIndex(axes[0], centers[0][v], centerMatchTolerance)
		pos.j, ok[1] = axisIndex(axes[1], centers[1][v], centerMatchTolerance)
		pos.k, ok[2] = axisIndex(axes[2], centers[2][v], centerMatchTolerance)
		for a, found := range ok {
			if !found {
				return nil, nil, &InvariantError{
					Reason: fmt.Sprintf("voxel %d center %v has no %s axis match", v, centers[a][v], axisName(a)),
				}
			}
		}
		positions[v] = pos
	}

	substrates := make(map[string]*Substrate, len(man.Substrates))
	order := make([]string, 0, len(man.Substrates))
	for si, spec := range man.Substrates {
		sub := &Substrate{
			Name:      spec.Name,
			Units:     spec.Units,
			Diffusion: spec.Diffusion,
			Decay:     spec.Decay,
			Data:      newGrid(len(mesh.YAxis), len(mesh.XAxis), len(mesh.ZAxis)),
		}
		for v := 0; v < nVoxels; v++ {
			p := positions[v]
			sub.Data[p.j][p.i][p.k] = payload.At(4+si, v)
		}
		substrates[spec.Name] = sub
		order = append(order, spec.Name)
	}
	return substrates, order, nil
}

func newGrid(ny, nx, nz int) [][][]float64 {
	g := make([][][]float64, ny)
	for j := range g {
		g[j] = make([][]float64, nx)
		for i := range g[j] {
			g[j][i] = make([]float64, nz)
		}
	}
	return g
}

// SubstrateNames returns the tracked substrate names in alphabetical order.
func (s *Snapshot) SubstrateNames() []string {
	names := make([]string, 0, len(s.substrates))
	for name := range s.substrates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Substrate returns the reconstructed field for one substrate.
func (s *Snapshot) Substrate(name string) (*Substrate, error) {
	sub, ok := s.substrates[name]
	if !ok {
		return nil, fmt.Errorf("mcds: unknown substrate %q", name)
	}
	return sub, nil
}

// Concentration returns the full concentration grid for a substrate,
// shaped like the mesh grid.
func (s *Snapshot) Concentration(name string) ([][][]float64, error) {
	sub, err := s.Substrate(name)
	if err != nil {
		return nil, err
	}
	return sub.Data, nil
}

// ConcentrationSlice returns the xy-plane of a substrate's concentration
// grid at the given z coordinate. A z that is not an exact mesh center is a
// range violation: strict mode fails, the permissive default warns and snaps
// to the nearest axis value.
func (s *Snapshot) ConcentrationSlice(name string, z float64) ([][]float64, error) {
	sub, err := s.Substrate(name)
	if err != nil {
		return nil, err
	}
	k, ok := axisIndex(s.Mesh.ZAxis, z, centerMatchTolerance)
	if !ok {
		log.Printf("mcds: z_slice %v is not an element of the z-axis mesh centers %v", z, s.Mesh.ZAxis)
		if s.opts.Strict {
			return nil, &RangeError{Axis: "z_slice", Value: z, Min: s.Mesh.MNPRange[2][0], Max: s.Mesh.MNPRange[2][1]}
		}
		snapped := nearestAxisValue(s.Mesh.ZAxis, z)
		log.Printf("mcds: z_slice set to %v", snapped)
		k, _ = axisIndex(s.Mesh.ZAxis, snapped, centerMatchTolerance)
	}

	out := make([][]float64, len(s.Mesh.YAxis))
	for j := range out {
		out[j] = make([]float64, len(s.Mesh.XAxis))
		for i := range out[j] {
			out[j][i] = sub.Data[j][i][k]
		}
	}
	return out, nil
}

// ConcentrationAt returns the concentration of every substrate inside the
// voxel containing the point, ordered by SubstrateNames. The result is nil
// when the point is outside the mesh (an error in strict mode).
func (s *Snapshot) ConcentrationAt(x, y, z float64) ([]float64, error) {
	inside, err := s.IsInMesh(x, y, z)
	if err != nil {
		return nil, err
	}
	if !inside {
		return nil, nil
	}

	ijk, err := s.Mesh.VoxelIJK(x, y, z)
	if err != nil {
		return nil, err
	}
	names := s.SubstrateNames()
	out := make([]float64, len(names))
	for n, name := range names {
		out[n] = s.substrates[name].Data[ijk[1]][ijk[0]][ijk[2]]
	}
	return out, nil
}

// SubstrateRow is one row of the substrate parameter table.
type SubstrateRow struct {
	Substrate            string  `json:"substrate"`
	DecayRate            float64 `json:"decay_rate"`
	DiffusionCoefficient float64 `json:"diffusion_coefficient"`
}

// SubstrateTable returns each substrate's decay rate and diffusion
// coefficient, ordered by substrate name.
func (s *Snapshot) SubstrateTable() []SubstrateRow {
	names := s.SubstrateNames()
	rows := make([]SubstrateRow, len(names))
	for i, name := range names {
		sub := s.substrates[name]
		rows[i] = SubstrateRow{
			Substrate:            name,
			DecayRate:            sub.Decay.Value,
			DiffusionCoefficient: sub.Diffusion.Value,
		}
	}
	return rows
}

// ConcentrationRow is one voxel row of the concentration table.
type ConcentrationRow struct {
	VoxelI, VoxelJ, VoxelK int
	CenterM, CenterN, CenterP float64
	Concentrations            []float64 // ordered by SubstrateNames
}

// ConcentrationTable returns one row per voxel with voxel indices, mesh
// center coordinates, and every substrate's concentration, sorted by voxel
// index. When zSlice is non-nil the table is filtered to that plane, with
// the same snap semantics as ConcentrationSlice.
func (s *Snapshot) ConcentrationTable(zSlice *float64) ([]ConcentrationRow, error) {
	var filter *float64
	if zSlice != nil {
		z := *zSlice
		if _, ok := axisIndex(s.Mesh.ZAxis, z, centerMatchTolerance); !ok {
			log.Printf("mcds: z_slice %v is not an element of the z-axis mesh centers %v", z, s.Mesh.ZAxis)
			if s.opts.Strict {
				return nil, &RangeError{Axis: "z_slice", Value: z, Min: s.Mesh.MNPRange[2][0], Max: s.Mesh.MNPRange[2][1]}
			}
			z = nearestAxisValue(s.Mesh.ZAxis, z)
			log.Printf("mcds: z_slice set to %v", z)
		}
		filter = &z
	}

	names := s.SubstrateNames()
	var rows []ConcentrationRow
	for i, m := range s.Mesh.XAxis {
		for j, n := range s.Mesh.YAxis {
			for k, p := range s.Mesh.ZAxis {
				if filter != nil && p != *filter {
					continue
				}
				row := ConcentrationRow{
					VoxelI: i, VoxelJ: j, VoxelK: k,
					CenterM: m, CenterN: n, CenterP: p,
					Concentrations: make([]float64, len(names)),
				}
				for si, name := range names {
					row.Concentrations[si] = s.substrates[name].Data[j][i][k]
				}
				rows = append(rows, row)
			}
		}
	}
	return rows, nil
}

// UnitsTable maps every tracked parameter to its unit string: time, runtime,
// and spatial units, substrate concentration and physical parameter units,
// and cell variable units (the entity ID column carries no unit).
func (s *Snapshot) UnitsTable() map[string]string {
	units := map[string]string{
		"time":         s.Metadata.TimeUnits,
		"runtime":      s.Metadata.RuntimeUnits,
		"spatial_unit": s.Metadata.SpatialUnits,
	}
	for _, name := range s.SubstrateNames() {
		sub := s.substrates[name]
		units[name] = sub.Units
		units[name+"_diffusion_coefficient"] = sub.Diffusion.Units
		units[name+"_decay_rate"] = sub.Decay.Units
	}
	for name, unit := range s.cells.units {
		if name == "ID" {
			continue
		}
		units[name] = unit
	}
	return units
}
