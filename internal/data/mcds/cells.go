package mcds

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ColumnKind is the decoded scalar type of a cell table column.
type ColumnKind int

const (
	KindFloat ColumnKind = iota
	KindInt
	KindBool
	KindLabel
)

// ParseColumnKind maps the configuration type names to column kinds.
func ParseColumnKind(s string) (ColumnKind, error) {
	switch s {
	case "real":
		return KindFloat, nil
	case "integer":
		return KindInt, nil
	case "boolean":
		return KindBool, nil
	case "text":
		return KindLabel, nil
	}
	return 0, fmt.Errorf("mcds: unknown column type %q", s)
}

// Column is one decoded cell table column. Exactly one of the value slices
// is populated, according to Kind.
type Column struct {
	Name  string
	Units string
	Kind  ColumnKind

	Floats []float64
	Ints   []int64
	Bools  []bool
	Labels []string
}

// Len returns the number of rows.
func (c *Column) Len() int {
	switch c.Kind {
	case KindInt:
		return len(c.Ints)
	case KindBool:
		return len(c.Bools)
	case KindLabel:
		return len(c.Labels)
	}
	return len(c.Floats)
}

// Value returns the row value as its decoded Go type.
func (c *Column) Value(row int) any {
	switch c.Kind {
	case KindInt:
		return c.Ints[row]
	case KindBool:
		return c.Bools[row]
	case KindLabel:
		return c.Labels[row]
	}
	return c.Floats[row]
}

// Values returns the populated value slice.
func (c *Column) Values() any {
	switch c.Kind {
	case KindInt:
		return c.Ints
	case KindBool:
		return c.Bools
	case KindLabel:
		return c.Labels
	}
	return c.Floats
}

func (c *Column) selectRows(rows []int) *Column {
	out := &Column{Name: c.Name, Units: c.Units, Kind: c.Kind}
	switch c.Kind {
	case KindInt:
		out.Ints = make([]int64, len(rows))
		for i, r := range rows {
			out.Ints[i] = c.Ints[r]
		}
	case KindBool:
		out.Bools = make([]bool, len(rows))
		for i, r := range rows {
			out.Bools[i] = c.Bools[r]
		}
	case KindLabel:
		out.Labels = make([]string, len(rows))
		for i, r := range rows {
			out.Labels[i] = c.Labels[r]
		}
	default:
		out.Floats = make([]float64, len(rows))
		for i, r := range rows {
			out.Floats[i] = c.Floats[r]
		}
	}
	return out
}

// CellTable is the reconstructed one-row-per-cell attribute table. Rows are
// identified by the cell's integer ID; columns are ordered by name.
type CellTable struct {
	columns []*Column
	byName  map[string]*Column
	ids     []int
	byID    map[int]int
}

// Len returns the number of rows.
func (t *CellTable) Len() int { return len(t.ids) }

// IDs returns the cell IDs in row order.
func (t *CellTable) IDs() []int { return t.ids }

// ColumnNames returns the column names in table order.
func (t *CellTable) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in table order.
func (t *CellTable) Columns() []*Column { return t.columns }

// Column returns the named column, if present.
func (t *CellTable) Column(name string) (*Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// Row returns one cell's attributes keyed by column name.
func (t *CellTable) Row(id int) (map[string]any, bool) {
	r, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	row := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		row[c.Name] = c.Value(r)
	}
	return row, true
}

// Filter returns a new table holding the rows for which keep reports true.
func (t *CellTable) Filter(keep func(row int) bool) *CellTable {
	var rows []int
	for r := range t.ids {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	out := &CellTable{byName: make(map[string]*Column, len(t.columns)), byID: make(map[int]int, len(rows))}
	for _, c := range t.columns {
		sel := c.selectRows(rows)
		out.columns = append(out.columns, sel)
		out.byName[sel.Name] = sel
	}
	out.ids = make([]int, len(rows))
	for i, r := range rows {
		out.ids[i] = t.ids[r]
		out.byID[t.ids[r]] = i
	}
	return out
}

func (t *CellTable) addColumn(c *Column) {
	t.columns = append(t.columns, c)
	t.byName[c.Name] = c
}

// CellVariableNames returns the decoded raw column names, alphabetically.
func (s *Snapshot) CellVariableNames() []string {
	names := append([]string(nil), s.cells.names...)
	sort.Strings(names)
	return names
}

// CellTable recomputes the cell table from the stored raw columns: derived
// voxel membership, per-voxel count and density, vector magnitudes, the
// optional microenvironment join, declared typing, and categorical decoding
// are applied in order on every call, so callers never share mutable state.
func (s *Snapshot) CellTable() (*CellTable, error) {
	raw := s.cells
	n := raw.n

	t := &CellTable{byName: make(map[string]*Column)}
	for _, name := range raw.names {
		t.addColumn(&Column{
			Name:   name,
			Units:  raw.units[name],
			Kind:   KindFloat,
			Floats: append([]float64(nil), raw.data[name]...),
		})
	}

	// (1) voxel indices from the position columns, clamped into the valid
	// voxel index range.
	px, okx := t.byName["position_x"]
	py, oky := t.byName["position_y"]
	pz, okz := t.byName["position_z"]
	if !okx || !oky || !okz {
		return nil, &ParseError{File: "cell payload", Reason: "missing position columns"}
	}
	spacing, err := s.Mesh.VoxelSpacing()
	if err != nil {
		return nil, err
	}
	voxels := make([][3]int, n)
	vi := make([]int64, n)
	vj := make([]int64, n)
	vk := make([]int64, n)
	for r := 0; r < n; r++ {
		ijk := [3]int{
			int(math.Round((px.Floats[r] - s.Mesh.MNPRange[0][0]) / spacing[0])),
			int(math.Round((py.Floats[r] - s.Mesh.MNPRange[1][0]) / spacing[1])),
			int(math.Round((pz.Floats[r] - s.Mesh.MNPRange[2][0]) / spacing[2])),
		}
		ijk = s.Mesh.ClampIJK(ijk)
		voxels[r] = ijk
		vi[r], vj[r], vk[r] = int64(ijk[0]), int64(ijk[1]), int64(ijk[2])
	}
	t.addColumn(&Column{Name: "voxel_i", Kind: KindInt, Ints: vi})
	t.addColumn(&Column{Name: "voxel_j", Kind: KindInt, Ints: vj})
	t.addColumn(&Column{Name: "voxel_k", Kind: KindInt, Ints: vk})

	// (2) per-voxel cell count and density, joined back onto every row.
	volume, err := s.Mesh.VoxelVolume()
	if err != nil {
		return nil, err
	}
	counts := make(map[[3]int]int, n)
	for _, v := range voxels {
		counts[v]++
	}
	countCol := make([]int64, n)
	densityCol := make([]float64, n)
	for r, v := range voxels {
		countCol[r] = int64(counts[v])
		densityCol[r] = float64(counts[v]) / volume
	}
	t.addColumn(&Column{Name: "cell_count_voxel", Kind: KindInt, Ints: countCol})
	t.addColumn(&Column{Name: fmt.Sprintf("cell_density_%s3", s.Metadata.SpatialUnits), Kind: KindFloat, Floats: densityCol})

	// (3) Euclidean magnitude for every spatial vector variable present.
	for name := range spatialVars {
		cx, okx := t.byName[name+"_x"]
		cy, oky := t.byName[name+"_y"]
		cz, okz := t.byName[name+"_z"]
		if !okx && !oky && !okz {
			continue
		}
		length := make([]float64, n)
		for r := 0; r < n; r++ {
			var sum float64
			if okx {
				sum += cx.Floats[r] * cx.Floats[r]
			}
			if oky {
				sum += cy.Floats[r] * cy.Floats[r]
			}
			if okz {
				sum += cz.Floats[r] * cz.Floats[r]
			}
			length[r] = math.Sqrt(sum)
		}
		t.addColumn(&Column{Name: name + "_vectorlength", Kind: KindFloat, Floats: length})
	}

	// (4) microenvironment join: per-voxel substrate concentrations plus the
	// substrate physical parameters broadcast as constant columns.
	if s.opts.Microenv && len(s.substrates) > 0 {
		for _, name := range s.SubstrateNames() {
			sub := s.substrates[name]
			decay := make([]float64, n)
			diffusion := make([]float64, n)
			conc := make([]float64, n)
			for r := 0; r < n; r++ {
				decay[r] = sub.Decay.Value
				diffusion[r] = sub.Diffusion.Value
				v := voxels[r]
				conc[r] = sub.Data[v[1]][v[0]][v[2]]
			}
			t.addColumn(&Column{Name: name + "_decay_rate", Units: sub.Decay.Units, Kind: KindFloat, Floats: decay})
			t.addColumn(&Column{Name: name + "_diffusion_coefficient", Units: sub.Diffusion.Units, Kind: KindFloat, Floats: diffusion})
			t.addColumn(&Column{Name: name, Units: sub.Units, Kind: KindFloat, Floats: conc})
		}
		cm := make([]float64, n)
		cn := make([]float64, n)
		cp := make([]float64, n)
		for r, v := range voxels {
			center := s.Mesh.CenterAt(v)
			cm[r], cn[r], cp[r] = center[0], center[1], center[2]
		}
		t.addColumn(&Column{Name: "mesh_center_m", Units: s.Metadata.SpatialUnits, Kind: KindFloat, Floats: cm})
		t.addColumn(&Column{Name: "mesh_center_n", Units: s.Metadata.SpatialUnits, Kind: KindFloat, Floats: cn})
		t.addColumn(&Column{Name: "mesh_center_p", Units: s.Metadata.SpatialUnits, Kind: KindFloat, Floats: cp})
	}

	// (5) declared scalar types, caller overrides last; values are rounded
	// before any integer cast.
	kinds := make(map[string]ColumnKind)
	for name, kind := range declaredTypes {
		if _, ok := t.byName[name]; ok {
			kinds[name] = kind
		}
	}
	for name, kind := range s.opts.CustomTypes {
		if _, ok := t.byName[name]; ok {
			kinds[name] = kind
		}
	}
	for name, kind := range kinds {
		c := t.byName[name]
		if c.Kind != KindFloat {
			continue
		}
		switch kind {
		case KindInt:
			c.Ints = roundToInts(c.Floats)
			c.Floats = nil
			c.Kind = KindInt
		case KindBool:
			ints := roundToInts(c.Floats)
			c.Bools = make([]bool, len(ints))
			for i, v := range ints {
				c.Bools[i] = v != 0
			}
			c.Floats = nil
			c.Kind = KindBool
		case KindLabel:
			ints := roundToInts(c.Floats)
			c.Labels = make([]string, len(ints))
			for i, v := range ints {
				c.Labels[i] = strconv.FormatInt(v, 10)
			}
			c.Floats = nil
			c.Kind = KindLabel
		}
	}

	// (6) categorical translation via the fixed code tables; unmapped codes
	// pass through unchanged.
	s.decodeLabels(t, "cycle_model", cycleModels, deathModels)
	s.decodeLabels(t, "current_phase", cyclePhases, deathPhases)
	if s.opts.DecodeDeathModel {
		s.decodeLabels(t, "current_death_model", deathModels)
	}
	if c, ok := t.byName["cell_type"]; ok && c.Kind == KindLabel {
		for i, label := range c.Labels {
			if id, err := strconv.Atoi(label); err == nil {
				if name, ok := s.Metadata.CellTypes[id]; ok {
					c.Labels[i] = name
				}
			}
		}
	}

	// (7) rows indexed by cell ID, columns ordered by name.
	idCol, ok := t.byName["ID"]
	if !ok {
		return nil, &ParseError{File: "cell payload", Reason: "missing ID column"}
	}
	t.ids = make([]int, n)
	t.byID = make(map[int]int, n)
	for r := 0; r < n; r++ {
		id := int(math.Round(idCol.Floats[r]))
		t.ids[r] = id
		t.byID[id] = r
	}
	sort.Slice(t.columns, func(i, j int) bool { return t.columns[i].Name < t.columns[j].Name })

	return t, nil
}

func (s *Snapshot) decodeLabels(t *CellTable, name string, tables ...map[int]string) {
	c, ok := t.byName[name]
	if !ok || c.Kind != KindLabel {
		return
	}
	for i, label := range c.Labels {
		code, err := strconv.Atoi(label)
		if err != nil {
			continue
		}
		c.Labels[i] = translateCode(code, tables...)
	}
}

func roundToInts(values []float64) []int64 {
	out := make([]int64, len(values))
	for i, v := range values {
		out[i] = int64(math.Round(v))
	}
	return out
}

// CellsAt returns the cell table filtered to the voxel containing the given
// position: every row whose position lies within half a voxel spacing of
// the voxel's center along each axis. The result is nil when the point is
// outside the mesh (an error in strict mode).
func (s *Snapshot) CellsAt(x, y, z float64) (*CellTable, error) {
	inside, err := s.IsInMesh(x, y, z)
	if err != nil {
		return nil, err
	}
	if !inside {
		return nil, nil
	}

	spacing, err := s.Mesh.VoxelSpacing()
	if err != nil {
		return nil, err
	}
	ijk, err := s.Mesh.VoxelIJK(x, y, z)
	if err != nil {
		return nil, err
	}
	center := s.Mesh.CenterAt(ijk)

	t, err := s.CellTable()
	if err != nil {
		return nil, err
	}
	px, _ := t.Column("position_x")
	py, _ := t.Column("position_y")
	pz, _ := t.Column("position_z")
	return t.Filter(func(r int) bool {
		return math.Abs(px.Floats[r]-center[0]) <= spacing[0]/2 &&
			math.Abs(py.Floats[r]-center[1]) <= spacing[1]/2 &&
			math.Abs(pz.Floats[r]-center[2]) <= spacing[2]/2
	}), nil
}
