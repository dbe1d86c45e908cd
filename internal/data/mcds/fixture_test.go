package mcds

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mcds-view/server/internal/data/mat"
)

// fixtureConfig describes a synthetic snapshot written to disk for tests.
type fixtureConfig struct {
	xCoords, yCoords, zCoords []float64
	bbox                      [6]float64
	volume                    float64

	substrates []SubstrateSpec
	// conc returns the concentration of substrate s at voxel (i,j,k).
	conc func(s, i, j, k int) float64
	// reverseVoxels enumerates payload voxel columns in reverse order, to
	// exercise the no-index-assumption contract.
	reverseVoxels bool
	// secondVolume, when non-zero, replaces the volume of the last voxel.
	secondVolume float64

	labels    []VariableSpec
	cellRows  [][]float64 // one row per expanded column, one column per cell
	corruptCells bool

	neighborLines []string
	attachedLines []string

	writeSettings     bool
	settingsSubstrates []string // names in id order
	settingsCellTypes  []string
	settingsCustomData []string
}

// defaultFixture is the 2-substrate, 11x11x1 voxel scenario with bounding
// box [-30,-20,-5,300,200,5] and three cells.
func defaultFixture() fixtureConfig {
	xs := make([]float64, 11)
	ys := make([]float64, 11)
	for i := range xs {
		xs[i] = -15 + 30*float64(i)
	}
	for j := range ys {
		ys[j] = -10 + 20*float64(j)
	}

	return fixtureConfig{
		xCoords: xs,
		yCoords: ys,
		zCoords: []float64{0},
		bbox:    [6]float64{-30, -20, -5, 300, 200, 5},
		volume:  6000,
		substrates: []SubstrateSpec{
			{ID: 0, Name: "oxygen", Units: "mmHg", Diffusion: Param{Value: 100000, Units: "micron^2/min"}, Decay: Param{Value: 10, Units: "1/min"}},
			{ID: 1, Name: "glucose", Units: "mM", Diffusion: Param{Value: 50000, Units: "micron^2/min"}, Decay: Param{Value: 0.5, Units: "1/min"}},
		},
		conc: func(s, i, j, k int) float64 {
			return float64(1000*s + 100*k + 10*j + i)
		},
		labels: []VariableSpec{
			{Name: "ID", Size: 1, Units: "none"},
			{Name: "position", Size: 3, Units: "micron"},
			{Name: "total_volume", Size: 1, Units: "micron^3"},
			{Name: "cell_type", Size: 1, Units: "none"},
			{Name: "cycle_model", Size: 1, Units: "none"},
			{Name: "current_phase", Size: 1, Units: "none"},
			{Name: "dead", Size: 1, Units: "none"},
			{Name: "current_death_model", Size: 1, Units: "none"},
			{Name: "death_rates", Size: 2, Units: "1/min"},
			{Name: "velocity", Size: 3, Units: "micron/min"},
			{Name: "secretion_rates", Size: 2, Units: "1/min"},
		},
		// Expanded column order:
		// ID, position_x/y/z, total_volume, cell_type, cycle_model,
		// current_phase, dead, current_death_model, death_rates_0/1,
		// velocity_x/y/z, secretion_rates_oxygen, secretion_rates_glucose.
		cellRows: [][]float64{
			{0, 1, 2},          // ID
			{-12, 30, 31},      // position_x
			{-8, 20, 21},       // position_y
			{0, 0, 0},          // position_z
			{2000, 2100, 2200}, // total_volume
			{0, 1, 1},          // cell_type
			{5, 100, 42},       // cycle_model
			{14, 100, 4},       // current_phase
			{0, 1, 0},          // dead
			{100, 100, 100},    // current_death_model
			{1e-5, 2e-5, 3e-5}, // death_rates_0
			{0, 0, 0},          // death_rates_1
			{3, 0, 1},          // velocity_x
			{4, 0, 2},          // velocity_y
			{0, 5, 2},          // velocity_z
			{1, 2, 3},          // secretion_rates_oxygen
			{4, 5, 6},          // secretion_rates_glucose
		},
		neighborLines: []string{"0: 1", "1: 0", "2:"},
		attachedLines: []string{"0:", "1: 2", "2: 1"},

		writeSettings:      true,
		settingsSubstrates: []string{"oxygen", "glucose"},
		settingsCellTypes:  []string{"default", "tumor"},
	}
}

// writeFixture writes the manifest, settings, payloads, and graph files
// into dir and returns the manifest path.
func writeFixture(t *testing.T, dir string, f fixtureConfig) string {
	t.Helper()

	// Voxel enumeration: x fastest, then y, then z.
	type voxel struct{ i, j, k int }
	var voxels []voxel
	for k := range f.zCoords {
		for j := range f.yCoords {
			for i := range f.xCoords {
				voxels = append(voxels, voxel{i, j, k})
			}
		}
	}
	if f.reverseVoxels {
		for a, b := 0, len(voxels)-1; a < b; a, b = a+1, b-1 {
			voxels[a], voxels[b] = voxels[b], voxels[a]
		}
	}

	meshRows := make([][]float64, 4)
	for r := range meshRows {
		meshRows[r] = make([]float64, len(voxels))
	}
	for v, vox := range voxels {
		meshRows[0][v] = f.xCoords[vox.i]
		meshRows[1][v] = f.yCoords[vox.j]
		meshRows[2][v] = f.zCoords[vox.k]
		meshRows[3][v] = f.volume
	}
	if f.secondVolume != 0 {
		meshRows[3][len(voxels)-1] = f.secondVolume
	}
	meshMatrix, err := mat.FromRows("mesh", meshRows)
	if err != nil {
		t.Fatalf("mesh matrix: %v", err)
	}
	if err := mat.WriteLevel4(filepath.Join(dir, "initial_mesh0.mat"), meshMatrix); err != nil {
		t.Fatalf("write mesh payload: %v", err)
	}

	meRows := make([][]float64, 4+len(f.substrates))
	copy(meRows, meshRows)
	for s := range f.substrates {
		row := make([]float64, len(voxels))
		for v, vox := range voxels {
			row[v] = f.conc(s, vox.i, vox.j, vox.k)
		}
		meRows[4+s] = row
	}
	meMatrix, err := mat.FromRows("multiscale_microenvironment", meRows)
	if err != nil {
		t.Fatalf("microenvironment matrix: %v", err)
	}
	if err := mat.WriteLevel4(filepath.Join(dir, "output_microenvironment0.mat"), meMatrix); err != nil {
		t.Fatalf("write microenvironment payload: %v", err)
	}

	cellPath := filepath.Join(dir, "output_cells_physicell.mat")
	if f.corruptCells {
		if err := os.WriteFile(cellPath, []byte{1, 2, 3}, 0o644); err != nil {
			t.Fatalf("write corrupt cell payload: %v", err)
		}
	} else {
		cellMatrix, err := mat.FromRows("cells", f.cellRows)
		if err != nil {
			t.Fatalf("cell matrix: %v", err)
		}
		if err := mat.WriteLevel4(cellPath, cellMatrix); err != nil {
			t.Fatalf("write cell payload: %v", err)
		}
	}

	writeLines(t, filepath.Join(dir, "neighbor_graph.txt"), f.neighborLines)
	writeLines(t, filepath.Join(dir, "attached_graph.txt"), f.attachedLines)

	xmlPath := filepath.Join(dir, "output00000000.xml")
	if err := os.WriteFile(xmlPath, []byte(manifestXML(f)), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if f.writeSettings {
		path := filepath.Join(dir, SettingsFilename)
		if err := os.WriteFile(path, []byte(settingsXML(f)), 0o644); err != nil {
			t.Fatalf("write settings: %v", err)
		}
	}
	return xmlPath
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return strings.Join(parts, " ")
}

func manifestXML(f fixtureConfig) string {
	var b strings.Builder
	b.WriteString(`<MultiCellDS version="2">
<metadata>
<software><name>PhysiCell</name><version>1.10.4</version></software>
<created>2022-08-22T12:00:00Z</created>
<current_time units="min">1440</current_time>
<current_runtime units="sec">12.5</current_runtime>
</metadata>
<microenvironment><domain name="microenvironment">
<mesh type="Cartesian" units="micron">
`)
	fmt.Fprintf(&b, `<bounding_box type="axis-aligned" units="micron" delimiter=" ">%s</bounding_box>`+"\n", joinFloats(f.bbox[:]))
	fmt.Fprintf(&b, `<x_coordinates delimiter=" ">%s</x_coordinates>`+"\n", joinFloats(f.xCoords))
	fmt.Fprintf(&b, `<y_coordinates delimiter=" ">%s</y_coordinates>`+"\n", joinFloats(f.yCoords))
	fmt.Fprintf(&b, `<z_coordinates delimiter=" ">%s</z_coordinates>`+"\n", joinFloats(f.zCoords))
	b.WriteString("<voxels type=\"matlab\"><filename>initial_mesh0.mat</filename></voxels>\n</mesh>\n<variables>\n")
	for _, s := range f.substrates {
		fmt.Fprintf(&b, `<variable name="%s" units="%s" ID="%d"><physical_parameter_set>`+"\n", s.Name, s.Units, s.ID)
		fmt.Fprintf(&b, `<diffusion_coefficient units="%s">%g</diffusion_coefficient>`+"\n", s.Diffusion.Units, s.Diffusion.Value)
		fmt.Fprintf(&b, `<decay_rate units="%s">%g</decay_rate>`+"\n", s.Decay.Units, s.Decay.Value)
		b.WriteString("</physical_parameter_set></variable>\n")
	}
	b.WriteString(`</variables>
<data type="matlab"><filename>output_microenvironment0.mat</filename></data>
</domain></microenvironment>
<cellular_information><cell_populations><cell_population type="individual"><custom>
<simplified_data type="matlab" source="PhysiCell" data_version="2">
<labels>
`)
	for i, l := range f.labels {
		fmt.Fprintf(&b, `<label index="%d" size="%d" units="%s">%s</label>`+"\n", i, l.Size, l.Units, l.Name)
	}
	b.WriteString(`</labels>
<filename>output_cells_physicell.mat</filename>
<neighbor_graph link="processed"><filename>neighbor_graph.txt</filename></neighbor_graph>
<attached_cells_graph link="processed"><filename>attached_graph.txt</filename></attached_cells_graph>
</simplified_data>
</custom></cell_population></cell_populations></cellular_information>
</MultiCellDS>
`)
	return b.String()
}

func settingsXML(f fixtureConfig) string {
	var b strings.Builder
	b.WriteString("<PhysiCell_settings version=\"devel\">\n<microenvironment_setup>\n")
	for i, name := range f.settingsSubstrates {
		fmt.Fprintf(&b, `<variable name="%s" units="dimensionless" ID="%d"></variable>`+"\n", name, i)
	}
	b.WriteString("</microenvironment_setup>\n<cell_definitions>\n")
	for i, name := range f.settingsCellTypes {
		fmt.Fprintf(&b, `<cell_definition name="%s" ID="%d">`+"\n", name, i)
		if len(f.settingsCustomData) > 0 {
			b.WriteString("<custom_data>\n")
			for _, cd := range f.settingsCustomData {
				fmt.Fprintf(&b, "<%s>1.0</%s>\n", cd, cd)
			}
			b.WriteString("</custom_data>\n")
		}
		b.WriteString("</cell_definition>\n")
	}
	b.WriteString("</cell_definitions>\n</PhysiCell_settings>\n")
	return b.String()
}
