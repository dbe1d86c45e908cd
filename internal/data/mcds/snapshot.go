// Package mcds decodes a single PhysiCell MultiCellDS output snapshot — the
// XML manifest plus its referenced MAT payloads and graph files — into an
// immutable in-memory model, and answers spatial and relational queries over
// it.
package mcds

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"

	"github.com/mcds-view/server/internal/data/mat"
)

// SettingsFilename is the conventional name of the settings document next to
// the output files.
const SettingsFilename = "PhysiCell_settings.xml"

// centerMatchTolerance bounds the voxel-center / axis coordinate match used
// when redistributing payload columns onto the mesh grid.
const centerMatchTolerance = 1e-10

// Options controls what a snapshot load extracts and how queries behave.
type Options struct {
	// Microenv extracts the microenvironment payload and enables the
	// concentration joins on the cell table.
	Microenv bool
	// Graph extracts the attachment and neighbor graph files.
	Graph bool
	// Settings reads the settings document for id→name label mappings.
	// When false, per-substrate and per-cell-type columns fall back to
	// positional string ids generated from the declared element counts.
	Settings bool
	// Strict turns range warnings (out-of-mesh coordinates, inexact slice
	// coordinates) into errors instead of nearest-value substitution.
	Strict bool
	// DecodeDeathModel enables categorical decoding of the
	// current_death_model column. Off by default: the column is suspected
	// to be a simulator output artifact.
	DecodeDeathModel bool
	// CustomTypes assigns scalar types to custom attributes the manifest
	// declares no type for.
	CustomTypes map[string]ColumnKind
}

// DefaultOptions mirrors the loader defaults: full extraction, permissive
// queries.
func DefaultOptions() Options {
	return Options{Microenv: true, Graph: true, Settings: true}
}

// Metadata holds the snapshot-level descriptors. Populated during manifest
// parsing, read-only thereafter.
type Metadata struct {
	MultiCellDSVersion string
	PhysiCellVersion   string
	Created            string
	CurrentTime        float64
	TimeUnits          string
	CurrentRuntime     float64
	RuntimeUnits       string
	SpatialUnits       string
	Substrates         map[int]string
	CellTypes          map[int]string
}

// Graph maps a cell ID to the set of connected cell IDs.
type Graph map[int]map[int]struct{}

// Snapshot is the fully decoded state of one simulation output time step.
// Immutable once constructed; accessors that produce tables recompute them
// from the stored raw columns, so queries never share mutable state.
type Snapshot struct {
	Metadata Metadata
	Mesh     *Mesh

	substrates     map[string]*Substrate
	substrateOrder []string // declared (ID attribute) order

	cells rawCells

	neighborGraph Graph
	attachedGraph Graph

	opts Options
}

// rawCells is the decoded per-cell payload: expanded column names in
// declared order, with one float64 slice per column.
type rawCells struct {
	names []string
	units map[string]string
	data  map[string][]float64
	n     int // cell count

	substrateNames []string // expansion suffixes, substrate-table order
	cellTypeNames  []string
}

// Load reads the manifest at xmlPath and all referenced payload files from
// the same directory, and constructs the snapshot.
func Load(xmlPath string, opts Options) (*Snapshot, error) {
	dir := filepath.Dir(xmlPath)

	man, err := ParseManifest(xmlPath)
	if err != nil {
		return nil, err
	}

	var settings *Settings
	if opts.Settings {
		settings, err = ParseSettings(filepath.Join(dir, SettingsFilename))
		if err != nil {
			return nil, err
		}
	}

	s := &Snapshot{
		Metadata: Metadata{
			MultiCellDSVersion: man.MultiCellDSVersion,
			PhysiCellVersion:   man.PhysiCellVersion,
			Created:            man.Created,
			CurrentTime:        man.CurrentTime,
			TimeUnits:          man.TimeUnits,
			CurrentRuntime:     man.CurrentRuntime,
			RuntimeUnits:       man.RuntimeUnits,
			SpatialUnits:       man.SpatialUnits,
			Substrates:         map[int]string{},
			CellTypes:          map[int]string{},
		},
		substrates: map[string]*Substrate{},
		opts:       opts,
	}
	if settings != nil {
		s.Metadata.Substrates = settings.Substrates
		s.Metadata.CellTypes = settings.CellTypes
	}

	meshFile, err := mat.Read(filepath.Join(dir, man.MeshFile))
	if err != nil {
		return nil, fmt.Errorf("mcds: mesh payload: %w", err)
	}
	meshMatrix, ok := meshFile.Matrix("mesh")
	if !ok {
		return nil, &ParseError{File: man.MeshFile, Reason: "no 'mesh' matrix in payload"}
	}
	if s.Mesh, err = newMesh(man, meshMatrix); err != nil {
		return nil, err
	}

	if opts.Microenv {
		if man.MicroenvFile == "" {
			return nil, &ParseError{File: xmlPath, Reason: "missing microenvironment payload filename"}
		}
		meFile, err := mat.Read(filepath.Join(dir, man.MicroenvFile))
		if err != nil {
			return nil, fmt.Errorf("mcds: microenvironment payload: %w", err)
		}
		meMatrix, ok := meFile.Matrix("multiscale_microenvironment")
		if !ok {
			return nil, &ParseError{File: man.MicroenvFile, Reason: "no 'multiscale_microenvironment' matrix in payload"}
		}
		s.substrates, s.substrateOrder, err = reconstructSubstrates(man, s.Mesh, meMatrix)
		if err != nil {
			return nil, err
		}
	}

	if err := s.loadCells(dir, man, settings); err != nil {
		return nil, err
	}

	if opts.Graph {
		if s.neighborGraph, err = ParseGraphFile(filepath.Join(dir, man.NeighborGraphFile)); err != nil {
			return nil, err
		}
		if s.attachedGraph, err = ParseGraphFile(filepath.Join(dir, man.AttachedGraphFile)); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// loadCells expands the declared variable list into the column plan, binds
// the cell payload to it, and stores the raw columns. The recognized
// corrupt-zero-cells payload degrades to an empty table.
func (s *Snapshot) loadCells(dir string, man *Manifest, settings *Settings) error {
	var substrateNames, cellTypeNames []string
	if settings != nil {
		substrateNames = settings.SubstrateNames()
		cellTypeNames = settings.CellTypeNames()
	}

	names, units := expandVariables(man.CellVariables, substrateNames, cellTypeNames)

	raw := rawCells{
		names:          names,
		units:          units,
		data:           make(map[string][]float64, len(names)),
		substrateNames: substrateNames,
		cellTypeNames:  cellTypeNames,
	}

	path := filepath.Join(dir, man.CellFile)
	cellFile, err := mat.Read(path)
	var matrix *mat.Matrix
	switch {
	case err == nil:
		var ok bool
		if matrix, ok = cellFile.Matrix("cells"); !ok {
			return &ParseError{File: man.CellFile, Reason: "no 'cells' matrix in payload"}
		}
	case errors.Is(err, mat.ErrCorrupt):
		// Known bug: some PhysiCell versions emit a corrupt cells payload
		// when the time step holds zero cells.
		log.Printf("mcds: corrupt %s detected, assuming time step with zero cells", path)
		matrix = nil
	default:
		return fmt.Errorf("mcds: cell payload: %w", err)
	}

	if matrix != nil {
		if matrix.Rows != len(names) {
			return &ParseError{File: man.CellFile, Reason: fmt.Sprintf("payload has %d rows, expansion plan has %d columns", matrix.Rows, len(names))}
		}
		raw.n = matrix.Cols
		for r, name := range names {
			raw.data[name] = matrix.Row(r)
		}
	} else {
		for _, name := range names {
			raw.data[name] = nil
		}
	}
	s.cells = raw
	return nil
}

// expandVariables resolves the column expansion plan: one (name, unit) pair
// per decoded scalar column, in declared order. When the label mapping lists
// are empty the plan falls back to positional ids from the declared sizes.
func expandVariables(vars []VariableSpec, substrateNames, cellTypeNames []string) ([]string, map[string]string) {
	var names []string
	units := make(map[string]string)
	add := func(name, unit string) {
		names = append(names, name)
		units[name] = unit
	}

	for _, v := range vars {
		switch {
		case perSubstrateVars[v.Name]:
			for _, sub := range positional(substrateNames, v.Size) {
				add(v.Name+"_"+sub, v.Units)
			}
		case perDeathModelVars[v.Name]:
			for i := 0; i < v.Size; i++ {
				add(v.Name+"_"+strconv.Itoa(i), v.Units)
			}
		case perCellTypeVars[v.Name]:
			for _, ct := range positional(cellTypeNames, v.Size) {
				add(v.Name+"_"+ct, v.Units)
			}
		case spatialVars[v.Name]:
			for _, axis := range []string{"_x", "_y", "_z"} {
				add(v.Name+axis, v.Units)
			}
		default:
			add(v.Name, v.Units)
		}
	}
	return names, units
}

// positional falls back to "0","1",... suffixes when no label list exists.
func positional(names []string, size int) []string {
	if len(names) > 0 {
		return names
	}
	out := make([]string, size)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// CellCount returns the number of cells in the decoded payload.
func (s *Snapshot) CellCount() int { return s.cells.n }

// NeighborGraph returns the cell neighbor graph.
func (s *Snapshot) NeighborGraph() Graph { return s.neighborGraph }

// AttachedGraph returns the attached cell graph.
func (s *Snapshot) AttachedGraph() Graph { return s.attachedGraph }
