// Package service provides business logic for the snapshot server.
package service

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcds-view/server/internal/cache"
	"github.com/mcds-view/server/internal/data/mcds"
	"github.com/mcds-view/server/internal/snapstore"
)

// SnapshotServiceConfig contains snapshot service configuration.
type SnapshotServiceConfig struct {
	DatasetID string
	Dir       string
	Options   mcds.Options
	Cache     *cache.Manager
	Index     *snapstore.Store
}

// SnapshotService serves decoded snapshots and query results for one
// simulation output directory.
type SnapshotService struct {
	datasetID string
	dir       string
	opts      mcds.Options
	cache     *cache.Manager
	index     *snapstore.Store

	// Guards concurrent loads of the same step so the payload files are
	// decoded once.
	loadMu sync.Mutex
}

// NewSnapshotService creates a new snapshot service.
func NewSnapshotService(cfg SnapshotServiceConfig) *SnapshotService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	return &SnapshotService{
		datasetID: datasetID,
		dir:       cfg.Dir,
		opts:      cfg.Options,
		cache:     cfg.Cache,
		index:     cfg.Index,
	}
}

// DatasetID returns the dataset identifier.
func (s *SnapshotService) DatasetID() string { return s.datasetID }

// Reindex scans the output directory for snapshot manifests, decodes each,
// and refreshes the persistent index. Returns the number of indexed steps.
func (s *SnapshotService) Reindex() (int, error) {
	steps, err := s.scanSteps()
	if err != nil {
		return 0, err
	}
	if _, err := s.index.DeleteDataset(s.datasetID); err != nil {
		return 0, err
	}

	for _, step := range steps {
		snap, err := s.Snapshot(step)
		if err != nil {
			return 0, fmt.Errorf("index %s: %w", step, err)
		}
		rec := &snapstore.Record{
			Dataset:    s.datasetID,
			Step:       step,
			XMLPath:    s.manifestPath(step),
			SimTime:    snap.Metadata.CurrentTime,
			TimeUnits:  snap.Metadata.TimeUnits,
			CellCount:  snap.CellCount(),
			Substrates: snap.SubstrateNames(),
			IndexedAt:  time.Now().UTC(),
		}
		if err := s.index.Upsert(rec); err != nil {
			return 0, err
		}
	}
	log.Printf("[%s] indexed %d snapshot(s) from %s", s.datasetID, len(steps), s.dir)
	return len(steps), nil
}

// Steps returns the indexed snapshot records in simulation time order.
func (s *SnapshotService) Steps() ([]*snapstore.Record, error) {
	return s.index.ListByDataset(s.datasetID)
}

// scanSteps lists the output manifest basenames in the dataset directory.
func (s *SnapshotService) scanSteps() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	var steps []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "output") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		steps = append(steps, strings.TrimSuffix(name, ".xml"))
	}
	sort.Strings(steps)
	return steps, nil
}

func (s *SnapshotService) manifestPath(step string) string {
	return filepath.Join(s.dir, step+".xml")
}

// Snapshot returns the decoded snapshot for a time step, loading and
// caching it on first use.
func (s *SnapshotService) Snapshot(step string) (*mcds.Snapshot, error) {
	key := cache.SnapshotKey(s.datasetID, step)
	if snap, ok := s.cache.GetSnapshot(key); ok {
		return snap, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if snap, ok := s.cache.GetSnapshot(key); ok {
		return snap, nil
	}

	path := s.manifestPath(step)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", step, err)
	}
	snap, err := mcds.Load(path, s.opts)
	if err != nil {
		return nil, err
	}
	s.cache.SetSnapshot(key, snap)
	return snap, nil
}

// cached runs build and serializes its result, memoizing the body in the
// response cache.
func (s *SnapshotService) cached(step, query string, params map[string]string, build func(*mcds.Snapshot) (any, error)) ([]byte, error) {
	key := cache.ResponseKey(s.datasetID, step, query, params)
	if body, ok := s.cache.GetResponse(key); ok {
		return body, nil
	}

	snap, err := s.Snapshot(step)
	if err != nil {
		return nil, err
	}
	result, err := build(snap)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetResponse(key, body); err != nil {
		log.Printf("[%s] response cache store failed: %v", s.datasetID, err)
	}
	return body, nil
}

// MetadataResponse describes one snapshot for the metadata endpoint.
type MetadataResponse struct {
	Dataset            string         `json:"dataset"`
	Step               string         `json:"step"`
	MultiCellDSVersion string         `json:"multicellds_version"`
	PhysiCellVersion   string         `json:"physicell_version"`
	Created            string         `json:"created"`
	Time               float64        `json:"time"`
	TimeUnits          string         `json:"time_units"`
	Runtime            float64        `json:"runtime"`
	RuntimeUnits       string         `json:"runtime_units"`
	SpatialUnits       string         `json:"spatial_units"`
	CellCount          int            `json:"cell_count"`
	Substrates         map[int]string `json:"substrates"`
	CellTypes          map[int]string `json:"cell_types"`
}

// Metadata returns the serialized snapshot descriptors.
func (s *SnapshotService) Metadata(step string) ([]byte, error) {
	return s.cached(step, "metadata", nil, func(snap *mcds.Snapshot) (any, error) {
		md := snap.Metadata
		return &MetadataResponse{
			Dataset:            s.datasetID,
			Step:               step,
			MultiCellDSVersion: md.MultiCellDSVersion,
			PhysiCellVersion:   md.PhysiCellVersion,
			Created:            md.Created,
			Time:               md.CurrentTime,
			TimeUnits:          md.TimeUnits,
			Runtime:            md.CurrentRuntime,
			RuntimeUnits:       md.RuntimeUnits,
			SpatialUnits:       md.SpatialUnits,
			CellCount:          snap.CellCount(),
			Substrates:         md.Substrates,
			CellTypes:          md.CellTypes,
		}, nil
	})
}

// MeshResponse describes the reconstructed mesh geometry.
type MeshResponse struct {
	SpatialUnits string        `json:"spatial_units"`
	XAxis        []float64     `json:"x_axis"`
	YAxis        []float64     `json:"y_axis"`
	ZAxis        []float64     `json:"z_axis"`
	XYZRange     [3][2]float64 `json:"xyz_range"`
	MNPRange     [3][2]float64 `json:"mnp_range"`
	IJKRange     [3][2]int     `json:"ijk_range"`
	VoxelCount   int           `json:"voxel_count"`
	VoxelVolume  float64       `json:"voxel_volume"`
	MeshSpacing  [3]float64    `json:"mesh_spacing"`
	VoxelSpacing [3]float64    `json:"voxel_spacing"`
}

// Mesh returns the serialized mesh geometry.
func (s *SnapshotService) Mesh(step string) ([]byte, error) {
	return s.cached(step, "mesh", nil, func(snap *mcds.Snapshot) (any, error) {
		m := snap.Mesh
		volume, err := m.VoxelVolume()
		if err != nil {
			return nil, err
		}
		spacing, err := m.VoxelSpacing()
		if err != nil {
			return nil, err
		}
		return &MeshResponse{
			SpatialUnits: m.SpatialUnits,
			XAxis:        m.XAxis,
			YAxis:        m.YAxis,
			ZAxis:        m.ZAxis,
			XYZRange:     m.XYZRange,
			MNPRange:     m.MNPRange,
			IJKRange:     m.IJKRange,
			VoxelCount:   m.VoxelCount(),
			VoxelVolume:  volume,
			MeshSpacing:  m.MeshSpacing(),
			VoxelSpacing: spacing,
		}, nil
	})
}

// Substrates returns the serialized substrate parameter table.
func (s *SnapshotService) Substrates(step string) ([]byte, error) {
	return s.cached(step, "substrates", nil, func(snap *mcds.Snapshot) (any, error) {
		return map[string]any{
			"substrates": snap.SubstrateTable(),
		}, nil
	})
}

// Units returns the serialized unit table.
func (s *SnapshotService) Units(step string) ([]byte, error) {
	return s.cached(step, "units", nil, func(snap *mcds.Snapshot) (any, error) {
		return map[string]any{
			"units": snap.UnitsTable(),
		}, nil
	})
}

// ConcentrationSlice returns one substrate's xy-plane at the given z.
func (s *SnapshotService) ConcentrationSlice(step, substrate string, z float64) ([]byte, error) {
	params := map[string]string{"substrate": substrate, "z": fmt.Sprintf("%g", z)}
	return s.cached(step, "concentration_slice", params, func(snap *mcds.Snapshot) (any, error) {
		slice, err := snap.ConcentrationSlice(substrate, z)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"substrate": substrate,
			"z":         z,
			"x_axis":    snap.Mesh.XAxis,
			"y_axis":    snap.Mesh.YAxis,
			"values":    slice, // [j][i]
		}, nil
	})
}

// ConcentrationAt returns every substrate's concentration inside the voxel
// containing the point.
func (s *SnapshotService) ConcentrationAt(step string, x, y, z float64) ([]byte, error) {
	params := map[string]string{
		"x": fmt.Sprintf("%g", x),
		"y": fmt.Sprintf("%g", y),
		"z": fmt.Sprintf("%g", z),
	}
	return s.cached(step, "concentration_point", params, func(snap *mcds.Snapshot) (any, error) {
		values, err := snap.ConcentrationAt(x, y, z)
		if err != nil {
			return nil, err
		}
		resp := map[string]any{
			"substrates": snap.SubstrateNames(),
			"in_mesh":    values != nil,
		}
		if values != nil {
			resp["values"] = values
		}
		return resp, nil
	})
}

// CellColumn is the serialized form of one cell table column.
type CellColumn struct {
	Name   string `json:"name"`
	Units  string `json:"units,omitempty"`
	Type   string `json:"type"`
	Values any    `json:"values"`
}

func kindName(k mcds.ColumnKind) string {
	switch k {
	case mcds.KindInt:
		return "integer"
	case mcds.KindBool:
		return "boolean"
	case mcds.KindLabel:
		return "text"
	}
	return "real"
}

func cellTableResponse(t *mcds.CellTable) map[string]any {
	columns := make([]CellColumn, 0, len(t.Columns()))
	for _, c := range t.Columns() {
		columns = append(columns, CellColumn{
			Name:   c.Name,
			Units:  c.Units,
			Type:   kindName(c.Kind),
			Values: c.Values(),
		})
	}
	return map[string]any{
		"count":   t.Len(),
		"ids":     t.IDs(),
		"columns": columns,
	}
}

// Cells returns the serialized full cell table.
func (s *SnapshotService) Cells(step string) ([]byte, error) {
	return s.cached(step, "cells", nil, func(snap *mcds.Snapshot) (any, error) {
		t, err := snap.CellTable()
		if err != nil {
			return nil, err
		}
		return cellTableResponse(t), nil
	})
}

// CellsAt returns the cell table filtered to the voxel containing the point.
func (s *SnapshotService) CellsAt(step string, x, y, z float64) ([]byte, error) {
	params := map[string]string{
		"x": fmt.Sprintf("%g", x),
		"y": fmt.Sprintf("%g", y),
		"z": fmt.Sprintf("%g", z),
	}
	return s.cached(step, "cells_at", params, func(snap *mcds.Snapshot) (any, error) {
		t, err := snap.CellsAt(x, y, z)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return map[string]any{"in_mesh": false}, nil
		}
		resp := cellTableResponse(t)
		resp["in_mesh"] = true
		return resp, nil
	})
}

// Graph returns one of the cell graphs in adjacency list form, keyed by
// decimal cell id.
func (s *SnapshotService) Graph(step, kind string) ([]byte, error) {
	params := map[string]string{"kind": kind}
	return s.cached(step, "graph", params, func(snap *mcds.Snapshot) (any, error) {
		var g mcds.Graph
		switch kind {
		case "neighbor":
			g = snap.NeighborGraph()
		case "attached":
			g = snap.AttachedGraph()
		default:
			return nil, fmt.Errorf("unknown graph kind %q", kind)
		}
		if g == nil {
			return nil, fmt.Errorf("graph extraction is disabled")
		}

		adjacency := make(map[string][]int, len(g))
		for id, neighbors := range g {
			list := make([]int, 0, len(neighbors))
			for n := range neighbors {
				list = append(list, n)
			}
			sort.Ints(list)
			adjacency[fmt.Sprint(id)] = list
		}
		return map[string]any{
			"kind":  kind,
			"cells": adjacency,
		}, nil
	})
}
