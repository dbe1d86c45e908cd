package api

import (
	"github.com/mcds-view/server/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DatasetRegistry holds snapshot services for all configured datasets.
type DatasetRegistry struct {
	services     map[string]*service.SnapshotService
	datasetOrder []string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(order []string) *DatasetRegistry {
	return &DatasetRegistry{
		services:     make(map[string]*service.SnapshotService),
		datasetOrder: order,
	}
}

// Register adds a snapshot service for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.SnapshotService) {
	r.services[datasetID] = svc
}

// Get returns the snapshot service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.SnapshotService {
	return r.services[datasetID]
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		infos = append(infos, DatasetInfo{
			ID:   id,
			Name: id,
		})
	}
	return infos
}
