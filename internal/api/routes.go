// Package api provides HTTP handlers for the MCDS-View server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mcds-view/server/internal/data/mcds"
	"github.com/mcds-view/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/snapshots", snapshotsHandler)
			r.Post("/reindex", reindexHandler)

			r.Route("/snapshots/{step}", func(r chi.Router) {
				r.Get("/metadata", metadataHandler)
				r.Get("/mesh", meshHandler)
				r.Get("/substrates", substratesHandler)
				r.Get("/units", unitsHandler)
				r.Get("/concentration", concentrationSliceHandler)
				r.Get("/concentration/point", concentrationPointHandler)
				r.Get("/cells", cellsHandler)
				r.Get("/graphs/{kind}", graphHandler)
			})
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the snapshot
// service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.SnapshotService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.SnapshotService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"datasets": registry.Datasets(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func writeJSONBody(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// writeServiceError maps decode and query failures onto HTTP statuses:
// out-of-range coordinates are client errors, missing files are not found,
// everything else is internal.
func writeServiceError(w http.ResponseWriter, err error) {
	var rangeErr *mcds.RangeError
	switch {
	case errors.As(err, &rangeErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func queryFloat(r *http.Request, name string) (float64, bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// queryPoint parses the mandatory x, y, z query parameters.
func queryPoint(w http.ResponseWriter, r *http.Request) (x, y, z float64, ok bool) {
	for _, axis := range []struct {
		name string
		dst  *float64
	}{{"x", &x}, {"y", &y}, {"z", &z}} {
		v, present, err := queryFloat(r, axis.name)
		if err != nil || !present {
			http.Error(w, "missing or invalid query param: "+axis.name, http.StatusBadRequest)
			return 0, 0, 0, false
		}
		*axis.dst = v
	}
	return x, y, z, true
}

func snapshotsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	steps, err := svc.Steps()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"dataset":   svc.DatasetID(),
		"snapshots": steps,
	})
}

func reindexHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	n, err := svc.Reindex()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"dataset": svc.DatasetID(),
		"indexed": n,
	})
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	stepBodyHandler(w, r, func(svc *service.SnapshotService, step string) ([]byte, error) {
		return svc.Metadata(step)
	})
}

func meshHandler(w http.ResponseWriter, r *http.Request) {
	stepBodyHandler(w, r, func(svc *service.SnapshotService, step string) ([]byte, error) {
		return svc.Mesh(step)
	})
}

func substratesHandler(w http.ResponseWriter, r *http.Request) {
	stepBodyHandler(w, r, func(svc *service.SnapshotService, step string) ([]byte, error) {
		return svc.Substrates(step)
	})
}

func unitsHandler(w http.ResponseWriter, r *http.Request) {
	stepBodyHandler(w, r, func(svc *service.SnapshotService, step string) ([]byte, error) {
		return svc.Units(step)
	})
}

func stepBodyHandler(w http.ResponseWriter, r *http.Request, fn func(*service.SnapshotService, string) ([]byte, error)) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	body, err := fn(svc, chi.URLParam(r, "step"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, body)
}

func concentrationSliceHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	substrate := strings.TrimSpace(r.URL.Query().Get("substrate"))
	if substrate == "" {
		http.Error(w, "missing required query param: substrate", http.StatusBadRequest)
		return
	}
	z, _, err := queryFloat(r, "z")
	if err != nil {
		http.Error(w, "invalid query param: z", http.StatusBadRequest)
		return
	}

	body, err := svc.ConcentrationSlice(chi.URLParam(r, "step"), substrate, z)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, body)
}

func concentrationPointHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	x, y, z, ok := queryPoint(w, r)
	if !ok {
		return
	}

	body, err := svc.ConcentrationAt(chi.URLParam(r, "step"), x, y, z)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, body)
}

// cellsHandler serves the full cell table, or the voxel-filtered table when
// the x, y, z query parameters are present.
func cellsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	step := chi.URLParam(r, "step")

	q := r.URL.Query()
	if q.Get("x") == "" && q.Get("y") == "" && q.Get("z") == "" {
		body, err := svc.Cells(step)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSONBody(w, body)
		return
	}

	x, y, z, ok := queryPoint(w, r)
	if !ok {
		return
	}
	body, err := svc.CellsAt(step, x, y, z)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, body)
}

func graphHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	kind := chi.URLParam(r, "kind")
	if kind != "neighbor" && kind != "attached" {
		http.Error(w, "unknown graph kind: "+kind, http.StatusNotFound)
		return
	}
	body, err := svc.Graph(chi.URLParam(r, "step"), kind)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSONBody(w, body)
}
