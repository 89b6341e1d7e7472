package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/ingest"
)

// DirectoryImporter runs the ingestion pipeline over a directory.
type DirectoryImporter interface {
	ImportDirectory(ctx context.Context, dataDir, datasetName string) (*ingest.Result, error)
	ImportStatus(ctx context.Context, datasetName string) (*ingest.Status, error)
}

// ImportHandler serves the /api/import/* surface.
type ImportHandler struct {
	importer    DirectoryImporter
	dataDir     string
	datasetName string
	log         *zap.Logger

	mu      sync.Mutex
	running bool
	last    *ingest.Result
	lastErr error
	lastAt  time.Time
}

func NewImportHandler(importer DirectoryImporter, dataDir, datasetName string, logger *zap.Logger) *ImportHandler {
	if dataDir == "" {
		dataDir = "./data"
	}
	if datasetName == "" {
		datasetName = "文档知识库"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportHandler{
		importer:    importer,
		dataDir:     dataDir,
		datasetName: datasetName,
		log:         logger,
	}
}

func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/import/start", h.handleStart)
	mux.HandleFunc("/api/import/import-sync", h.handleSync)
	mux.HandleFunc("/api/import/status", h.handleStatus)
}

// handleStart kicks off a background run and returns immediately. Only
// one run at a time; a second start while running is rejected.
func (h *ImportHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "import already running")
		return
	}
	h.running = true
	h.mu.Unlock()

	go func() {
		// Detached from the request; the run outlives the response.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		res, err := h.importer.ImportDirectory(ctx, h.dataDir, h.datasetName)

		h.mu.Lock()
		h.running = false
		h.last = res
		h.lastErr = err
		h.lastAt = time.Now()
		h.mu.Unlock()

		if err != nil {
			h.log.Error("Background import failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":       "started",
		"data_dir":     h.dataDir,
		"dataset_name": h.datasetName,
	})
}

// handleSync runs the import inline and returns the statistics.
func (h *ImportHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "import already running")
		return
	}
	h.running = true
	h.mu.Unlock()

	res, err := h.importer.ImportDirectory(r.Context(), h.dataDir, h.datasetName)

	h.mu.Lock()
	h.running = false
	h.last = res
	h.lastErr = err
	h.lastAt = time.Now()
	h.mu.Unlock()

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStatus reports run state plus dataset processing progress.
func (h *ImportHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.mu.Lock()
	body := map[string]interface{}{
		"running": h.running,
	}
	if h.last != nil {
		body["last_result"] = h.last
		body["last_run_at"] = h.lastAt.UTC().Format(time.RFC3339)
	}
	if h.lastErr != nil {
		body["last_error"] = h.lastErr.Error()
	}
	h.mu.Unlock()

	if st, err := h.importer.ImportStatus(r.Context(), h.datasetName); err == nil {
		body["dataset"] = st
	}

	writeJSON(w, http.StatusOK, body)
}
