// Package ingest turns a directory of text files into Data rows and
// embedding vectors: decode, chunk, batch-persist, vectorize, and update
// aggregate counts. Runs are resumable through the processed flag.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	ometrics "github.com/echointellect/rag/internal/metrics"
	"github.com/echointellect/rag/internal/models"
	"github.com/echointellect/rag/internal/store"
	"github.com/echointellect/rag/internal/tokenizer"
	"github.com/echointellect/rag/internal/vectordb"
)

// MetadataStore is the slice of the metadata client ingestion needs.
type MetadataStore interface {
	GetDatasetByName(ctx context.Context, name string) (models.Dataset, error)
	CreateDataset(ctx context.Context, d models.Dataset) error
	GetCollectionByName(ctx context.Context, datasetID, name string) (models.Collection, error)
	CreateCollection(ctx context.Context, col models.Collection) error
	ListCollections(ctx context.Context, datasetID string) ([]models.Collection, error)
	InsertDataBatch(ctx context.Context, batch []models.Data) error
	UpdateData(ctx context.Context, d models.Data) error
	PendingData(ctx context.Context, collectionID string) ([]models.Data, error)
	CountPending(ctx context.Context, collectionID string) (int, error)
	ListData(ctx context.Context, collectionID string) ([]models.Data, error)
	AddDatasetCounts(ctx context.Context, id string, collections, data, tokens int) error
	AddCollectionCounts(ctx context.Context, id string, data, tokens int) error
}

// Embedder produces one vector per text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore receives the embedding points.
type VectorStore interface {
	Upsert(ctx context.Context, points []vectordb.Point) error
}

// Sub-vector boundary: content strictly longer than this many characters
// gets an extra vector over its head.
const subVectorChars = 512

// embedBatchSize is the number of Data rows vectorized per batch.
const embedBatchSize = 10

// Config tunes the importer.
type Config struct {
	BatchSize int
	// EmbedRate caps embedding calls per second. Zero means unlimited.
	EmbedRate float64
	Model     string
}

// Result aggregates one import run.
type Result struct {
	Success        bool     `json:"success"`
	DatasetID      string   `json:"dataset_id"`
	FilesProcessed int      `json:"files_processed"`
	DataCreated    int      `json:"data_created"`
	VectorsCreated int      `json:"vectors_created"`
	Errors         []string `json:"errors,omitempty"`
}

// Status is a readiness snapshot of a dataset.
type Status struct {
	DatasetID     string `json:"dataset_id"`
	DatasetName   string `json:"dataset_name"`
	Collections   int    `json:"total_collections"`
	TotalData     int    `json:"total_data"`
	ProcessedData int    `json:"processed_data"`
	PendingData   int    `json:"pending_data"`
	Progress      string `json:"progress"`
}

// Importer drives the ingestion pipeline.
type Importer struct {
	meta    MetadataStore
	vectors VectorStore
	embed   Embedder
	counter *tokenizer.Counter
	ids     *IDGenerator
	limiter *rate.Limiter
	cfg     Config
	log     *zap.Logger
}

// NewImporter wires the pipeline. counter may be nil; token counts then
// fall back to the character estimate.
func NewImporter(meta MetadataStore, vectors VectorStore, embed Embedder, counter *tokenizer.Counter, cfg Config, logger *zap.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embedBatchSize
	}
	if cfg.Model == "" {
		cfg.Model = "bge-m3:latest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.EmbedRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.EmbedRate), 1)
	}
	return &Importer{
		meta:    meta,
		vectors: vectors,
		embed:   embed,
		counter: counter,
		ids:     NewIDGenerator(),
		limiter: limiter,
		cfg:     cfg,
		log:     logger,
	}
}

func (im *Importer) tokens(text string) int {
	if im.counter != nil {
		return im.counter.Count(text)
	}
	return tokenizer.Estimate(text)
}

// ImportDirectory ingests every .txt file under dataDir into the named
// dataset. Per-file decode failures are recorded and skipped; a duplicate
// id aborts the whole run.
func (im *Importer) ImportDirectory(ctx context.Context, dataDir, datasetName string) (*Result, error) {
	res := &Result{}

	dataset, err := im.getOrCreateDataset(ctx, datasetName)
	if err != nil {
		return res, err
	}
	res.DatasetID = dataset.ID

	files, err := filepath.Glob(filepath.Join(dataDir, "*.txt"))
	if err != nil {
		return res, fmt.Errorf("ingest: scan %s: %w", dataDir, err)
	}
	if len(files) == 0 {
		return res, fmt.Errorf("ingest: no .txt files under %s", dataDir)
	}
	sort.Strings(files)

	im.log.Info("Import started",
		zap.String("dataset", datasetName),
		zap.Int("files", len(files)),
	)

	for _, path := range files {
		fileRes, err := im.importFile(ctx, path, dataset.ID)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				ometrics.IngestFilesTotal.WithLabelValues("error").Inc()
				return res, fmt.Errorf("ingest: %s: %w", path, err)
			}
			ometrics.IngestFilesTotal.WithLabelValues("error").Inc()
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", filepath.Base(path), err))
			im.log.Error("File import failed",
				zap.String("file", path),
				zap.Error(err),
			)
			continue
		}
		ometrics.IngestFilesTotal.WithLabelValues("ok").Inc()
		res.FilesProcessed++
		res.DataCreated += fileRes.dataCreated
		res.VectorsCreated += fileRes.vectorsCreated
	}

	res.Success = len(res.Errors) == 0
	im.log.Info("Import finished",
		zap.String("dataset_id", dataset.ID),
		zap.Int("files_processed", res.FilesProcessed),
		zap.Int("data_created", res.DataCreated),
		zap.Int("vectors_created", res.VectorsCreated),
		zap.Int("failed_files", len(res.Errors)),
	)
	return res, nil
}

type fileResult struct {
	dataCreated    int
	vectorsCreated int
}

func (im *Importer) importFile(ctx context.Context, path, datasetID string) (fileResult, error) {
	var res fileResult

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	collection, created, err := im.getOrCreateCollection(ctx, datasetID, name, path)
	if err != nil {
		return res, err
	}

	// Resume: re-embed rows left unprocessed by an earlier run.
	pending, err := im.meta.PendingData(ctx, collection.ID)
	if err != nil {
		return res, err
	}
	if len(pending) > 0 {
		im.log.Info("Resuming unfinished chunks",
			zap.String("collection", collection.Name),
			zap.Int("pending", len(pending)),
		)
		n, err := im.vectorize(ctx, pending)
		if err != nil {
			return res, err
		}
		res.vectorsCreated += n
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read file: %w", err)
	}
	content, encodingName, err := DecodeText(raw)
	if err != nil {
		return res, err
	}
	im.log.Debug("File decoded",
		zap.String("file", path),
		zap.String("encoding", encodingName),
	)

	chunks := SplitText(content)
	if len(chunks) == 0 {
		return res, nil
	}

	rows := make([]models.Data, len(chunks))
	totalTokens := 0
	now := time.Now()
	for i, chunk := range chunks {
		tok := im.tokens(chunk)
		totalTokens += tok
		rows[i] = models.Data{
			ID:           im.ids.DataID(),
			CollectionID: collection.ID,
			Content:      chunk,
			Title:        fmt.Sprintf("第%d段", i+1),
			VectorIDs:    []string{},
			Metadata: map[string]interface{}{
				"source":      filepath.Base(path),
				"chunk_index": i,
				"char_count":  len(chunk),
			},
			Sequence:  i,
			Tokens:    tok,
			Processed: false,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	// Chunks are durable before any embedding so a crash mid-vectorize
	// leaves a resumable trail.
	if err := im.meta.InsertDataBatch(ctx, rows); err != nil {
		return res, err
	}
	ometrics.IngestChunksTotal.Add(float64(len(rows)))
	res.dataCreated = len(rows)

	n, err := im.vectorize(ctx, rows)
	if err != nil {
		return res, err
	}
	res.vectorsCreated += n

	if err := im.meta.AddCollectionCounts(ctx, collection.ID, len(rows), totalTokens); err != nil {
		return res, err
	}
	newCollections := 0
	if created {
		newCollections = 1
	}
	if err := im.meta.AddDatasetCounts(ctx, datasetID, newCollections, len(rows), totalTokens); err != nil {
		return res, err
	}
	return res, nil
}

// vectorize embeds rows in batches, upserts the vectors, and flips each
// row to processed. A batch failure stops the run; finished batches stay
// durable.
func (im *Importer) vectorize(ctx context.Context, rows []models.Data) (int, error) {
	total := 0
	for i := 0; i < len(rows); i += im.cfg.BatchSize {
		end := i + im.cfg.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[i:end]

		points := make([]vectordb.Point, 0, len(batch)*2)
		perRow := make([][]string, len(batch))
		for j, row := range batch {
			vecs, ids, err := im.embedRow(ctx, row)
			if err != nil {
				return total, fmt.Errorf("embed chunk %s: %w", row.ID, err)
			}
			points = append(points, vecs...)
			perRow[j] = ids
		}

		if err := im.vectors.Upsert(ctx, points); err != nil {
			return total, fmt.Errorf("upsert batch: %w", err)
		}

		for j := range batch {
			row := batch[j]
			row.VectorIDs = perRow[j]
			row.Processed = true
			if row.Metadata == nil {
				row.Metadata = map[string]interface{}{}
			}
			row.Metadata["vector_count"] = len(perRow[j])
			if err := im.meta.UpdateData(ctx, row); err != nil {
				return total, err
			}
		}

		total += len(points)
		ometrics.IngestVectorsTotal.Add(float64(len(points)))
		im.log.Info("Vectorize batch done",
			zap.Int("batch_start", i),
			zap.Int("batch_size", len(batch)),
			zap.Int("vectors", len(points)),
		)
	}
	return total, nil
}

// embedRow produces the main vector and, for long content, a sub vector
// over the first subVectorChars characters.
func (im *Importer) embedRow(ctx context.Context, row models.Data) ([]vectordb.Point, []string, error) {
	texts := []string{row.Content}
	if runes := []rune(row.Content); len(runes) > subVectorChars {
		texts = append(texts, string(runes[:subVectorChars]))
	}

	points := make([]vectordb.Point, 0, len(texts))
	ids := make([]string, 0, len(texts))
	for _, text := range texts {
		if im.limiter != nil {
			if err := im.limiter.Wait(ctx); err != nil {
				return nil, nil, err
			}
		}
		vec, err := im.embed.Embed(ctx, text)
		if err != nil {
			return nil, nil, err
		}
		id := im.ids.VectorID()
		points = append(points, vectordb.NewPoint(id, row.ID, vec))
		ids = append(ids, id)
	}
	return points, ids, nil
}

func (im *Importer) getOrCreateDataset(ctx context.Context, name string) (models.Dataset, error) {
	dataset, err := im.meta.GetDatasetByName(ctx, name)
	if err == nil {
		return dataset, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Dataset{}, err
	}
	now := time.Now()
	dataset = models.Dataset{
		ID:          im.ids.DatasetID(),
		Name:        name,
		Description: fmt.Sprintf("自动创建的数据集: %s", name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := im.meta.CreateDataset(ctx, dataset); err != nil {
		return models.Dataset{}, err
	}
	im.log.Info("Dataset created",
		zap.String("name", name),
		zap.String("id", dataset.ID),
	)
	return dataset, nil
}

func (im *Importer) getOrCreateCollection(ctx context.Context, datasetID, name, sourceFile string) (models.Collection, bool, error) {
	collection, err := im.meta.GetCollectionByName(ctx, datasetID, name)
	if err == nil {
		return collection, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.Collection{}, false, err
	}
	now := time.Now()
	collection = models.Collection{
		ID:         im.ids.CollectionID(),
		DatasetID:  datasetID,
		Name:       name,
		SourceFile: sourceFile,
		FileType:   filepath.Ext(sourceFile),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := im.meta.CreateCollection(ctx, collection); err != nil {
		return models.Collection{}, false, err
	}
	im.log.Info("Collection created",
		zap.String("name", name),
		zap.String("id", collection.ID),
	)
	return collection, true, nil
}

// ImportStatus reports chunk processing progress for a dataset by name.
func (im *Importer) ImportStatus(ctx context.Context, datasetName string) (*Status, error) {
	dataset, err := im.meta.GetDatasetByName(ctx, datasetName)
	if err != nil {
		return nil, err
	}
	collections, err := im.meta.ListCollections(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		DatasetID:   dataset.ID,
		DatasetName: dataset.Name,
		Collections: len(collections),
	}
	for _, col := range collections {
		rows, err := im.meta.ListData(ctx, col.ID)
		if err != nil {
			return nil, err
		}
		st.TotalData += len(rows)
		for _, row := range rows {
			if row.Processed {
				st.ProcessedData++
			}
		}
	}
	st.PendingData = st.TotalData - st.ProcessedData
	if st.TotalData > 0 {
		st.Progress = fmt.Sprintf("%d/%d", st.ProcessedData, st.TotalData)
	} else {
		st.Progress = "0/0"
	}
	return st, nil
}

// VerifyCollection checks the post-ingest invariant: every chunk is
// processed and holds at least one vector reference.
func (im *Importer) VerifyCollection(ctx context.Context, collectionID string) error {
	rows, err := im.meta.ListData(ctx, collectionID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !row.Processed {
			return fmt.Errorf("ingest: chunk %s not processed", row.ID)
		}
		if len(row.VectorIDs) == 0 {
			return fmt.Errorf("ingest: chunk %s has no vectors", row.ID)
		}
	}
	return nil
}
