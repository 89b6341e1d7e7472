package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/echointellect/rag/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateID is returned on primary key collisions. Ingestion treats
	// it as fatal for the run.
	ErrDuplicateID = errors.New("store: duplicate id")
)

// jsonbMap maps a JSONB column to a Go map.
type jsonbMap map[string]interface{}

func (m *jsonbMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonb scan: unsupported type %T", src)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

func (m jsonbMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

type datasetRow struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	CollectionCount int       `db:"collection_count"`
	DataCount       int       `db:"data_count"`
	TotalTokens     int       `db:"total_tokens"`
	Metadata        jsonbMap  `db:"metadata"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r datasetRow) toModel() models.Dataset {
	return models.Dataset{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		CollectionCount: r.CollectionCount,
		DataCount:       r.DataCount,
		TotalTokens:     r.TotalTokens,
		Metadata:        r.Metadata,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type collectionRow struct {
	ID          string    `db:"id"`
	DatasetID   string    `db:"dataset_id"`
	Name        string    `db:"name"`
	SourceFile  string    `db:"source_file"`
	FileType    string    `db:"file_type"`
	DataCount   int       `db:"data_count"`
	TotalTokens int       `db:"total_tokens"`
	Metadata    jsonbMap  `db:"metadata"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r collectionRow) toModel() models.Collection {
	return models.Collection{
		ID:          r.ID,
		DatasetID:   r.DatasetID,
		Name:        r.Name,
		SourceFile:  r.SourceFile,
		FileType:    r.FileType,
		DataCount:   r.DataCount,
		TotalTokens: r.TotalTokens,
		Metadata:    r.Metadata,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type dataRow struct {
	ID           string         `db:"id"`
	CollectionID string         `db:"collection_id"`
	Content      string         `db:"content"`
	Title        string         `db:"title"`
	VectorIDs    pq.StringArray `db:"vector_ids"`
	Metadata     jsonbMap       `db:"metadata"`
	Sequence     int            `db:"sequence"`
	Tokens       int            `db:"tokens"`
	Processed    bool           `db:"processed"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r dataRow) toModel() models.Data {
	return models.Data{
		ID:           r.ID,
		CollectionID: r.CollectionID,
		Content:      r.Content,
		Title:        r.Title,
		VectorIDs:    []string(r.VectorIDs),
		Metadata:     r.Metadata,
		Sequence:     r.Sequence,
		Tokens:       r.Tokens,
		Processed:    r.Processed,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

const dataColumns = `id, collection_id, content, title, vector_ids, metadata, sequence, tokens, processed, created_at, updated_at`

// ScoredData is a chunk with a lexical relevance score attached.
type ScoredData struct {
	Data  models.Data
	Score float64
}

func wrapWriteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, ErrDuplicateID)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Datasets ---

// CreateDataset inserts a dataset row.
func (c *Client) CreateDataset(ctx context.Context, d models.Dataset) error {
	_, err := c.cb.ExecContext(ctx,
		`INSERT INTO datasets (id, name, description, collection_count, data_count, total_tokens, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.Name, d.Description, d.CollectionCount, d.DataCount, d.TotalTokens,
		jsonbMap(d.Metadata), d.CreatedAt, d.UpdatedAt)
	return wrapWriteErr("create dataset", err)
}

// GetDataset fetches a dataset by id.
func (c *Client) GetDataset(ctx context.Context, id string) (models.Dataset, error) {
	var row datasetRow
	err := c.db.GetContext(ctx, &row, `SELECT * FROM datasets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Dataset{}, ErrNotFound
	}
	if err != nil {
		return models.Dataset{}, fmt.Errorf("get dataset: %w", err)
	}
	return row.toModel(), nil
}

// GetDatasetByName fetches a dataset by its unique name.
func (c *Client) GetDatasetByName(ctx context.Context, name string) (models.Dataset, error) {
	var row datasetRow
	err := c.db.GetContext(ctx, &row, `SELECT * FROM datasets WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Dataset{}, ErrNotFound
	}
	if err != nil {
		return models.Dataset{}, fmt.Errorf("get dataset by name: %w", err)
	}
	return row.toModel(), nil
}

// AddDatasetCounts bumps aggregate counters on a dataset.
func (c *Client) AddDatasetCounts(ctx context.Context, id string, collections, data, tokens int) error {
	_, err := c.cb.ExecContext(ctx,
		`UPDATE datasets SET collection_count = collection_count + $2,
		        data_count = data_count + $3,
		        total_tokens = total_tokens + $4,
		        updated_at = now()
		 WHERE id = $1`,
		id, collections, data, tokens)
	return wrapWriteErr("add dataset counts", err)
}

// --- Collections ---

// CreateCollection inserts a collection row.
func (c *Client) CreateCollection(ctx context.Context, col models.Collection) error {
	_, err := c.cb.ExecContext(ctx,
		`INSERT INTO collections (id, dataset_id, name, source_file, file_type, data_count, total_tokens, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		col.ID, col.DatasetID, col.Name, col.SourceFile, col.FileType, col.DataCount,
		col.TotalTokens, jsonbMap(col.Metadata), col.CreatedAt, col.UpdatedAt)
	return wrapWriteErr("create collection", err)
}

// GetCollectionByName fetches a collection by dataset and name.
func (c *Client) GetCollectionByName(ctx context.Context, datasetID, name string) (models.Collection, error) {
	var row collectionRow
	err := c.db.GetContext(ctx, &row,
		`SELECT * FROM collections WHERE dataset_id = $1 AND name = $2`, datasetID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Collection{}, ErrNotFound
	}
	if err != nil {
		return models.Collection{}, fmt.Errorf("get collection by name: %w", err)
	}
	return row.toModel(), nil
}

// ListCollections returns all collections of a dataset.
func (c *Client) ListCollections(ctx context.Context, datasetID string) ([]models.Collection, error) {
	var rows []collectionRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT * FROM collections WHERE dataset_id = $1 ORDER BY created_at`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	out := make([]models.Collection, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// AddCollectionCounts bumps aggregate counters on a collection.
func (c *Client) AddCollectionCounts(ctx context.Context, id string, data, tokens int) error {
	_, err := c.cb.ExecContext(ctx,
		`UPDATE collections SET data_count = data_count + $2,
		        total_tokens = total_tokens + $3,
		        updated_at = now()
		 WHERE id = $1`,
		id, data, tokens)
	return wrapWriteErr("add collection counts", err)
}

// --- Data ---

// InsertDataBatch persists chunks in one transaction. Any duplicate id
// aborts the whole batch.
func (c *Client) InsertDataBatch(ctx context.Context, batch []models.Data) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := c.cb.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert data batch: %w", err)
	}
	for _, d := range batch {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO data (id, collection_id, content, title, vector_ids, metadata, sequence, tokens, processed, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			d.ID, d.CollectionID, d.Content, d.Title, pq.StringArray(d.VectorIDs),
			jsonbMap(d.Metadata), d.Sequence, d.Tokens, d.Processed, d.CreatedAt, d.UpdatedAt)
		if err != nil {
			_ = tx.Rollback()
			return wrapWriteErr("insert data batch", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert data batch commit: %w", err)
	}
	return nil
}

// UpdateData replaces a chunk row by id.
func (c *Client) UpdateData(ctx context.Context, d models.Data) error {
	res, err := c.cb.ExecContext(ctx,
		`UPDATE data SET collection_id = $2, content = $3, title = $4, vector_ids = $5,
		        metadata = $6, sequence = $7, tokens = $8, processed = $9, updated_at = now()
		 WHERE id = $1`,
		d.ID, d.CollectionID, d.Content, d.Title, pq.StringArray(d.VectorIDs),
		jsonbMap(d.Metadata), d.Sequence, d.Tokens, d.Processed)
	if err != nil {
		return wrapWriteErr("update data", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update data %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

// GetData fetches a chunk by id.
func (c *Client) GetData(ctx context.Context, id string) (models.Data, error) {
	var row dataRow
	err := c.db.GetContext(ctx, &row,
		`SELECT `+dataColumns+` FROM data WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Data{}, ErrNotFound
	}
	if err != nil {
		return models.Data{}, fmt.Errorf("get data: %w", err)
	}
	return row.toModel(), nil
}

// DataByVectorIDs returns chunks whose vector_ids overlap the given set.
func (c *Client) DataByVectorIDs(ctx context.Context, vectorIDs []string) ([]models.Data, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}
	var rows []dataRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT `+dataColumns+` FROM data WHERE vector_ids && $1`, pq.StringArray(vectorIDs))
	if err != nil {
		return nil, fmt.Errorf("data by vector ids: %w", err)
	}
	out := make([]models.Data, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// PendingData returns unprocessed chunks of a collection in sequence order.
// Ingestion resumes from these after a crash.
func (c *Client) PendingData(ctx context.Context, collectionID string) ([]models.Data, error) {
	var rows []dataRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT `+dataColumns+` FROM data WHERE collection_id = $1 AND NOT processed ORDER BY sequence`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("pending data: %w", err)
	}
	out := make([]models.Data, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// CountPending counts unprocessed chunks, optionally scoped to a collection.
func (c *Client) CountPending(ctx context.Context, collectionID string) (int, error) {
	var n int
	var err error
	if collectionID == "" {
		err = c.db.GetContext(ctx, &n, `SELECT count(*) FROM data WHERE NOT processed`)
	} else {
		err = c.db.GetContext(ctx, &n,
			`SELECT count(*) FROM data WHERE collection_id = $1 AND NOT processed`, collectionID)
	}
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// ListData returns all chunks of a collection in sequence order.
func (c *Client) ListData(ctx context.Context, collectionID string) ([]models.Data, error) {
	var rows []dataRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT `+dataColumns+` FROM data WHERE collection_id = $1 ORDER BY sequence`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list data: %w", err)
	}
	out := make([]models.Data, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// SearchData runs a full-text search over chunk content and returns chunks
// ranked by ts_rank. The rank plays the role of a BM25-like score.
func (c *Client) SearchData(ctx context.Context, query string, limit int) ([]ScoredData, error) {
	if limit <= 0 {
		limit = 10
	}
	type scoredRow struct {
		dataRow
		Score float64 `db:"score"`
	}
	var rows []scoredRow
	err := c.db.SelectContext(ctx, &rows,
		`SELECT `+dataColumns+`,
		        ts_rank(content_tsv, plainto_tsquery('simple', $1)) AS score
		 FROM data
		 WHERE content_tsv @@ plainto_tsquery('simple', $1)
		 ORDER BY score DESC
		 LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("search data: %w", err)
	}
	out := make([]ScoredData, len(rows))
	for i, r := range rows {
		out[i] = ScoredData{Data: r.dataRow.toModel(), Score: r.Score}
	}
	return out, nil
}
