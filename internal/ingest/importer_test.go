package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/echointellect/rag/internal/models"
	"github.com/echointellect/rag/internal/store"
	"github.com/echointellect/rag/internal/vectordb"
)

type memStore struct {
	mu          sync.Mutex
	datasets    map[string]models.Dataset
	collections map[string]models.Collection
	data        map[string]models.Data
	insertErr   error
}

func newMemStore() *memStore {
	return &memStore{
		datasets:    make(map[string]models.Dataset),
		collections: make(map[string]models.Collection),
		data:        make(map[string]models.Data),
	}
}

func (m *memStore) GetDatasetByName(ctx context.Context, name string) (models.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.datasets {
		if d.Name == name {
			return d, nil
		}
	}
	return models.Dataset{}, store.ErrNotFound
}

func (m *memStore) CreateDataset(ctx context.Context, d models.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[d.ID]; ok {
		return store.ErrDuplicateID
	}
	m.datasets[d.ID] = d
	return nil
}

func (m *memStore) GetCollectionByName(ctx context.Context, datasetID, name string) (models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.collections {
		if c.DatasetID == datasetID && c.Name == name {
			return c, nil
		}
	}
	return models.Collection{}, store.ErrNotFound
}

func (m *memStore) CreateCollection(ctx context.Context, col models.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[col.ID]; ok {
		return store.ErrDuplicateID
	}
	m.collections[col.ID] = col
	return nil
}

func (m *memStore) ListCollections(ctx context.Context, datasetID string) ([]models.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Collection
	for _, c := range m.collections {
		if c.DatasetID == datasetID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) InsertDataBatch(ctx context.Context, batch []models.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, d := range batch {
		if _, ok := m.data[d.ID]; ok {
			return store.ErrDuplicateID
		}
	}
	for _, d := range batch {
		m.data[d.ID] = d
	}
	return nil
}

func (m *memStore) UpdateData(ctx context.Context, d models.Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[d.ID]; !ok {
		return store.ErrNotFound
	}
	m.data[d.ID] = d
	return nil
}

func (m *memStore) PendingData(ctx context.Context, collectionID string) ([]models.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Data
	for _, d := range m.data {
		if d.CollectionID == collectionID && !d.Processed {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) CountPending(ctx context.Context, collectionID string) (int, error) {
	pending, _ := m.PendingData(ctx, collectionID)
	return len(pending), nil
}

func (m *memStore) ListData(ctx context.Context, collectionID string) ([]models.Data, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Data
	for _, d := range m.data {
		if d.CollectionID == collectionID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) AddDatasetCounts(ctx context.Context, id string, collections, data, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.datasets[id]
	d.CollectionCount += collections
	d.DataCount += data
	d.TotalTokens += tokens
	m.datasets[id] = d
	return nil
}

func (m *memStore) AddCollectionCounts(ctx context.Context, id string, data, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collections[id]
	c.DataCount += data
	c.TotalTokens += tokens
	m.collections[id] = c
	return nil
}

type memEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *memEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 0.5, 0.25}, nil
}

type memVectorStore struct {
	mu     sync.Mutex
	points []vectordb.Point
}

func (v *memVectorStore) Upsert(ctx context.Context, points []vectordb.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.points = append(v.points, points...)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newImporter(t *testing.T, meta MetadataStore, vectors VectorStore, embed Embedder) *Importer {
	t.Helper()
	return NewImporter(meta, vectors, embed, nil, Config{}, zaptest.NewLogger(t))
}

func TestImportDirectorySingleFile(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("a", 1100) + "\n\n" + strings.Repeat("b", 1098)
	writeFile(t, dir, "notes.txt", content)

	meta := newMemStore()
	vecs := &memVectorStore{}
	im := newImporter(t, meta, vecs, &memEmbedder{})

	res, err := im.ImportDirectory(context.Background(), dir, "知识库")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.FilesProcessed)
	assert.Equal(t, 3, res.DataCreated)
	// Each chunk over 512 chars gets a main and a sub vector; the short
	// tail chunk gets only the main vector.
	assert.Equal(t, 5, res.VectorsCreated)
	assert.Len(t, vecs.points, 5)

	ds, err := meta.GetDatasetByName(context.Background(), "知识库")
	require.NoError(t, err)
	assert.Equal(t, "1", ds.ID[:1])
	assert.Equal(t, 1, ds.CollectionCount)
	assert.Equal(t, 3, ds.DataCount)

	col, err := meta.GetCollectionByName(context.Background(), ds.ID, "notes")
	require.NoError(t, err)
	require.NoError(t, im.VerifyCollection(context.Background(), col.ID))

	rows, err := meta.ListData(context.Background(), col.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.True(t, row.Processed)
		assert.NotEmpty(t, row.VectorIDs)
		assert.Greater(t, row.Tokens, 0)
	}
}

func TestImportDirectoryNoFiles(t *testing.T) {
	im := newImporter(t, newMemStore(), &memVectorStore{}, &memEmbedder{})
	_, err := im.ImportDirectory(context.Background(), t.TempDir(), "empty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .txt files")
}

func TestImportResumesPendingChunks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.txt", strings.Repeat("c", 600))

	meta := newMemStore()
	im := newImporter(t, meta, &memVectorStore{}, &memEmbedder{})
	ctx := context.Background()

	// First run creates the dataset, the collection, and one chunk.
	_, err := im.ImportDirectory(ctx, dir, "resume")
	require.NoError(t, err)

	// Simulate a crash mid-embedding: reset one row to unprocessed.
	ds, _ := meta.GetDatasetByName(ctx, "resume")
	col, _ := meta.GetCollectionByName(ctx, ds.ID, "doc")
	rows, _ := meta.ListData(ctx, col.ID)
	require.Len(t, rows, 1)
	stale := rows[0]
	stale.Processed = false
	stale.VectorIDs = nil
	require.NoError(t, meta.UpdateData(ctx, stale))

	res, err := im.ImportDirectory(ctx, dir, "resume")
	require.NoError(t, err)
	// The pending chunk was re-embedded before the file's fresh chunks.
	assert.GreaterOrEqual(t, res.VectorsCreated, 1)

	reloaded, _ := meta.ListData(ctx, col.ID)
	for _, row := range reloaded {
		if row.ID == stale.ID {
			assert.True(t, row.Processed)
			assert.NotEmpty(t, row.VectorIDs)
		}
	}
}

func TestImportAbortsOnDuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dup.txt", strings.Repeat("d", 900))

	meta := newMemStore()
	meta.insertErr = store.ErrDuplicateID
	im := newImporter(t, meta, &memVectorStore{}, &memEmbedder{})

	_, err := im.ImportDirectory(context.Background(), dir, "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateID)
}

func TestImportRecordsDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binary.txt"), []byte{0xff, 0xff, 0xff}, 0o644))
	writeFile(t, dir, "clean.txt", strings.Repeat("e", 500))

	meta := newMemStore()
	im := newImporter(t, meta, &memVectorStore{}, &memEmbedder{})

	res, err := im.ImportDirectory(context.Background(), dir, "mixed")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.FilesProcessed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "binary.txt")
}

func TestSubVectorBoundary(t *testing.T) {
	meta := newMemStore()
	embed := &memEmbedder{}
	im := newImporter(t, meta, &memVectorStore{}, embed)
	ctx := context.Background()

	exactly := models.Data{ID: "d1", Content: strings.Repeat("字", subVectorChars)}
	points, ids, err := im.embedRow(ctx, exactly)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Len(t, ids, 1)

	longer := models.Data{ID: "d2", Content: strings.Repeat("字", subVectorChars+1)}
	points, ids, err = im.embedRow(ctx, longer)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Len(t, ids, 2)
	assert.Equal(t, "d2", points[0].Payload["data_id"])
	assert.Equal(t, "d2", points[1].Payload["data_id"])
}

func TestImportStatusProgress(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "s.txt", strings.Repeat("f", 700))

	meta := newMemStore()
	im := newImporter(t, meta, &memVectorStore{}, &memEmbedder{})
	ctx := context.Background()

	_, err := im.ImportDirectory(ctx, dir, "status")
	require.NoError(t, err)

	st, err := im.ImportStatus(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Collections)
	assert.Equal(t, 1, st.TotalData)
	assert.Equal(t, 1, st.ProcessedData)
	assert.Equal(t, 0, st.PendingData)
	assert.Equal(t, "1/1", st.Progress)
}
