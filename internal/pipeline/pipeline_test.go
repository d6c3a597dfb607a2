package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cin-dennis/ocr-engine/internal/blob"
	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
	"github.com/cin-dennis/ocr-engine/internal/split"
	"github.com/cin-dennis/ocr-engine/internal/storage"
)

const (
	testDocBucket    = "test-documents"
	testResultBucket = "test-results"
)

// stubClient is a scriptable inference collaborator. When fn is set it
// decides the outcome per filename, otherwise text/err apply uniformly.
type stubClient struct {
	mu    sync.Mutex
	text  string
	err   error
	fn    func(filename string) (string, error)
	calls atomic.Int32
}

func (c *stubClient) Submit(ctx context.Context, image []byte, filename string) (string, error) {
	c.calls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fn != nil {
		return c.fn(filename)
	}
	if c.err != nil {
		return "", c.err
	}
	return c.text, nil
}

type pipelineFixture struct {
	orch   *Orchestrator
	store  *storage.Store
	blobs  *blob.MemoryStore
	client *stubClient
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	db, err := storage.Open("sqlite", ":memory:", storage.OpenOptions{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db))

	store := storage.NewStore(db)
	blobs := blob.NewMemoryStore()
	client := &stubClient{text: "Hello"}

	splitter := split.NewSplitter(split.Options{MaxPages: 500, JPEGQuality: 85}, observability.Nop())
	orch := NewOrchestrator(store, blobs, splitter, client, Options{
		DocumentBucket:     testDocBucket,
		ResultBucket:       testResultBucket,
		MaxConcurrentPages: 4,
	}, observability.Nop())

	return &pipelineFixture{orch: orch, store: store, blobs: blobs, client: client}
}

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

// encodeTestPDF builds a minimal n-page document by hand so the fixture
// does not depend on binary assets checked into the tree.
func encodeTestPDF(t *testing.T, pages int) []byte {
	t.Helper()

	objects := []string{"<< /Type /Catalog /Pages 2 0 R >>"}
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] >>")
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, body := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return buf.Bytes()
}

// seedDocument stores document bytes and the matching metadata rows.
func (f *pipelineFixture) seedDocument(t *testing.T, data []byte, mediaType string) (*storage.Document, *storage.Task) {
	t.Helper()
	ctx := context.Background()

	doc := &storage.Document{
		Filename:   "input.png",
		StorageKey: uuid.NewString() + ".png",
		MediaType:  mediaType,
	}
	require.NoError(t, f.store.Repos().Documents.Create(ctx, doc))

	if data != nil {
		require.NoError(t, f.blobs.Put(ctx, testDocBucket, doc.StorageKey, data, mediaType))
	}

	task := &storage.Task{DocumentID: doc.ID}
	require.NoError(t, f.store.Repos().Tasks.Create(ctx, task))
	return doc, task
}

func (f *pipelineFixture) taskStatus(t *testing.T, taskID uuid.UUID) *storage.Task {
	t.Helper()

	task, err := f.store.Repos().Tasks.GetByID(context.Background(), taskID)
	require.NoError(t, err)
	return task
}

func TestProcessTask_SinglePageSuccess(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusCompleted, got.Status)
	assert.Nil(t, got.ErrorMessage)

	rows, err := f.store.Repos().PageResults.ListByTaskID(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].PageNumber)

	updatedDoc, err := f.store.Repos().Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, updatedDoc.TotalPages)
	assert.Equal(t, 1, *updatedDoc.TotalPages)

	payload, err := f.blobs.Get(ctx, testResultBucket, ResultKey(doc.ID, 1))
	require.NoError(t, err)

	var page domain.PageText
	require.NoError(t, json.Unmarshal(payload, &page))
	assert.Equal(t, 1, page.PageNumber)
	assert.Equal(t, "Hello", page.Text)

	assert.Equal(t, int32(1), f.client.calls.Load())
}

func TestProcessTask_InferenceFailureFailsTask(t *testing.T) {
	f := newPipelineFixture(t)
	f.client.err = domain.InferenceError("model unavailable", nil)
	ctx := context.Background()

	_, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "model unavailable")

	count, err := f.store.Repos().PageResults.CountByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.blobs.Keys(testResultBucket))
}

func TestProcessTask_MultiPagePDFCompletes(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPDF(t, 2), domain.MediaTypePDF)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusCompleted, got.Status)
	assert.Nil(t, got.ErrorMessage)

	rows, err := f.store.Repos().PageResults.ListByTaskID(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for i, row := range rows {
		assert.Equal(t, i+1, row.PageNumber)

		payload, err := f.blobs.Get(ctx, testResultBucket, row.ResultKey)
		require.NoError(t, err)

		var page domain.PageText
		require.NoError(t, json.Unmarshal(payload, &page))
		assert.Equal(t, i+1, page.PageNumber)
		assert.Equal(t, "Hello", page.Text)
	}

	updatedDoc, err := f.store.Repos().Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, updatedDoc.TotalPages)
	assert.Equal(t, 2, *updatedDoc.TotalPages)

	assert.Equal(t, int32(2), f.client.calls.Load())
}

func TestProcessTask_MultiPagePDFOneFailingPage(t *testing.T) {
	f := newPipelineFixture(t)
	f.client.fn = func(filename string) (string, error) {
		if strings.Contains(filename, "_page_2.") {
			return "", domain.InferenceError("model unavailable", nil)
		}
		return "ok", nil
	}
	ctx := context.Background()

	_, task := f.seedDocument(t, encodeTestPDF(t, 2), domain.MediaTypePDF)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "page 2")
	assert.Contains(t, *got.ErrorMessage, "model unavailable")

	count, err := f.store.Repos().PageResults.CountByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.blobs.Keys(testResultBucket))

	// One bad page must not cancel its sibling.
	assert.Equal(t, int32(2), f.client.calls.Load())
}

func TestProcessTask_ReleasesTaskLockOnTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, completed := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)
	_, failed := f.seedDocument(t, []byte("not a png"), domain.MediaTypePNG)

	require.NoError(t, f.orch.ProcessTask(ctx, completed.ID))
	require.NoError(t, f.orch.ProcessTask(ctx, failed.ID))
	f.orch.Wait()

	require.Equal(t, storage.TaskStatusCompleted, f.taskStatus(t, completed.ID).Status)
	require.Equal(t, storage.TaskStatusFailed, f.taskStatus(t, failed.ID).Status)

	f.orch.mu.Lock()
	held := len(f.orch.taskLocks)
	f.orch.mu.Unlock()
	assert.Zero(t, held)
}

func TestProcessTask_CorruptDocumentFailsWithoutDispatch(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, task := f.seedDocument(t, []byte("not a png"), domain.MediaTypePNG)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "decode")

	assert.Zero(t, f.client.calls.Load())
}

func TestProcessTask_MissingDocumentBytesFailsTask(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, task := f.seedDocument(t, nil, domain.MediaTypePNG)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "fetch")
}

func TestProcessTask_UnknownTaskIsNoOp(t *testing.T) {
	f := newPipelineFixture(t)

	require.NoError(t, f.orch.ProcessTask(context.Background(), uuid.New()))
	f.orch.Wait()

	assert.Zero(t, f.client.calls.Load())
}

func TestProcessTask_DuplicateDeliveryIsNoOp(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)

	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()
	require.Equal(t, storage.TaskStatusCompleted, f.taskStatus(t, task.ID).Status)

	// Redelivery of the same task id must not move the task or run
	// inference again.
	require.NoError(t, f.orch.ProcessTask(ctx, task.ID))
	f.orch.Wait()

	assert.Equal(t, storage.TaskStatusCompleted, f.taskStatus(t, task.ID).Status)
	assert.Equal(t, int32(1), f.client.calls.Load())

	count, err := f.store.Repos().PageResults.CountByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// transitionToProcessing moves a seeded task into the state finalize
// expects, mirroring what ProcessTask does before dispatch.
func (f *pipelineFixture) transitionToProcessing(t *testing.T, taskID uuid.UUID) {
	t.Helper()

	moved, err := f.store.Repos().Tasks.Transition(context.Background(), taskID,
		[]storage.TaskStatus{storage.TaskStatusPending}, storage.TaskStatusProcessing, nil)
	require.NoError(t, err)
	require.True(t, moved)
}

func TestFinalize_MultiPageSuccessSortsAndPersists(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)
	f.transitionToProcessing(t, task.ID)

	f.orch.finalize(ctx, task.ID, doc.ID, []PageOutcome{
		{PageNumber: 3, Text: "third"},
		{PageNumber: 1, Text: "first"},
		{PageNumber: 2, Text: "second"},
	})

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusCompleted, got.Status)

	rows, err := f.store.Repos().PageResults.ListByTaskID(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for i, row := range rows {
		assert.Equal(t, i+1, row.PageNumber)

		payload, err := f.blobs.Get(ctx, testResultBucket, row.ResultKey)
		require.NoError(t, err)

		var page domain.PageText
		require.NoError(t, json.Unmarshal(payload, &page))
		assert.Equal(t, i+1, page.PageNumber)
	}

	updatedDoc, err := f.store.Repos().Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, updatedDoc.TotalPages)
	assert.Equal(t, 3, *updatedDoc.TotalPages)
}

func TestFinalize_OneFailedPageFailsTaskWithZeroRows(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)
	f.transitionToProcessing(t, task.ID)

	f.orch.finalize(ctx, task.ID, doc.ID, []PageOutcome{
		{PageNumber: 1, Text: "ok"},
		{PageNumber: 2, Err: domain.NewPageError(2, domain.InferenceError("model unavailable", nil))},
		{PageNumber: 3, Text: "ok"},
	})

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "page 2")

	count, err := f.store.Repos().PageResults.CountByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.blobs.Keys(testResultBucket))
}

func TestFinalize_PageGapIsConsistencyFault(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)
	f.transitionToProcessing(t, task.ID)

	f.orch.finalize(ctx, task.ID, doc.ID, []PageOutcome{
		{PageNumber: 1, Text: "one"},
		{PageNumber: 3, Text: "three"},
	})

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "consistency")

	assert.Empty(t, f.blobs.Keys(testResultBucket))
}

func TestFinalize_DuplicatePageIsConsistencyFault(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)
	f.transitionToProcessing(t, task.ID)

	f.orch.finalize(ctx, task.ID, doc.ID, []PageOutcome{
		{PageNumber: 1, Text: "one"},
		{PageNumber: 1, Text: "one again"},
	})

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)
	assert.Empty(t, f.blobs.Keys(testResultBucket))
}

func TestFinalize_TerminalTaskIsNoOp(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	doc, task := f.seedDocument(t, encodeTestPNG(t), domain.MediaTypePNG)
	f.transitionToProcessing(t, task.ID)

	msg := "already failed"
	moved, err := f.store.Repos().Tasks.Transition(ctx, task.ID,
		[]storage.TaskStatus{storage.TaskStatusProcessing}, storage.TaskStatusFailed, &msg)
	require.NoError(t, err)
	require.True(t, moved)

	f.orch.finalize(ctx, task.ID, doc.ID, []PageOutcome{
		{PageNumber: 1, Text: "late result"},
	})

	got := f.taskStatus(t, task.ID)
	assert.Equal(t, storage.TaskStatusFailed, got.Status)

	count, err := f.store.Repos().PageResults.CountByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.blobs.Keys(testResultBucket))
}

func TestCollectFailures(t *testing.T) {
	assert.NoError(t, collectFailures([]PageOutcome{
		{PageNumber: 1, Text: "a"},
		{PageNumber: 2, Text: "b"},
	}))

	err := collectFailures([]PageOutcome{
		{PageNumber: 3, Err: domain.NewPageError(3, domain.InferenceError("late", nil))},
		{PageNumber: 1, Err: domain.NewPageError(1, domain.InferenceError("early", nil))},
		{PageNumber: 2, Text: "ok"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
	assert.Contains(t, err.Error(), "page 3")
}

func TestVerifyContiguous(t *testing.T) {
	tests := []struct {
		name  string
		pages []int
		ok    bool
	}{
		{"single page", []int{1}, true},
		{"contiguous run", []int{1, 2, 3}, true},
		{"starts past one", []int{2, 3}, false},
		{"gap in middle", []int{1, 3}, false},
		{"duplicate", []int{1, 1, 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcomes := make([]PageOutcome, len(tt.pages))
			for i, p := range tt.pages {
				outcomes[i] = PageOutcome{PageNumber: p, Text: fmt.Sprintf("p%d", p)}
			}

			err := verifyContiguous(outcomes)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, domain.IsType(err, domain.ErrorTypeConsistency))
			}
		})
	}
}

func TestPageWorker_TagsFailuresWithPage(t *testing.T) {
	client := &stubClient{err: domain.InferenceError("rejected", nil)}
	worker := NewPageWorker(client, observability.Nop())

	outcome := worker.Run(context.Background(), uuid.New(), domain.PageUnit{
		PageNumber: 5,
		Image:      []byte("img"),
		MediaType:  domain.MediaTypeJPEG,
	})

	require.Error(t, outcome.Err)
	assert.Equal(t, 5, outcome.PageNumber)

	var pageErr *domain.PageError
	require.ErrorAs(t, outcome.Err, &pageErr)
	assert.Equal(t, 5, pageErr.PageNumber)
	assert.True(t, domain.IsType(outcome.Err, domain.ErrorTypeInference))
}
