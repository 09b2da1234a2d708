package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"arcane-scribe/internal/database"
	"arcane-scribe/internal/queue"
	"arcane-scribe/internal/rag"
	"arcane-scribe/internal/storage"
	"arcane-scribe/middleware"
	"arcane-scribe/models"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *recordingQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: queue.QueueCritical}, nil
}

type recordingIndices struct{ invalidated []string }

func (r *recordingIndices) Invalidate(ownerID, collectionID string) bool {
	r.invalidated = append(r.invalidated, models.TenantKey(ownerID, collectionID))
	return true
}

type stubQuerier struct {
	resp *models.QueryResponse
	err  error
	got  models.QueryRequest
}

func (s *stubQuerier) Query(ctx context.Context, ownerID, collectionID string, req models.QueryRequest) (*models.QueryResponse, error) {
	s.got = req
	return s.resp, s.err
}

type fixture struct {
	deps    *Deps
	queue   *recordingQueue
	indices *recordingIndices
	querier *stubQuerier
	router  *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	objects, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		queue:   &recordingQueue{},
		indices: &recordingIndices{},
		querier: &stubQuerier{},
	}
	f.deps = &Deps{
		Docs:        database.NewMemoryDocumentStore(),
		Objects:     objects,
		Queue:       f.queue,
		Indices:     f.indices,
		Querier:     f.querier,
		MaxFileSize: 1 << 20,
		RetrievalK:  4,
	}

	f.router = gin.New()
	api := f.router.Group("/api/v1", func(c *gin.Context) { middleware.SetOwnerID(c, "u1") })
	RegisterDocumentRoutes(api, f.deps)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, filename, contentType, body string) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/srd/srd1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (f *fixture) upload(t *testing.T, filename string) models.UploadResponse {
	w := f.do(uploadRequest(t, filename, "application/octet-stream", "--- PAGE 1 ---\nfireball"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUploadRegistersAndEnqueues(t *testing.T) {
	f := newFixture(t)
	resp := f.upload(t, "spells.md")

	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Equal(t, "task-1", resp.TaskID)
	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, queue.TaskIndexDocument, f.queue.tasks[0].Type())

	var payload queue.IndexDocumentPayload
	require.NoError(t, json.Unmarshal(f.queue.tasks[0].Payload(), &payload))
	assert.Equal(t, queue.IndexDocumentPayload{OwnerID: "u1", CollectionID: "srd1", DocumentID: resp.DocumentID}, payload)

	doc, err := f.deps.Docs.Get(context.Background(), "u1#srd1", resp.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeMarkdown, doc.ContentType)
	assert.Equal(t, "u1/srd1/"+resp.DocumentID+"/spells.md", doc.StorageKey)

	data, err := f.deps.Objects.Get(context.Background(), doc.StorageKey)
	require.NoError(t, err)
	assert.Contains(t, string(data), "fireball")
}

func TestUploadRejectsUnsupportedTypes(t *testing.T) {
	f := newFixture(t)
	w := f.do(uploadRequest(t, "image.png", "image/png", "png"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.queue.tasks)
}

func TestUploadEnqueueFailureMarksDocumentFailed(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("redis down")

	w := f.do(uploadRequest(t, "rules.txt", "", "text"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	docs, err := f.deps.Docs.Query(context.Background(), "u1#srd1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].ProcessingStatus)
}

func TestDetectContentType(t *testing.T) {
	ct, ok := detectContentType("a.PDF", "application/octet-stream")
	assert.True(t, ok)
	assert.Equal(t, models.ContentTypePDF, ct)

	ct, ok = detectContentType("notes", "text/plain; charset=utf-8")
	assert.True(t, ok)
	assert.Equal(t, models.ContentTypeText, ct)

	_, ok = detectContentType("a.docx", "")
	assert.False(t, ok)
}

func TestListGetAndDeleteDocument(t *testing.T) {
	f := newFixture(t)
	first := f.upload(t, "a.txt")
	f.upload(t, "b.txt")

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/srd/srd1/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []models.Document `json:"documents"`
		Count     int               `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/srd/srd1/documents/"+first.DocumentID, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/srd/other/documents/"+first.DocumentID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(httptest.NewRequest(http.MethodDelete, "/api/v1/srd/srd1/documents/"+first.DocumentID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u1#srd1"}, f.indices.invalidated)

	keys, err := f.deps.Objects.List(context.Background(), "u1/srd1/"+first.DocumentID+"/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	w = f.do(httptest.NewRequest(http.MethodGet, "/api/v1/srd/srd1/documents/"+first.DocumentID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteCollection(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.txt")
	f.upload(t, "b.txt")

	w := f.do(httptest.NewRequest(http.MethodDelete, "/api/v1/srd/srd1/documents", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["documents_deleted"])
	assert.EqualValues(t, 2, body["objects_deleted"])
	assert.Equal(t, []string{"u1#srd1"}, f.indices.invalidated)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.txt")

	w := f.do(httptest.NewRequest(http.MethodGet, "/api/v1/srd/srd1/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "srd1_")
	assert.NotEmpty(t, w.Body.Bytes())
}

func queryRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/srd/srd1/query", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestQueryReturnsAnswer(t *testing.T) {
	f := newFixture(t)
	f.querier.resp = &models.QueryResponse{Answer: "Fireball deals 8d6.", Source: models.SourceGenerative}

	w := f.do(queryRequest(`{"query_text":"  fireball damage? ","invoke_generative_llm":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fireball damage?", f.querier.got.QueryText)
	assert.Equal(t, 4, f.querier.got.NumberOfDocuments)

	var resp models.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Fireball deals 8d6.", resp.Answer)
}

func TestQueryRejectsInvalidParameters(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{
		`{"query_text":"   "}`,
		`{"query_text":"x","number_of_documents":-1}`,
		`{"query_text":"x","generation_config":{"temperature":2}}`,
		`not json`,
	} {
		w := f.do(queryRequest(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestQueryErrorStatus(t *testing.T) {
	cases := map[rag.Kind]int{
		rag.KindNotFound:           http.StatusNotFound,
		rag.KindInvalidRequest:     http.StatusBadRequest,
		rag.KindUpstream:           http.StatusBadGateway,
		rag.KindConfig:             http.StatusServiceUnavailable,
		rag.KindRetrieval:          http.StatusServiceUnavailable,
		rag.KindComponentsNotReady: http.StatusServiceUnavailable,
		rag.KindInternal:           http.StatusInternalServerError,
	}
	for kind, status := range cases {
		f := newFixture(t)
		f.querier.err = &rag.Error{Kind: kind, Message: "boom"}
		w := f.do(queryRequest(`{"query_text":"x"}`))
		assert.Equal(t, status, w.Code, kind.String())
		assert.Contains(t, w.Body.String(), "boom")
	}
}
