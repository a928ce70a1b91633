package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-composer/internal/engine"
	"github.com/garyjia/workflow-composer/internal/inference"
	"github.com/garyjia/workflow-composer/internal/models"
	"github.com/garyjia/workflow-composer/internal/schema"
	"github.com/garyjia/workflow-composer/internal/session"
	"github.com/garyjia/workflow-composer/internal/specstore"
	"github.com/garyjia/workflow-composer/internal/transcript"
)

type failingGateway struct{}

func (failingGateway) Complete(context.Context, string, string) (string, error) {
	return "", errors.New("gateway unavailable")
}

// scriptedGateway replays canned responses in call order, then fails
type scriptedGateway struct {
	responses []string
	calls     int
}

func (g *scriptedGateway) Complete(context.Context, string, string) (string, error) {
	g.calls++
	if g.calls > len(g.responses) {
		return "", errors.New("script exhausted")
	}
	return g.responses[g.calls-1], nil
}

func newTestRouter(t *testing.T, gateway inference.Gateway) (*gin.Engine, *specstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE sessions (
			thread_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE spec_versions (
			thread_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			document TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (thread_id, version)
		);
		CREATE TABLE chat_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`)
	require.NoError(t, err)

	logger := zap.NewNop()
	sessions := session.NewStore(db, logger)
	specs := specstore.NewStore(db, logger)
	transcripts := transcript.NewStore(db, logger)
	eng := engine.New(sessions, session.NewGuard(), specs, transcripts,
		inference.NewClient(gateway, logger), logger)

	router := gin.New()
	NewHandler(eng, specs, transcripts, logger).RegisterRoutes(router)
	return router, specs
}

func seedDocument(t *testing.T, specs *specstore.Store, threadID string, versions int) {
	t.Helper()

	spec := models.EnrichedSpec{
		Name: "Leave Request",
		Fields: []models.SpecField{
			{FieldName: "reason", Label: "Reason", Type: "text", Required: true},
		},
	}
	chain := []models.Approver{
		{Level: 1, Role: "Manager", RejectionBehavior: models.RejectionEndWorkflow, TimeoutHours: 48},
	}
	for v := 1; v <= versions; v++ {
		_, err := specs.Append(context.Background(), threadID, schema.Assemble(spec, chain, v))
		require.NoError(t, err)
	}
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateThread(t *testing.T) {
	router, _ := newTestRouter(t, failingGateway{})

	rec := doJSON(router, http.MethodPost, "/api/v1/threads", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["thread_id"])
}

func TestPostMessageRequiresText(t *testing.T) {
	router, _ := newTestRouter(t, failingGateway{})

	rec := doJSON(router, http.MethodPost, "/api/v1/threads/t1/messages", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageReturnsPendingQuestion(t *testing.T) {
	router, _ := newTestRouter(t, failingGateway{})

	rec := doJSON(router, http.MethodPost, "/api/v1/threads/t1/messages",
		map[string]string{"text": "Leave Request\nManager"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.PendingQuestion)
	assert.Contains(t, result.FinalMessage, "Question 1/1")
}

func TestPostMessageEmptyTextSkipsOptionalQuestion(t *testing.T) {
	router, specs := newTestRouter(t, &scriptedGateway{responses: []string{
		`{"questions": [{"id": "a", "text": "Any notification preferences?", "required": false}]}`,
	}})

	rec := doJSON(router, http.MethodPost, "/api/v1/threads/t1/messages",
		map[string]string{"text": "Leave Request\nManager"})
	require.Equal(t, http.StatusOK, rec.Code)

	var result engine.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.PendingQuestion)
	assert.Contains(t, result.FinalMessage, "optional")

	// the explicit empty message is a valid answer: it skips the question
	rec = doJSON(router, http.MethodPost, "/api/v1/threads/t1/messages",
		map[string]string{"text": ""})
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.PendingQuestion)
	assert.True(t, result.DocumentUpdated)

	_, err := specs.Latest(context.Background(), "t1")
	assert.NoError(t, err)
}

func TestGetDocumentNotFound(t *testing.T) {
	router, _ := newTestRouter(t, failingGateway{})

	rec := doJSON(router, http.MethodGet, "/api/v1/threads/t1/document", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetDocument(t *testing.T) {
	router, specs := newTestRouter(t, failingGateway{})
	seedDocument(t, specs, "t1", 1)

	rec := doJSON(router, http.MethodGet, "/api/v1/threads/t1/document", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record models.VersionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, "Leave Request", record.Document.Metadata.Name)
}

func TestListVersions(t *testing.T) {
	router, specs := newTestRouter(t, failingGateway{})
	seedDocument(t, specs, "t1", 3)

	rec := doJSON(router, http.MethodGet, "/api/v1/threads/t1/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Versions []int `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{1, 2, 3}, resp.Versions)
}

func TestSelectVersion(t *testing.T) {
	router, specs := newTestRouter(t, failingGateway{})
	seedDocument(t, specs, "t1", 3)

	rec := doJSON(router, http.MethodPost, "/api/v1/threads/t1/versions/2/select", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/threads/t1/versions", nil)
	var resp struct {
		Versions []int `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []int{1, 2}, resp.Versions)
}

func TestSelectVersionValidation(t *testing.T) {
	router, specs := newTestRouter(t, failingGateway{})
	seedDocument(t, specs, "t1", 1)

	rec := doJSON(router, http.MethodPost, "/api/v1/threads/t1/versions/zero/select", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(router, http.MethodPost, "/api/v1/threads/t1/versions/9/select", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportFlow(t *testing.T) {
	router, specs := newTestRouter(t, failingGateway{})
	seedDocument(t, specs, "t1", 1)

	rec := doJSON(router, http.MethodGet, "/api/v1/threads/t1/export/flow", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var flow map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flow))
	assert.Contains(t, flow, "properties")
}

func TestTranscript(t *testing.T) {
	router, _ := newTestRouter(t, failingGateway{})

	rec := doJSON(router, http.MethodPost, "/api/v1/threads/t1/messages",
		map[string]string{"text": "Leave Request\nManager"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(router, http.MethodGet, "/api/v1/threads/t1/transcript", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Messages []transcript.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, transcript.SenderUser, resp.Messages[0].Sender)
	assert.Equal(t, transcript.SenderSystem, resp.Messages[1].Sender)
}
