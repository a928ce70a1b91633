package engine

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-composer/internal/inference"
	"github.com/garyjia/workflow-composer/internal/models"
	"github.com/garyjia/workflow-composer/internal/schema"
	"github.com/garyjia/workflow-composer/internal/session"
	"github.com/garyjia/workflow-composer/internal/specstore"
	"github.com/garyjia/workflow-composer/internal/transcript"
)

// scriptedGateway replays canned responses in call order; once the script
// is exhausted every further call fails, exercising the fallbacks
type scriptedGateway struct {
	responses []string
	calls     int
}

func (g *scriptedGateway) Complete(_ context.Context, _, _ string) (string, error) {
	g.calls++
	if g.calls > len(g.responses) {
		return "", errors.New("script exhausted")
	}
	return g.responses[g.calls-1], nil
}

type testHarness struct {
	engine      *Engine
	sessions    *session.Store
	guard       *session.Guard
	specs       *specstore.Store
	transcripts *transcript.Store
}

func newTestHarness(t *testing.T, gateway inference.Gateway) *testHarness {
	t.Helper()

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
	h := &testHarness{
		sessions:    session.NewStore(db, logger),
		guard:       session.NewGuard(),
		specs:       specstore.NewStore(db, logger),
		transcripts: transcript.NewStore(db, logger),
	}
	h.engine = New(h.sessions, h.guard, h.specs, h.transcripts,
		inference.NewClient(gateway, logger), logger)
	return h
}

const questionBatch = `{"questions": [
	{"id": "a", "text": "What fields should the form collect?", "category": "form_fields", "required": true},
	{"id": "b", "text": "Who should be notified on completion?", "category": "notifications", "required": false}
]}`

const sufficientValidation = `{"sufficient": true, "missing": []}`

const enrichedSpec = `{
	"workflow_name": "Leave Request",
	"workflow_description": "Employees request leave",
	"data_to_collect": [
		{"field_name": "employee_name", "label": "Employee Name", "type": "text", "required": true},
		{"field_name": "leave_dates", "label": "Leave Dates", "type": "text", "required": true}
	]
}`

func TestGenerationPipeline(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{responses: []string{
		questionBatch,
		sufficientValidation,
		enrichedSpec,
	}})
	ctx := context.Background()

	// intake suspends at the first clarifying question
	result, err := h.engine.StartOrResume(ctx, "thread-1", "Leave Request\nManager to Director")
	require.NoError(t, err)
	assert.True(t, result.PendingQuestion)
	assert.Equal(t, "Question 1/2: What fields should the form collect?", result.FinalMessage)

	// first answer surfaces the second question, optional questions say so
	result, err = h.engine.StartOrResume(ctx, "thread-1", "name and dates")
	require.NoError(t, err)
	assert.True(t, result.PendingQuestion)
	assert.Contains(t, result.FinalMessage, "Question 2/2: Who should be notified on completion?")
	assert.Contains(t, result.FinalMessage, "optional")

	// final answer drives validation, enrichment, derivation and persistence
	result, err = h.engine.StartOrResume(ctx, "thread-1", "the requester")
	require.NoError(t, err)
	assert.False(t, result.PendingQuestion)
	assert.True(t, result.DocumentUpdated)
	assert.Contains(t, result.FinalMessage, "version 1")

	record, err := h.specs.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.Version)
	assert.Equal(t, "Leave Request", record.Document.Metadata.Name)

	chain := record.Document.ApprovalChain
	require.Len(t, chain, 2)
	assert.Equal(t, models.Approver{Level: 1, Role: "Manager", RejectionBehavior: models.RejectionEndWorkflow, TimeoutHours: 48}, chain[0])
	assert.Equal(t, "Director", chain[1].Role)

	// enriched fields plus identity/contact pairs per approver
	assert.Len(t, record.Document.FormSchema, 6)
	assert.Empty(t, schema.CheckInvariants(&record.Document))

	// session reached the terminal phase
	st, err := h.sessions.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseComplete, st.Phase)
	assert.Equal(t, map[string]string{"q1": "name and dates", "q2": "the requester"}, st.Answers)
}

func TestGenerationSurvivesUnparsableGateway(t *testing.T) {
	// no scripted responses at all: every call falls back
	h := newTestHarness(t, &scriptedGateway{})
	ctx := context.Background()

	result, err := h.engine.StartOrResume(ctx, "thread-1", "Leave Request\nManager to Director")
	require.NoError(t, err)
	assert.True(t, result.PendingQuestion)

	// one fallback question, then fail-open validation and fallback spec
	result, err = h.engine.StartOrResume(ctx, "thread-1", "name, email and reason")
	require.NoError(t, err)
	assert.False(t, result.PendingQuestion)
	assert.True(t, result.DocumentUpdated)

	record, err := h.specs.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 1, record.Version)

	names := make([]string, 0, len(record.Document.FormSchema))
	for _, f := range record.Document.FormSchema {
		names = append(names, f.FieldName)
	}
	assert.Contains(t, names, "submitter_name")
	assert.Contains(t, names, "manager_name")
}

func TestClarificationRoundCeiling(t *testing.T) {
	insufficient := `{"sufficient": false, "missing": ["everything"]}`
	h := newTestHarness(t, &scriptedGateway{responses: []string{
		`{"questions": [{"id": "a", "text": "Round one?", "required": true}]}`,
		insufficient,
		`{"questions": [{"id": "a", "text": "Round two?", "required": true}]}`,
		insufficient,
		`{"questions": [{"id": "a", "text": "Round three?", "required": true}]}`,
		insufficient,
		enrichedSpec,
	}})
	ctx := context.Background()

	result, err := h.engine.StartOrResume(ctx, "thread-1", "Leave Request\nManager")
	require.NoError(t, err)
	assert.Contains(t, result.FinalMessage, "Round one?")

	result, err = h.engine.StartOrResume(ctx, "thread-1", "answer one")
	require.NoError(t, err)
	assert.Contains(t, result.FinalMessage, "Round two?")

	result, err = h.engine.StartOrResume(ctx, "thread-1", "answer two")
	require.NoError(t, err)
	assert.Contains(t, result.FinalMessage, "Round three?")

	// third validation still says insufficient, but the ceiling forces
	// forward progress
	result, err = h.engine.StartOrResume(ctx, "thread-1", "answer three")
	require.NoError(t, err)
	assert.False(t, result.PendingQuestion)
	assert.True(t, result.DocumentUpdated)

	// ids were renumbered across rounds so no answer was overwritten
	st, err := h.sessions.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, st.QuestionHistory, 3)
	assert.Equal(t, map[string]string{
		"q1": "answer one",
		"q2": "answer two",
		"q3": "answer three",
	}, st.Answers)
}

func TestMidBatchResumeDoesNotRegenerate(t *testing.T) {
	gw := &scriptedGateway{responses: []string{`{"questions": [
		{"id": "a", "text": "First question?", "required": true},
		{"id": "b", "text": "Second question?", "required": true},
		{"id": "c", "text": "Third question?", "required": true}
	]}`}}
	h := newTestHarness(t, gw)
	ctx := context.Background()

	_, err := h.engine.StartOrResume(ctx, "thread-1", "Leave Request\nManager")
	require.NoError(t, err)

	_, err = h.engine.StartOrResume(ctx, "thread-1", "answer one")
	require.NoError(t, err)

	result, err := h.engine.StartOrResume(ctx, "thread-1", "answer two")
	require.NoError(t, err)
	assert.True(t, result.PendingQuestion)
	assert.Equal(t, "Question 3/3: Third question?", result.FinalMessage)

	// the stored batch was replayed, not regenerated
	assert.Equal(t, 1, gw.calls)
}

func TestThreadBusy(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{})

	require.NoError(t, h.guard.Acquire("thread-1"))
	defer h.guard.Release("thread-1")

	_, err := h.engine.StartOrResume(context.Background(), "thread-1", "Leave Request\nManager")
	assert.ErrorIs(t, err, session.ErrThreadBusy)
}

func seedDocument(t *testing.T, h *testHarness, threadID string) models.Document {
	t.Helper()

	spec := models.EnrichedSpec{
		Name:        "Leave Request",
		Description: "Employees request leave",
		Fields: []models.SpecField{
			{FieldName: "employee_name", Label: "Employee Name", Type: "text", Required: true},
		},
	}
	chain := []models.Approver{
		{Level: 1, Role: "Manager", RejectionBehavior: models.RejectionEndWorkflow, TimeoutHours: 48},
		{Level: 2, Role: "Director", RejectionBehavior: models.RejectionEndWorkflow, TimeoutHours: 48},
	}
	doc := schema.Assemble(spec, chain, 1)

	_, err := h.specs.Append(context.Background(), threadID, doc)
	require.NoError(t, err)
	return doc
}

func TestModificationPipeline(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{responses: []string{
		`{"modification_type": "approval_chain", "affected_components": ["approval_chain"],
		  "complexity": "simple", "requires_clarification": false, "summary": "Remove the manager."}`,
		`{"modifications": [
			{"component": "approval_chain", "action": "remove", "details": {"role": "Manager"}}
		]}`,
	}})
	ctx := context.Background()

	seedDocument(t, h, "thread-1")

	result, err := h.engine.StartOrResume(ctx, "thread-1", "remove the manager from the approval chain")
	require.NoError(t, err)
	assert.False(t, result.PendingQuestion)
	assert.True(t, result.DocumentUpdated)
	assert.Contains(t, result.FinalMessage, "version 2")
	assert.Contains(t, result.FinalMessage, "applied: remove approval_chain")
	assert.Empty(t, result.Warnings)

	record, err := h.specs.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)

	chain := record.Document.ApprovalChain
	require.Len(t, chain, 1)
	assert.Equal(t, 1, chain[0].Level)
	assert.Equal(t, "Director", chain[0].Role)

	for _, field := range record.Document.FormSchema {
		assert.NotEqual(t, "manager_name", field.FieldName)
		assert.NotEqual(t, "manager_email", field.FieldName)
	}
	assert.Empty(t, schema.CheckInvariants(&record.Document))
}

func TestModificationWithClarification(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{responses: []string{
		`{"modification_type": "approval_chain", "complexity": "moderate",
		  "requires_clarification": true, "summary": "Needs the new approver's position."}`,
		`{"questions": [{"id": "a", "text": "At which level should the VP approve?", "required": true}]}`,
		sufficientValidation,
		`{"modifications": [
			{"component": "approval_chain", "action": "add", "details": {"role": "VP", "level": 3}}
		]}`,
	}})
	ctx := context.Background()

	seedDocument(t, h, "thread-1")

	result, err := h.engine.StartOrResume(ctx, "thread-1", "add a VP to the chain")
	require.NoError(t, err)
	assert.True(t, result.PendingQuestion)
	assert.Contains(t, result.FinalMessage, "At which level should the VP approve?")

	result, err = h.engine.StartOrResume(ctx, "thread-1", "after the director")
	require.NoError(t, err)
	assert.False(t, result.PendingQuestion)
	assert.True(t, result.DocumentUpdated)

	record, err := h.specs.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)
	require.Len(t, record.Document.ApprovalChain, 3)
	assert.Equal(t, "VP", record.Document.ApprovalChain[2].Role)
}

func TestModificationWithFailedEdit(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{responses: []string{
		`{"modification_type": "approval_chain", "requires_clarification": false, "summary": ""}`,
		`{"modifications": [
			{"component": "approval_chain", "action": "remove", "details": {"role": "CFO"}},
			{"component": "form_schema", "action": "add", "details": {"field_name": "cost_center"}}
		]}`,
	}})
	ctx := context.Background()

	seedDocument(t, h, "thread-1")

	result, err := h.engine.StartOrResume(ctx, "thread-1", "remove the CFO and add a cost center field")
	require.NoError(t, err)
	assert.True(t, result.DocumentUpdated)
	assert.Contains(t, result.FinalMessage, "Edits applied: 1/2")
	assert.Contains(t, result.FinalMessage, "failed: remove approval_chain")

	// a new version is committed even though one edit failed
	record, err := h.specs.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)
}

func TestSelectVersion(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{})
	ctx := context.Background()

	doc := seedDocument(t, h, "thread-1")
	for v := 2; v <= 3; v++ {
		next := schema.CloneDocument(doc)
		next.Metadata.Version = v
		_, err := h.specs.Append(ctx, "thread-1", next)
		require.NoError(t, err)
	}

	require.NoError(t, h.sessions.Save(ctx, &models.SessionState{
		ThreadID: "thread-1",
		Mode:     models.ModeModification,
		Phase:    models.PhaseComplete,
	}))

	record, err := h.engine.SelectVersion(ctx, "thread-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, record.Version)

	versions, err := h.specs.ListVersions(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, versions)

	// the session's completed specification now points at the target
	st, err := h.sessions.Get(ctx, "thread-1")
	require.NoError(t, err)
	require.NotNil(t, st.Specification)
	assert.Equal(t, 2, st.Specification.Metadata.Version)
}

func TestSelectVersionUnknownTarget(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{})

	seedDocument(t, h, "thread-1")

	_, err := h.engine.SelectVersion(context.Background(), "thread-1", 9)
	assert.ErrorIs(t, err, specstore.ErrNotFound)
}

func TestStreamingEmitsStatusThenResult(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{responses: []string{
		questionBatch,
	}})

	events := h.engine.StartOrResumeStream(context.Background(), "thread-1", "Leave Request\nManager")

	var statuses []string
	var terminal *Event
	for ev := range events {
		if ev.Result != nil || ev.Err != nil {
			cp := ev
			terminal = &cp
			continue
		}
		statuses = append(statuses, ev.Status)
	}

	require.NotNil(t, terminal)
	require.NoError(t, terminal.Err)
	assert.True(t, terminal.Result.PendingQuestion)
	assert.Contains(t, statuses, "Analyzing request")
	assert.Contains(t, statuses, "Generating clarifying questions")
}

func TestTranscriptRecordsBothSides(t *testing.T) {
	h := newTestHarness(t, &scriptedGateway{responses: []string{questionBatch}})
	ctx := context.Background()

	_, err := h.engine.StartOrResume(ctx, "thread-1", "Leave Request\nManager")
	require.NoError(t, err)

	messages, err := h.transcripts.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, transcript.SenderUser, messages[0].Sender)
	assert.Equal(t, "Leave Request\nManager", messages[0].Text)
	assert.Equal(t, transcript.SenderSystem, messages[1].Sender)
	assert.True(t, strings.HasPrefix(messages[1].Text, "Question 1/"))
}
