package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidsunday2/careersim/internal/auth"
	"github.com/davidsunday2/careersim/internal/persona"
	"github.com/davidsunday2/careersim/internal/sequencer"
	"github.com/davidsunday2/careersim/internal/session"
	"github.com/davidsunday2/careersim/internal/storage"
	"github.com/davidsunday2/careersim/internal/store"
	"github.com/davidsunday2/careersim/internal/synthesize"
	"github.com/davidsunday2/careersim/internal/transcribe"
)

type stubSTT struct{}

func (stubSTT) Transcribe(ctx context.Context, audio []byte, format string, duration time.Duration) (*transcribe.Result, error) {
	return &transcribe.Result{Text: "transcribed answer", Confidence: 0.9, Language: "english"}, nil
}

type stubTTS struct{}

func (stubTTS) Synthesize(ctx context.Context, key string, req synthesize.Request) (*synthesize.Result, error) {
	return &synthesize.Result{AudioKey: key, EstimatedDuration: 1.5}, nil
}

type stubGen struct {
	err error
}

func (g stubGen) Generate(ctx context.Context, sess *session.Session, history []session.Turn, hint bool) (*persona.Result, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &persona.Result{
		ResponseText: "Interesting. What was the hardest part?",
		Annotation:   session.Annotation{Strengths: []string{"clear"}, Improvements: []string{"quantify"}, Score: 80},
	}, nil
}

func (stubGen) Opening(ctx context.Context, sess *session.Session) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T, gen sequencer.Generator) *httptest.Server {
	t.Helper()
	hub := NewHub()
	cfg := sequencer.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	seq := sequencer.New(store.NewMemory(), storage.NewMemory(), stubSTT{}, gen, stubTTS{}, cfg, hub)
	srv := New(seq, auth.StaticVerifier{"alice-token": "alice", "bob-token": "bob"}, hub)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func createSession(t *testing.T, ts *httptest.Server, token string, body map[string]any) session.Session {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/sessions", token, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var sess session.Session
	require.NoError(t, json.Unmarshal(raw, &sess))
	return sess
}

func TestHealthzNoAuth(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionsRequireAuth(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/sessions", "", map[string]any{
		"scenario": "technical_interview", "modality": "text",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFullTextSessionFlow(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	sess := createSession(t, ts, "alice-token", map[string]any{
		"scenario": "technical_interview", "modality": "text",
	})
	assert.Equal(t, "alice", sess.UserID)
	assert.Equal(t, "Alex Chen", sess.Persona.Name)

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns", "alice-token", map[string]any{
		"modality": "text", "text": "I rebuilt our billing pipeline last year.",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var turnRes sequencer.TurnResult
	require.NoError(t, json.Unmarshal(raw, &turnRes))
	assert.Equal(t, 0, turnRes.Turn.Seq)
	assert.Equal(t, session.TurnComplete, turnRes.Turn.Status)
	assert.NotEmpty(t, turnRes.Turn.OutputText)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID+"/turns/0", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var turn session.Turn
	require.NoError(t, json.Unmarshal(raw, &turn))
	assert.Equal(t, session.TurnComplete, turn.Status)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/end", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// second end is idempotent and returns the stored report
	resp, raw = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/end", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var end sequencer.EndResult
	require.NoError(t, json.Unmarshal(raw, &end))
	require.NotNil(t, end.Report)
	assert.Equal(t, 1, end.Report.TurnCount)

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID+"/report", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep session.FeedbackReport
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Equal(t, sess.ID, rep.SessionID)
}

func TestCancelWithNothingInFlight(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	sess := createSession(t, ts, "alice-token", map[string]any{
		"scenario": "crisis_management", "modality": "text",
	})
	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns/cancel", "alice-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]bool
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.False(t, body["cancelled"])
}

func TestOwnershipHidesForeignSessions(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	sess := createSession(t, ts, "alice-token", map[string]any{
		"scenario": "presentation", "modality": "text",
	})

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID, "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/end", "bob-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	sess := createSession(t, ts, "alice-token", map[string]any{
		"scenario": "technical_interview", "modality": "voice",
	})

	// oversized audio -> 400
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns", "alice-token", map[string]any{
		"modality": "audio", "audio": []byte("pcm"), "audio_format": "wav", "duration_seconds": 400,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// bad voice override -> 400
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns", "alice-token", map[string]any{
		"modality": "text", "text": "hello", "voice_override": "robo-9",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// empty text payload -> 400
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns", "alice-token", map[string]any{
		"modality": "text", "text": "  ",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown scenario -> 400
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/sessions", "alice-token", map[string]any{
		"scenario": "paragliding", "modality": "text",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown session -> 404
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/sessions/nope", "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// report before completion -> 404
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/sessions/"+sess.ID+"/report", "alice-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerationUnavailableMapsTo502(t *testing.T) {
	ts := newTestServer(t, stubGen{err: session.ErrGenerationUnavailable})
	sess := createSession(t, ts, "alice-token", map[string]any{
		"scenario": "technical_interview", "modality": "text",
	})

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns", "alice-token", map[string]any{
		"modality": "text", "text": "hello",
	})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body struct {
		Error     string        `json:"error"`
		SessionID string        `json:"session_id"`
		Seq       *int          `json:"seq"`
		Stage     session.Stage `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, sess.ID, body.SessionID)
	require.NotNil(t, body.Seq)
	assert.Equal(t, 0, *body.Seq)
	assert.Equal(t, session.StageGeneration, body.Stage)
}

func TestStreamDeliversTurnEvents(t *testing.T) {
	ts := newTestServer(t, stubGen{})
	sess := createSession(t, ts, "alice-token", map[string]any{
		"scenario": "stakeholder_meeting", "modality": "text",
	})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + sess.ID + "/stream"
	header := http.Header{"Authorization": []string{"Bearer alice-token"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		body := bytes.NewBufferString(`{"modality":"text","text":"Our churn dropped 2% after the redesign."}`)
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/sessions/"+sess.ID+"/turns", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer alice-token")
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var statuses []session.TurnStatus
	for {
		var ev sequencer.Event
		require.NoError(t, conn.ReadJSON(&ev))
		assert.Equal(t, sess.ID, ev.SessionID)
		statuses = append(statuses, ev.Status)
		if ev.Status == session.TurnComplete {
			break
		}
	}
	assert.Contains(t, statuses, session.TurnPending)
	assert.Contains(t, statuses, session.TurnGenerating)
}
