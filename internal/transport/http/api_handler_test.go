package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"classquiz-live/internal/domain"
)

func newAPIServer(t *testing.T, clk clockwork.Clock) *httptest.Server {
	t.Helper()
	service := newTestService(t, clk)
	mux := http.NewServeMux()
	NewAPIHandler(service).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func TestAPISessionFlow(t *testing.T) {
	clk := clockwork.NewFakeClock()
	server := newAPIServer(t, clk)

	resp, raw := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]string{
		"chapterId":      "chapter-1",
		"controllerName": "Ms. Finch",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", resp.StatusCode, raw)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.ID == "" || len(session.Code) != domain.CodeLength {
		t.Fatalf("unexpected session %+v", session)
	}

	resp, raw = doJSON(t, http.MethodPost, server.URL+"/api/join", map[string]string{
		"session":     session.Code,
		"displayName": "Alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d, body %s", resp.StatusCode, raw)
	}
	var joined struct {
		Participant domain.Participant `json:"participant"`
	}
	if err := json.Unmarshal(raw, &joined); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if joined.Participant.ID == "" || joined.Participant.DisplayName != "Alice" {
		t.Fatalf("unexpected participant %+v", joined.Participant)
	}

	resp, raw = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/start", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start: status %d, body %s", resp.StatusCode, raw)
	}

	clk.Advance(5 * time.Second)
	waitForAPIPhase(t, server, session.ID, domain.PhaseNarrative)

	resp, raw = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/advance", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("advance: status %d, body %s", resp.StatusCode, raw)
	}
	snap := waitForAPIPhase(t, server, session.ID, domain.PhaseQuestion)
	if snap.CurrentQuestion == nil {
		t.Fatalf("expected a question in snapshot %+v", snap)
	}

	resp, raw = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/answers", map[string]string{
		"participantId": joined.Participant.ID,
		"questionId":    snap.CurrentQuestion.ID,
		"option":        "B",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer: status %d, body %s", resp.StatusCode, raw)
	}
	var answer struct {
		IsCorrect bool `json:"isCorrect"`
	}
	if err := json.Unmarshal(raw, &answer); err != nil {
		t.Fatalf("decode answer response: %v", err)
	}
	if !answer.IsCorrect {
		t.Fatalf("expected a correct answer, body %s", raw)
	}

	// Everyone answered the only question, so the session completes.
	snap = waitForAPIPhase(t, server, session.ID, domain.PhaseResults)
	if snap.Session.Status != domain.SessionCompleted {
		t.Fatalf("expected completed session, got %s", snap.Session.Status)
	}
	if len(snap.Leaderboard) != 1 || snap.Leaderboard[0].Score != 10 {
		t.Fatalf("unexpected leaderboard %+v", snap.Leaderboard)
	}

	resp, raw = doJSON(t, http.MethodGet, server.URL+"/api/sessions/"+session.ID+"/participants", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("participants: status %d, body %s", resp.StatusCode, raw)
	}
	var list []domain.Participant
	if err := json.Unmarshal(raw, &list); err != nil {
		t.Fatalf("decode participants: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.ParticipantCompleted {
		t.Fatalf("unexpected participants %+v", list)
	}
}

func TestAPIErrorStatuses(t *testing.T) {
	clk := clockwork.NewFakeClock()
	server := newAPIServer(t, clk)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/api/sessions/nope/snapshot", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown snapshot: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/join", map[string]string{
		"session":     "NOPE42",
		"displayName": "Alice",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown join: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty create: status %d", resp.StatusCode)
	}

	resp, raw := doJSON(t, http.MethodPost, server.URL+"/api/sessions", map[string]string{
		"chapterId": "chapter-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", resp.StatusCode, raw)
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/ban", map[string]string{
		"participantId": "ghost",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ban unknown participant: status %d", resp.StatusCode)
	}

	resp, raw = doJSON(t, http.MethodPost, server.URL+"/api/join", map[string]string{
		"session":     session.ID,
		"displayName": "Alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status %d, body %s", resp.StatusCode, raw)
	}
	var joined struct {
		Participant domain.Participant `json:"participant"`
	}
	if err := json.Unmarshal(raw, &joined); err != nil {
		t.Fatalf("decode join response: %v", err)
	}

	if resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/start", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	if resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/start", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("double start: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/sessions/"+session.ID+"/ban", map[string]string{
		"participantId": joined.Participant.ID,
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("ban: status %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/join", map[string]string{
		"session":       session.ID,
		"participantId": joined.Participant.ID,
		"displayName":   "Alice",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("banned re-join: status %d", resp.StatusCode)
	}
}

func waitForAPIPhase(t *testing.T, server *httptest.Server, sessionID string, kind domain.PhaseKind) domain.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var snap domain.Snapshot
	for time.Now().Before(deadline) {
		resp, raw := doJSON(t, http.MethodGet, server.URL+"/api/sessions/"+sessionID+"/snapshot", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("snapshot: status %d, body %s", resp.StatusCode, raw)
		}
		if err := json.Unmarshal(raw, &snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snap.Session.Phase.Kind == kind {
			return snap
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached phase %s, last %+v", kind, snap.Session.Phase)
	return snap
}
