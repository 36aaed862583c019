package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"valsort/internal/config"
	"valsort/internal/db"
	"valsort/internal/engine"
	"valsort/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

var actorHeaders = map[string]string{"X-Actor-Id": "tester"}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTestSession(t *testing.T, srv *testServer) StatusResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions", map[string]any{
		"name":   "flow",
		"target": 2,
		"values": []map[string]string{
			{"id": "a", "title": "Card A"},
			{"id": "b", "title": "Card B"},
			{"id": "c", "title": "Card C"},
			{"id": "d", "title": "Card D"},
		},
	}, actorHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create session status %d: %s", res.StatusCode, string(data))
	}
	var status StatusResponse
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	return status
}

func TestSessionFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	status := createTestSession(t, srv)
	if status.Stage != "sorting" || len(status.Board.Remaining) != 4 {
		t.Fatalf("initial status: %+v", status)
	}
	// 4 cards at target 2 leaves three selectable categories
	if len(status.Board.ValidCategories) != 3 {
		t.Fatalf("valid categories = %v", status.Board.ValidCategories)
	}
	base := srv.URL + "/v0/sessions/" + status.SessionID

	// advancing mid-sort is rejected with the progress in the envelope
	res, data := doJSON(t, client, http.MethodPost, base+"/advance", nil, actorHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("advance status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "validation_failed" || envelope.Error.Details["progress"] == nil {
		t.Fatalf("error envelope: %s", string(data))
	}

	// drop into a category outside this round's valid set is a no-op
	res, data = doJSON(t, client, http.MethodPost, base+"/drop", map[string]string{
		"card_id": "a", "category": "important",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("drop status %d: %s", res.StatusCode, string(data))
	}
	var apply ApplyResponse
	if err := json.Unmarshal(data, &apply); err != nil {
		t.Fatalf("unmarshal apply: %v", err)
	}
	if apply.Applied {
		t.Fatal("drop into unavailable category must be ignored")
	}

	for card, cat := range map[string]string{
		"a": "very-important",
		"b": "very-important",
		"c": "not-important",
		"d": "not-important",
	} {
		res, data = doJSON(t, client, http.MethodPost, base+"/drop", map[string]string{
			"card_id": card, "category": cat,
		}, actorHeaders)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("drop %s status %d: %s", card, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Stage != "end-game-ready" || !status.Progress.ShouldEndGame {
		t.Fatalf("status after sorting: %+v", status)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/complete", map[string]any{
		"reasons": map[string]string{"a": "it grounds me"},
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete status %d: %s", res.StatusCode, string(data))
	}

	// completing twice conflicts
	res, data = doJSON(t, client, http.MethodPost, base+"/complete", map[string]any{}, actorHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second complete status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/completed", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("completed status %d: %s", res.StatusCode, string(data))
	}
	var completed struct {
		FinalValues []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
		} `json:"final_values"`
	}
	if err := json.Unmarshal(data, &completed); err != nil {
		t.Fatalf("unmarshal completed: %v", err)
	}
	if len(completed.FinalValues) != 2 {
		t.Fatalf("final values: %s", string(data))
	}
}

func TestMoveAndPlaybackOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	status := createTestSession(t, srv)
	base := srv.URL + "/v0/sessions/" + status.SessionID

	for _, drop := range []map[string]string{
		{"card_id": "a", "category": "quite-important"},
		{"card_id": "b", "category": "quite-important"},
		{"card_id": "c", "category": "not-important"},
		{"card_id": "d", "category": "quite-important"},
	} {
		if res, data := doJSON(t, client, http.MethodPost, base+"/drop", drop, actorHeaders); res.StatusCode != http.StatusOK {
			t.Fatalf("drop status %d: %s", res.StatusCode, string(data))
		}
	}

	// reorder within quite-important, then promote the new head
	res, data := doJSON(t, client, http.MethodPost, base+"/move", map[string]any{
		"category": "quite-important", "from_index": 2, "to_index": 0,
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}
	var apply ApplyResponse
	if err := json.Unmarshal(data, &apply); err != nil {
		t.Fatalf("unmarshal apply: %v", err)
	}
	qi := apply.Status.Board.Categories["quite-important"]
	if len(qi) != 3 || qi[0].ID != "d" {
		t.Fatalf("order after move: %+v", qi)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/move", map[string]any{
		"card_id": "d", "from_category": "quite-important", "to_category": "very-important",
	}, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("move status %d: %s", res.StatusCode, string(data))
	}

	// a move request with neither form is a 400
	res, data = doJSON(t, client, http.MethodPost, base+"/move", map[string]any{"card_id": "d"}, actorHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad move status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/playback", nil, actorHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("playback status %d: %s", res.StatusCode, string(data))
	}
	var playback []PlaybackRoundResponse
	if err := json.Unmarshal(data, &playback); err != nil {
		t.Fatalf("unmarshal playback: %v", err)
	}
	if len(playback) != 1 || len(playback[0].Steps) != 6 {
		t.Fatalf("playback shape: rounds=%d", len(playback))
	}
	final := playback[0].Final.Categories["very-important"]
	if len(final) != 1 || final[0].ID != "d" {
		t.Fatalf("replayed final top: %+v", final)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/sessions", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("envelope: %s", string(data))
	}

	// health stays open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/sessions/nope", nil, actorHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("envelope: %s", string(data))
	}
}
