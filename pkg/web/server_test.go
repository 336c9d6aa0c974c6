package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-deskman/internal/log"
	"github.com/teslashibe/go-deskman/pkg/actuator"
	"github.com/teslashibe/go-deskman/pkg/assistant"
	"github.com/teslashibe/go-deskman/pkg/robot"
)

type fakeAssistant struct {
	mu       sync.Mutex
	snap     assistant.Snapshot
	requests int
	err      error
}

func (a *fakeAssistant) RequestConversation() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests++
	return a.err
}

func (a *fakeAssistant) Snapshot() assistant.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

type recordingHead struct {
	mu    sync.Mutex
	moves [][2]int
}

func (h *recordingHead) MoveHead(dx, dy int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.moves = append(h.moves, [2]int{dx, dy})
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeAssistant, *recordingHead, *robot.Face) {
	t.Helper()
	head := &recordingHead{}
	face := robot.NewFace(log.Discard())
	tools, err := actuator.NewDispatcher(log.Discard(), actuator.DefaultTools(head, face)...)
	if err != nil {
		t.Fatal(err)
	}
	a := &fakeAssistant{snap: assistant.Snapshot{State: assistant.StateIdle, Protocol: "ready"}}

	s := NewServer(Options{
		Addr:      "127.0.0.1:0",
		Assistant: a,
		Tools:     tools,
		Face:      face,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "deskman_turns_total 3\n")
		}),
		Logger: log.Discard(),
	})
	return s, a, head, face
}

func doRequest(t *testing.T, s *Server, method, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func TestStatus(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	code, body := doRequest(t, s, http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, `"state":"idle"`) || !strings.Contains(body, `"protocol":"ready"`) {
		t.Errorf("body = %s", body)
	}
}

func TestStartConversation(t *testing.T) {
	s, a, _, _ := newTestServer(t)

	code, _ := doRequest(t, s, http.MethodPost, "/api/conversation", "")
	if code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", code)
	}

	a.mu.Lock()
	a.err = assistant.ErrBusy
	a.snap.State = assistant.StateRecording
	a.mu.Unlock()

	code, body := doRequest(t, s, http.MethodPost, "/api/conversation", "")
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if !strings.Contains(body, `"state":"recording"`) {
		t.Errorf("body = %s", body)
	}
	if a.requests != 2 {
		t.Errorf("requests = %d", a.requests)
	}
}

func TestListTools(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	code, body := doRequest(t, s, http.MethodGet, "/api/tools", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}

	var tools []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(body), &tools); err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 || tools[0].Name != "move_head" || tools[1].Name != "move_face" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestTriggerTool(t *testing.T) {
	s, _, head, face := newTestServer(t)

	tests := []struct {
		name     string
		path     string
		body     string
		wantCode int
	}{
		{"move head", "/api/tools/move_head", `{"args":{"direction":"Left"}}`, http.StatusOK},
		{"move face", "/api/tools/move_face", `{"args":{"eyes":2,"smile":1}}`, http.StatusOK},
		{"bad direction", "/api/tools/move_head", `{"args":{"direction":"Back"}}`, http.StatusBadRequest},
		{"no args", "/api/tools/move_head", ``, http.StatusBadRequest},
		{"unknown", "/api/tools/dance", `{}`, http.StatusNotFound},
		{"garbage body", "/api/tools/move_head", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, s, http.MethodPost, tt.path, tt.body)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d (%s)", code, tt.wantCode, body)
			}
		})
	}

	head.mu.Lock()
	moves := head.moves
	head.mu.Unlock()
	if len(moves) != 1 || moves[0] != [2]int{800, 0} {
		t.Errorf("moves = %v", moves)
	}
	if st := face.State(); st.Eyes != 2 || st.Smile != 1 {
		t.Errorf("face = %+v", st)
	}

	logs := s.Logs()
	if len(logs) < 2 || logs[0].Type != "tool" {
		t.Errorf("logs = %+v", logs)
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	code, body := doRequest(t, s, http.MethodGet, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "deskman_turns_total") {
		t.Errorf("metrics = %d %q", code, body)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	code, _ := doRequest(t, s, http.MethodGet, "/ws/status", "")
	if code != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", code)
	}
}

func TestPublishStatusLogsChanges(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	s.PublishStatus(assistant.Snapshot{State: assistant.StateWaitingForWakeword})
	s.PublishStatus(assistant.Snapshot{State: assistant.StateWaitingForWakeword})
	s.PublishStatus(assistant.Snapshot{State: assistant.StateIdle, LastTranscript: "hey", LastError: "boom"})

	var types []string
	for _, e := range s.Logs() {
		types = append(types, e.Type)
	}
	want := []string{"state", "state", "speech", "error"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("log types = %v, want %v", types, want)
	}
}

func TestLogRingBuffer(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	for i := 0; i < maxLogs+10; i++ {
		s.AddLog("state", "x")
	}
	if n := len(s.Logs()); n != maxLogs {
		t.Errorf("len(logs) = %d, want %d", n, maxLogs)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func TestServe_WebSockets(t *testing.T) {
	s, _, _, face := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	base := "ws://" + ln.Addr().String()

	status, _, err := websocket.DefaultDialer.Dial(base+"/ws/status", nil)
	if err != nil {
		t.Fatalf("dial status: %v", err)
	}
	defer status.Close()

	var snap struct {
		State string `json:"state"`
	}
	readJSON(t, status, &snap)
	if snap.State != "idle" {
		t.Errorf("initial state = %q", snap.State)
	}

	faceConn, _, err := websocket.DefaultDialer.Dial(base+"/ws/face", nil)
	if err != nil {
		t.Fatalf("dial face: %v", err)
	}
	defer faceConn.Close()

	var fs robot.FaceState
	readJSON(t, faceConn, &fs)
	if fs.Mouth != robot.MouthRest {
		t.Errorf("initial mouth = %q", fs.Mouth)
	}

	// Wait until both hubs know the clients before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.statusHub.ClientCount() != 1 || s.faceHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("clients never registered")
		}
		time.Sleep(time.Millisecond)
	}

	s.PublishStatus(assistant.Snapshot{State: assistant.StateRecording})
	readJSON(t, status, &snap)
	if snap.State != "recording" {
		t.Errorf("broadcast state = %q", snap.State)
	}

	face.SetMouth(robot.MouthM)
	for {
		readJSON(t, faceConn, &fs)
		if fs.Mouth == robot.MouthM {
			break
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
}
