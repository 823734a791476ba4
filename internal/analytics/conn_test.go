package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/callbridge/internal/core/domain"
)

type staticTokens struct {
	token string
	err   error
	calls int
	mu    sync.Mutex
}

func (s *staticTokens) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.token, s.err
}

// fakeBackend accepts analytics websockets and hands each server-side conn to the test.
type fakeBackend struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	urls  chan *url.URL
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	b := &fakeBackend{
		conns: make(chan *websocket.Conn, 4),
		urls:  make(chan *url.URL, 4),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		b.urls <- r.URL
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) streamURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/v1/realtime/assist"
}

func (b *fakeBackend) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("backend never received a connection")
		return nil
	}
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", mt)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTestLeg(t *testing.T, b *fakeBackend, role domain.Role, handler EventHandler) (*Conn, *websocket.Conn) {
	t.Helper()

	d := NewDialer(&staticTokens{token: "tok"},
		WithStreamURL(b.streamURL()),
		WithRTAID("rta_1"),
		WithEventHandler(handler),
		WithLogger(discardLogger()))

	c, err := d.Dial(context.Background(), "sess-1", domain.Speaker{UserID: "u-" + string(role), Name: role.DisplayName(), Role: role})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })

	server := b.accept(t)
	readJSON(t, server) // start_request
	return c, server
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not close")
	}
}

func TestDialer_SendsStartRequest(t *testing.T) {
	b := newFakeBackend(t)
	d := NewDialer(&staticTokens{token: "tok/1"},
		WithStreamURL(b.streamURL()+"/"),
		WithRTAID("rta_1"),
		WithLogger(discardLogger()))

	c, err := d.Dial(context.Background(), "sess-1", domain.Speaker{UserID: "+15555550123", Name: "Jane", Role: domain.RoleCustomer})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	if c.State() != StateStreaming {
		t.Errorf("State() = %v, want streaming", c.State())
	}

	server := b.accept(t)
	u := <-b.urls
	if u.Path != "/v1/realtime/assist/rta_1" {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("access_token"); got != "tok/1" {
		t.Errorf("access_token = %q, want tok/1", got)
	}

	msg := readJSON(t, server)
	if msg["type"] != "start_request" || msg["id"] != "sess-1" || msg["RTAId"] != "rta_1" {
		t.Errorf("start request header = %v", msg)
	}
	if a, _ := msg["assistants"].([]any); len(a) != 1 || a[0] != "objection-handling" {
		t.Errorf("assistants = %v", msg["assistants"])
	}
	sr := msg["config"].(map[string]any)["speechRecognition"].(map[string]any)
	if sr["encoding"] != "LINEAR16" || sr["sampleRateHertz"] != float64(16000) {
		t.Errorf("speechRecognition = %v", sr)
	}
	sp := msg["speaker"].(map[string]any)
	if sp["userId"] != "+15555550123" || sp["name"] != "Jane" || sp["role"] != "customer" {
		t.Errorf("speaker = %v", sp)
	}
}

func TestDialer_FreshTokenPerLeg(t *testing.T) {
	b := newFakeBackend(t)
	tokens := &staticTokens{token: "tok"}
	d := NewDialer(tokens, WithStreamURL(b.streamURL()), WithLogger(discardLogger()))

	for _, role := range domain.Roles {
		c, err := d.Dial(context.Background(), "sess", domain.Speaker{Role: role})
		if err != nil {
			t.Fatalf("Dial(%s) error = %v", role, err)
		}
		defer c.Close()
		b.accept(t)
	}
	if tokens.calls != 2 {
		t.Errorf("token requests = %d, want 2", tokens.calls)
	}
}

func TestDialer_AuthFailure(t *testing.T) {
	b := newFakeBackend(t)
	d := NewDialer(&staticTokens{err: domain.NewError(domain.ErrorKindAuth, "denied").WithStatusCode(401)},
		WithStreamURL(b.streamURL()), WithLogger(discardLogger()))

	_, err := d.Dial(context.Background(), "sess", domain.Speaker{Role: domain.RoleAgent})
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("Dial() error = %v, want ErrAuth", err)
	}
	select {
	case <-b.conns:
		t.Error("dialed the backend without a token")
	default:
	}
}

func TestDialer_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewDialer(&staticTokens{token: "tok"},
		WithStreamURL("ws"+strings.TrimPrefix(srv.URL, "http")), WithLogger(discardLogger()))

	_, err := d.Dial(context.Background(), "sess", domain.Speaker{Role: domain.RoleAgent})
	if !errors.Is(err, domain.ErrConnect) {
		t.Fatalf("Dial() error = %v, want ErrConnect", err)
	}
	if e, _ := domain.AsError(err); e.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", e.StatusCode)
	}
}

func TestDialer_RejectsInvalidRole(t *testing.T) {
	d := NewDialer(&staticTokens{token: "tok"}, WithLogger(discardLogger()))
	if _, err := d.Dial(context.Background(), "sess", domain.Speaker{Role: "moderator"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Dial() error = %v, want ErrInvalidInput", err)
	}
}

func TestConn_SendAudio(t *testing.T) {
	b := newFakeBackend(t)
	c, server := dialTestLeg(t, b, domain.RoleAgent, nil)

	chunk := []byte{1, 0, 2, 0, 3, 0}
	if err := c.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(data, chunk) {
		t.Errorf("received type %d %v, want binary %v", mt, data, chunk)
	}
}

func TestConn_StopSendsStopRequest(t *testing.T) {
	b := newFakeBackend(t)
	c, server := dialTestLeg(t, b, domain.RoleCustomer, nil)

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if msg := readJSON(t, server); msg["type"] != "stop_request" {
		t.Errorf("message = %v, want stop_request", msg)
	}
}

func TestConn_BackendErrorClosesOnce(t *testing.T) {
	b := newFakeBackend(t)

	var mu sync.Mutex
	var events []Event
	c, server := dialTestLeg(t, b, domain.RoleAgent, func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	server.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"quota exceeded"}`))
	waitDone(t, c)

	if c.State() != StateClosed {
		t.Errorf("State() = %v, want closed", c.State())
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := c.SendAudio([]byte{0, 0}); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Errorf("SendAudio() after close error = %v, want ErrConnectionClosed", err)
	}
	if err := c.Stop(); !errors.Is(err, domain.ErrConnectionClosed) {
		t.Errorf("Stop() after close error = %v, want ErrConnectionClosed", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Kind != EventError || events[0].Text != "quota exceeded" {
		t.Errorf("events = %+v", events)
	}
}

func TestConn_DispatchesEvents(t *testing.T) {
	b := newFakeBackend(t)
	events := make(chan Event, 8)
	c, server := dialTestLeg(t, b, domain.RoleCustomer, func(ev Event) { events <- ev })

	frames := []string{
		`{not json`,
		`{"type":"message","message":{"type":"recognition_started"}}`,
		`{"type":"message","message":{"type":"recognition_result","isFinal":true,"punctuated":{"transcript":"Hello there."},"user":{"userId":"+1","name":"Jane","role":"customer"}}}`,
		`{"type":"transcript","message":{"punctuated":{"transcript":"Partial"}}}`,
		`{"type":"insight","insight":{"type":"question","text":"Can you help?"}}`,
		`{"type":"objection_response","response":"Offer a discount"}`,
		`{"type":"message","message":{"type":"conversation_completed"}}`,
	}
	for _, f := range frames {
		if err := server.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}
	waitDone(t, c)
	close(events)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}

	wantKinds := []EventKind{EventRecognitionStarted, EventTranscript, EventTranscript, EventInsight, EventAssist, EventCompleted}
	if len(got) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(wantKinds), got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Errorf("event %d kind = %s, want %s", i, got[i].Kind, k)
		}
		if got[i].SessionID != "sess-1" || got[i].Role != domain.RoleCustomer {
			t.Errorf("event %d tagged %s/%s", i, got[i].SessionID, got[i].Role)
		}
	}
	if got[1].Text != "Hello there." || !got[1].IsFinal || got[1].SpeakerRole != "customer" {
		t.Errorf("recognition result = %+v", got[1])
	}
	if got[2].Text != "Partial" {
		t.Errorf("transcript = %+v", got[2])
	}
	if !strings.Contains(string(got[3].Raw), "Can you help?") {
		t.Errorf("insight raw = %s", got[3].Raw)
	}
}

func TestConn_ServerDisconnectCloses(t *testing.T) {
	b := newFakeBackend(t)
	c, server := dialTestLeg(t, b, domain.RoleAgent, nil)

	server.Close()
	waitDone(t, c)

	if !c.Closed() {
		t.Error("Closed() = false after server disconnect")
	}
}

func TestConn_ConcurrentClose(t *testing.T) {
	b := newFakeBackend(t)
	c, _ := dialTestLeg(t, b, domain.RoleAgent, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Close()
		}()
	}
	wg.Wait()
	waitDone(t, c)
}

func TestLogEvents(t *testing.T) {
	var buf bytes.Buffer
	h := LogEvents(slog.New(slog.NewJSONHandler(&buf, nil)))

	h(Event{Kind: EventTranscript, SessionID: "s", Role: domain.RoleAgent, Text: "hi", IsFinal: true})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "transcript" || rec["speaker"] != "agent" || rec["text"] != "hi" {
		t.Errorf("log record = %v", rec)
	}
}
