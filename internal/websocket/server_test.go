package websocket_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/daemon"
	"github.com/leonletto/chatnode/internal/live"
	"github.com/leonletto/chatnode/internal/logging"
	"github.com/leonletto/chatnode/internal/router"
	"github.com/leonletto/chatnode/internal/transport"
	ws "github.com/leonletto/chatnode/internal/websocket"
)

type testEnv struct {
	loop    *daemon.Loop
	server  *ws.Server
	http    *httptest.Server
	clients *ws.ClientRegistry
}

func newTestEnv(t *testing.T, opts ws.Options) *testEnv {
	t.Helper()
	logger := logging.Discard()
	clients := ws.NewClientRegistry()

	routerOpts := []router.Option{router.WithLogger(logger)}
	if reg, ok := opts.Gatherer.(*prometheus.Registry); ok {
		routerOpts = append(routerOpts, router.WithMetrics(router.NewMetrics(reg)))
	}
	r := router.New("alice", archive.NewStore(), live.NewRegistry(clients), nil, routerOpts...)
	loop := daemon.NewLoop(r, 0, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()

	opts.Logger = logger
	srv := ws.NewServer("127.0.0.1:0", loop, clients, opts)
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		clients.CloseAll()
		hs.Close()
		cancel()
		<-done
	})
	return &testEnv{loop: loop, server: srv, http: hs, clients: clients}
}

func (e *testEnv) post(t *testing.T, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(e.http.URL+"/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /messages: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func (e *testEnv) history(t *testing.T) archive.Archive {
	t.Helper()
	snap, err := e.loop.History(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (e *testEnv) liveChannel(t *testing.T) string {
	t.Helper()
	st, err := e.loop.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return st.LiveChannel
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return data
}

func TestMessages_Get(t *testing.T) {
	env := newTestEnv(t, ws.Options{})

	resp, err := http.Get(env.http.URL + "/messages")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	got, err := chat.DecodeResponse(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if got.Kind != chat.ResponseHistory || len(got.Messages) != 0 {
		t.Errorf("response = %+v, want empty History", got)
	}
}

func TestMessages_PostSend(t *testing.T) {
	env := newTestEnv(t, ws.Options{})

	resp, body := env.post(t, `{"Send":{"target":"bob","message":"hi"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if len(body) != 0 {
		t.Errorf("body = %q, want empty", body)
	}

	got := env.history(t)["bob"]
	if len(got) != 1 || got[0].Author != "alice" || got[0].Content != "hi" {
		t.Errorf("archive[bob] = %+v", got)
	}
}

func TestMessages_PostHistory(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	env.post(t, `{"Send":{"target":"bob","message":"one"}}`)

	resp, body := env.post(t, `"History"`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got, err := chat.DecodeResponse(body)
	if err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if msgs := got.Messages["bob"]; len(msgs) != 1 || msgs[0].Content != "one" {
		t.Errorf("history = %+v", got.Messages)
	}
}

func TestMessages_PostUndecodable(t *testing.T) {
	env := newTestEnv(t, ws.Options{})

	for _, body := range []string{`nonsense`, `"Ack"`, `{"Send":{"target":"bob"}}`, ``} {
		resp, _ := env.post(t, body)
		if resp.StatusCode != http.StatusCreated {
			t.Errorf("POST %q status = %d, want 201", body, resp.StatusCode)
		}
	}
	if snap := env.history(t); len(snap) != 0 {
		t.Errorf("archive changed: %+v", snap)
	}
}

func TestMessages_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, ws.Options{})

	req, _ := http.NewRequest(http.MethodPut, env.http.URL+"/messages", strings.NewReader(`"History"`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestMessages_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, ws.Options{MaxRequestBytes: 16})

	resp, _ := env.post(t, `{"Send":{"target":"bob","message":"this is far too long"}}`)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestWebSocket_ReceivesLiveEvents(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := env.dial(t)
	waitFor(t, "live channel", func() bool { return env.liveChannel(t) != "" })

	raw, _ := chat.NewSendRequest("alice", "hello").MarshalJSON()
	err := env.loop.Dispatch(context.Background(), router.Command{
		Source: "bob", Transport: transport.TransportPeer, Raw: raw,
	})
	if err != nil {
		t.Fatal(err)
	}

	ev, err := chat.DecodeEvent(readFrame(t, conn))
	if err != nil {
		t.Fatal(err)
	}
	if ev.NewMessage.Chat != "bob" || ev.NewMessage.Author != "bob" || ev.NewMessage.Content != "hello" {
		t.Errorf("event = %+v", ev.NewMessage)
	}
}

func TestWebSocket_FramesAreLocalCommands(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := env.dial(t)
	waitFor(t, "live channel", func() bool { return env.liveChannel(t) != "" })

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"Send":{"target":"bob","message":"yo"}}`)); err != nil {
		t.Fatal(err)
	}
	ev, err := chat.DecodeEvent(readFrame(t, conn))
	if err != nil {
		t.Fatal(err)
	}
	if ev.NewMessage.Chat != "bob" || ev.NewMessage.Author != "alice" {
		t.Errorf("event = %+v", ev.NewMessage)
	}

	// The garbage frame produces nothing, so the next frame is the history reply.
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`"History"`))

	resp, err := chat.DecodeResponse(readFrame(t, conn))
	if err != nil {
		t.Fatal(err)
	}
	if msgs := resp.Messages["bob"]; resp.Kind != chat.ResponseHistory || len(msgs) != 1 {
		t.Errorf("history reply = %+v", resp)
	}
}

func TestWebSocket_CloseLeavesLiveSlot(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	conn := env.dial(t)
	waitFor(t, "live channel", func() bool { return env.liveChannel(t) != "" })
	channelID := env.liveChannel(t)

	_ = conn.Close()
	waitFor(t, "viewer to unregister", func() bool { return env.clients.Count() == 0 })

	if got := env.liveChannel(t); got != channelID {
		t.Errorf("live channel = %q after close, want stale %q", got, channelID)
	}

	// Appends still succeed with a stale slot.
	resp, _ := env.post(t, `{"Send":{"target":"bob","message":"anyone?"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if got := env.history(t)["bob"]; len(got) != 1 {
		t.Errorf("archive[bob] = %+v", got)
	}
}

func TestWebSocket_LastViewerWins(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	first := env.dial(t)
	waitFor(t, "first channel", func() bool { return env.liveChannel(t) != "" })
	firstID := env.liveChannel(t)

	second := env.dial(t)
	waitFor(t, "second channel", func() bool {
		id := env.liveChannel(t)
		return id != "" && id != firstID
	})

	env.post(t, `{"Send":{"target":"bob","message":"to the newest"}}`)
	if _, err := chat.DecodeEvent(readFrame(t, second)); err != nil {
		t.Fatalf("second viewer: %v", err)
	}

	_ = first.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("first viewer should not receive events after being replaced")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	env.post(t, `{"Send":{"target":"bob","message":"hi"}}`)

	resp, err := http.Get(env.http.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{`"status":"ok"`, `"node":"alice"`, `"conversations":1`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("healthz body %s missing %s", data, want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, ws.Options{Gatherer: prometheus.NewRegistry()})
	env.post(t, `{"Send":{"target":"bob","message":"hi"}}`)

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(data), `chatnode_messages_archived_total{origin="http"} 1`) {
		t.Errorf("metrics output missing archived counter:\n%s", data)
	}
}

func TestCommands_LabelledBySurface(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, ws.Options{Gatherer: reg})

	env.post(t, `{"Send":{"target":"bob","message":"over http"}}`)

	conn := env.dial(t)
	waitFor(t, "live channel", func() bool { return env.liveChannel(t) != "" })
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"Send":{"target":"carol","message":"over ws"}}`)); err != nil {
		t.Fatal(err)
	}
	_ = readFrame(t, conn)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "chatnode_messages_archived_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "origin" {
					got[l.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	want := map[string]float64{"http": 1, "websocket": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("archived by origin = %v, want %v", got, want)
	}
}

func TestMetricsEndpoint_DisabledWithoutGatherer(t *testing.T) {
	env := newTestEnv(t, ws.Options{})

	resp, err := http.Get(env.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUI_SPAFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>chat</html>"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o600); err != nil {
		t.Fatal(err)
	}
	env := newTestEnv(t, ws.Options{UIDir: dir})

	tests := []struct {
		path      string
		wantBody  string
		wantCache string
	}{
		{"/", "<html>chat</html>", "no-cache"},
		{"/conversations/bob", "<html>chat</html>", "no-cache"},
		{"/assets/app.js", "console.log(1)", "max-age=31536000, immutable"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(env.http.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = resp.Body.Close() }()
			data, _ := io.ReadAll(resp.Body)
			if string(data) != tt.wantBody {
				t.Errorf("body = %q, want %q", data, tt.wantBody)
			}
			if got := resp.Header.Get("Cache-Control"); got != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	env := newTestEnv(t, ws.Options{})
	srv := env.server
	ctx := context.Background()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	addr := srv.Addr()
	if addr == "127.0.0.1:0" {
		t.Fatal("Addr() should report the bound port after Start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestClientRegistry_SendTextUnknownChannel(t *testing.T) {
	clients := ws.NewClientRegistry()

	err := clients.SendText("ch_missing", []byte(`{}`))
	if !errors.Is(err, ws.ErrChannelNotConnected) {
		t.Errorf("SendText() error = %v, want ErrChannelNotConnected", err)
	}
}
