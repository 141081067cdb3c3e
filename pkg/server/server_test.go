package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/mushroom/pkg/dispatch"
	"github.com/vango-dev/mushroom/pkg/plugin"
	"github.com/vango-dev/mushroom/pkg/protocol"
)

func testTable(t *testing.T) *dispatch.Table {
	t.Helper()
	b := dispatch.NewBuilder()
	b.AddModule(plugin.Module{ID: "appA", Descriptors: []plugin.Descriptor{
		plugin.RPC("ping", func(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
			return "pong", nil
		}),
		plugin.RPC("echo", func(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
			var v any
			if err := req.Bind(&v); err != nil {
				return nil, err
			}
			return v, nil
		}),
		plugin.RPC("fail", func(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
			return nil, errors.New("bad input")
		}),
		plugin.RPC("explode", func(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
			panic("kaboom")
		}),
		plugin.RPC("whoami", func(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
			return req.Session.ID(), nil
		}),
		plugin.Scheduled("heartbeat", func(ctx context.Context, host plugin.Host) error {
			<-ctx.Done()
			return nil
		}),
	}})
	table, err := b.Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	return table
}

func newTestServer(t *testing.T, config *ServerConfig) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(testTable(t), config)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ts.Close()
	})
	return srv, ts
}

func postBody(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(b))
}

func connect(t *testing.T, baseURL string, transports ...string) protocol.ConnectResponse {
	t.Helper()
	req, _ := json.Marshal(protocol.ConnectRequest{Transports: transports})
	status, body := postBody(t, baseURL+"/", string(req))
	if status != http.StatusOK {
		t.Fatalf("connect status = %d, body %q", status, body)
	}
	var resp protocol.ConnectResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("connect response %q: %v", body, err)
	}
	return resp
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%q) failed: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	return string(msg)
}

func TestPreflight(t *testing.T) {
	// An empty table proves the answer does not depend on registered functions.
	srv := New(nil, nil)

	for _, path := range []string{"/", "/abc", "/does/not/exist"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("OPTIONS %s status = %d, want 200", path, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Request-Method"); got != "POST" {
			t.Errorf("Access-Control-Request-Method = %q, want POST", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("body = %q, want empty", rec.Body.String())
		}
	}
}

func TestConnect(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	resp := connect(t, ts.URL, "ws", "poll")
	if resp.Transport != "ws" {
		t.Errorf("Transport = %q, want ws", resp.Transport)
	}
	wantPrefix := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	if !strings.HasPrefix(resp.URL, wantPrefix) {
		t.Errorf("URL = %q, want prefix %q", resp.URL, wantPrefix)
	}

	resp = connect(t, ts.URL, "poll")
	if resp.Transport != "poll" || !strings.HasPrefix(resp.URL, ts.URL+"/") {
		t.Errorf("poll connect = %+v", resp)
	}

	if srv.Sessions().Len() != 2 {
		t.Errorf("Sessions().Len() = %d, want 2", srv.Sessions().Len())
	}
}

func TestConnect_PublicURL(t *testing.T) {
	_, ts := newTestServer(t, &ServerConfig{PublicURL: "https://rpc.example.com/mushroom/"})

	resp := connect(t, ts.URL, "ws")
	if !strings.HasPrefix(resp.URL, "wss://rpc.example.com/mushroom/") {
		t.Errorf("URL = %q", resp.URL)
	}
}

func TestConnect_Errors(t *testing.T) {
	_, ts := newTestServer(t, &ServerConfig{Transports: []string{"poll"}})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"no shared transport", `{"transports":["ws"]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, _ := postBody(t, ts.URL+"/", tt.body); status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
		})
	}
}

func TestConnect_AuthFunc(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	srv.SetAuthFunc(func(sess *Session, auth json.RawMessage) bool {
		var creds struct{ Token string }
		return json.Unmarshal(auth, &creds) == nil && creds.Token == "secret"
	})

	status, _ := postBody(t, ts.URL+"/", `{"transports":["poll"],"auth":null}`)
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
	status, _ = postBody(t, ts.URL+"/", `{"transports":["poll"],"auth":{"token":"secret"}}`)
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if srv.Sessions().Len() != 1 {
		t.Errorf("Sessions().Len() = %d, want 1", srv.Sessions().Len())
	}
}

func TestWebSocket_Request(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dialWS(t, connect(t, ts.URL, "ws").URL)

	tests := []struct {
		request string
		want    string
	}{
		{`[2,0,"appA_ping",null]`, `[3,0,0,"pong"]`},
		{`[2,1,"appA_echo",{"a":1}]`, `[3,1,1,{"a":1}]`},
		{`[2,2,"appA_nope",null]`, `[4,2,2,"method not found: appA_nope"]`},
		{`[2,3,"appA_fail",null]`, `[4,3,3,"bad input"]`},
		{`[2,4,"appA_heartbeat",null]`, `[4,4,4,"method not found: appA_heartbeat"]`},
	}
	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.request)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
		if got := readWS(t, conn); got != tt.want {
			t.Errorf("%s -> %s, want %s", tt.request, got, tt.want)
		}
	}
}

func TestWebSocket_NotifyBeforeAndAfterAttach(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	resp := connect(t, ts.URL, "ws")

	if n := srv.Sessions().Notify("clock_tick", 1); n != 1 {
		t.Fatalf("Notify reached %d sessions, want 1", n)
	}

	conn := dialWS(t, resp.URL)
	if got := readWS(t, conn); got != `[1,0,"clock_tick",1]` {
		t.Errorf("queued notification = %s", got)
	}

	srv.Sessions().Notify("clock_tick", 2)
	if got := readWS(t, conn); got != `[1,1,"clock_tick",2]` {
		t.Errorf("direct notification = %s", got)
	}
}

func TestWebSocket_SecondConnectionRejected(t *testing.T) {
	_, ts := newTestServer(t, nil)
	url := connect(t, ts.URL, "ws").URL
	first := dialWS(t, url)
	// A round trip guarantees the first socket is attached.
	first.WriteMessage(websocket.TextMessage, []byte(`[2,0,"appA_ping",null]`))
	readWS(t, first)

	second := dialWS(t, url)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("second connection err = %v, want policy violation close", err)
	}
}

func TestWebSocket_CloseRemovesSession(t *testing.T) {
	closed := make(chan string, 1)
	srv, ts := newTestServer(t, nil)
	srv.SetOnSessionClose(func(s *Session) { closed <- s.ID() })

	conn := dialWS(t, connect(t, ts.URL, "ws").URL)
	conn.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after socket close")
	}
	if srv.Sessions().Len() != 0 {
		t.Errorf("Sessions().Len() = %d, want 0", srv.Sessions().Len())
	}
}

func TestPoll_RequestAndAck(t *testing.T) {
	_, ts := newTestServer(t, &ServerConfig{PollTimeout: 50 * time.Millisecond})
	url := connect(t, ts.URL, "poll").URL

	status, body := postBody(t, url, `[[2,0,"appA_ping",null],[0,null]]`)
	if status != http.StatusOK || body != `[[3,0,0,"pong"]]` {
		t.Fatalf("poll = %d %s", status, body)
	}

	// Unacknowledged messages are delivered again.
	_, body = postBody(t, url, `[[0,null]]`)
	if body != `[[3,0,0,"pong"]]` {
		t.Errorf("redelivery = %s", body)
	}

	// Acknowledged messages are not; the poll times out empty.
	_, body = postBody(t, url, `[[0,0]]`)
	if body != `[]` {
		t.Errorf("after ack = %s, want []", body)
	}
}

func TestPoll_SendWithoutHeartbeatReturnsImmediately(t *testing.T) {
	_, ts := newTestServer(t, &ServerConfig{PollTimeout: time.Minute})
	url := connect(t, ts.URL, "poll").URL

	start := time.Now()
	_, body := postBody(t, url, `[[1,0,"appA_ping",null]]`)
	if body != `[]` {
		t.Errorf("body = %s, want []", body)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("send-only poll waited for the poll timeout")
	}
}

func TestPoll_LongPollWakesOnNotify(t *testing.T) {
	srv, ts := newTestServer(t, &ServerConfig{PollTimeout: 5 * time.Second})
	url := connect(t, ts.URL, "poll").URL

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.Sessions().Notify("presence_count", 3)
	}()

	_, body := postBody(t, url, `[[0,null]]`)
	if body != `[[1,0,"presence_count",3]]` {
		t.Errorf("body = %s", body)
	}
}

func TestPoll_Errors(t *testing.T) {
	_, ts := newTestServer(t, nil)
	wsURL := connect(t, ts.URL, "ws").URL
	pollURL := connect(t, ts.URL, "poll").URL

	if status, _ := postBody(t, ts.URL+"/unknown", `[[0,null]]`); status != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", status)
	}
	httpURL := "http" + strings.TrimPrefix(wsURL, "ws")
	if status, _ := postBody(t, httpURL, `[[0,null]]`); status != http.StatusBadRequest {
		t.Errorf("ws session polled status = %d, want 400", status)
	}
	if status, _ := postBody(t, pollURL, `[[9]]`); status != http.StatusBadRequest {
		t.Errorf("bad batch status = %d, want 400", status)
	}
}

func TestPoll_Disconnect(t *testing.T) {
	var closed []string
	var mu sync.Mutex
	srv, ts := newTestServer(t, nil)
	srv.SetOnSessionClose(func(s *Session) {
		mu.Lock()
		closed = append(closed, s.ID())
		mu.Unlock()
	})
	url := connect(t, ts.URL, "poll").URL

	if status, _ := postBody(t, url, `[[-1]]`); status != http.StatusOK {
		t.Errorf("disconnect status = %d", status)
	}
	if srv.Sessions().Len() != 0 {
		t.Errorf("Sessions().Len() = %d, want 0", srv.Sessions().Len())
	}
	mu.Lock()
	if len(closed) != 1 {
		t.Errorf("OnSessionClose called %d times, want 1", len(closed))
	}
	mu.Unlock()

	if status, _ := postBody(t, url, `[[0,null]]`); status != http.StatusNotFound {
		t.Errorf("poll after disconnect status = %d, want 404", status)
	}
}

func TestCall_Panic(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	url := connect(t, ts.URL, "poll").URL

	_, body := postBody(t, url, `[[2,0,"appA_explode",null],[0,null]]`)
	if body != `[[4,0,0,"internal error"]]` {
		t.Errorf("body = %s", body)
	}
	if srv.Metrics().CallPanics != 1 {
		t.Errorf("CallPanics = %d, want 1", srv.Metrics().CallPanics)
	}
}

func TestCall_RateLimit(t *testing.T) {
	srv, ts := newTestServer(t, &ServerConfig{CallRateLimit: RateLimit{RPS: 0.001, Burst: 1}})
	url := connect(t, ts.URL, "poll").URL

	_, body := postBody(t, url, `[[2,0,"appA_ping",null],[2,1,"appA_ping",null],[0,null]]`)
	want := `[[3,0,0,"pong"],[4,1,1,"rate limit exceeded"]]`
	if body != want {
		t.Errorf("body = %s, want %s", body, want)
	}
	if srv.Metrics().RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", srv.Metrics().RateLimited)
	}
}

func TestCall_RequestCarriesSession(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	url := connect(t, ts.URL, "poll").URL
	id := srv.Sessions().IDs()[0]

	_, body := postBody(t, url, `[[2,0,"appA_whoami",null],[0,null]]`)
	if body != `[[3,0,0,"`+id+`"]]` {
		t.Errorf("body = %s, want session id %s", body, id)
	}
}

func TestUse_MiddlewareOrder(t *testing.T) {
	srv, ts := newTestServer(t, nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) CallMiddleware {
		return func(next CallHandler) CallHandler {
			return func(ctx context.Context, call *Call) (any, error) {
				mu.Lock()
				order = append(order, name+":"+call.Method)
				mu.Unlock()
				return next(ctx, call)
			}
		}
	}
	srv.Use(record("outer"), record("inner"))

	url := connect(t, ts.URL, "poll").URL
	postBody(t, url, `[[2,0,"appA_ping",null],[0,null]]`)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"outer:appA_ping", "inner:appA_ping"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestHost(t *testing.T) {
	srv, ts := newTestServer(t, nil)
	connect(t, ts.URL, "poll")

	host := srv.Host()
	if host.Sessions().Len() != 1 {
		t.Errorf("Sessions().Len() = %d, want 1", host.Sessions().Len())
	}
	if got, want := strings.Join(host.Functions(), ","), strings.Join(srv.Table().Names(), ","); got != want {
		t.Errorf("Functions() = %s, want %s", got, want)
	}
	if host.Logger() == nil {
		t.Error("Logger() is nil")
	}
}

func TestReapIdle(t *testing.T) {
	srv, ts := newTestServer(t, &ServerConfig{SessionTimeout: time.Minute})
	connect(t, ts.URL, "poll")

	if n := srv.reapIdle(time.Now()); n != 0 {
		t.Errorf("reaped %d fresh sessions", n)
	}
	if n := srv.reapIdle(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("reaped %d, want 1", n)
	}
	if srv.Sessions().Len() != 0 {
		t.Errorf("Sessions().Len() = %d, want 0", srv.Sessions().Len())
	}
}

func TestStartBackgroundAndShutdown(t *testing.T) {
	srv := New(testTable(t), &ServerConfig{Address: "127.0.0.1:0"})
	handle, err := srv.StartBackground()
	if err != nil {
		t.Fatalf("StartBackground error: %v", err)
	}

	resp := connect(t, "http://"+srv.Addr().String(), "poll")
	if resp.Transport != "poll" {
		t.Errorf("Transport = %q", resp.Transport)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("serve loop did not stop")
	}
	if err := handle.Err(); err != nil {
		t.Errorf("handle.Err() = %v", err)
	}
	if srv.Sessions().Len() != 0 {
		t.Errorf("sessions left after shutdown: %d", srv.Sessions().Len())
	}
}

func TestListen_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	defer ln.Close()

	srv := New(nil, &ServerConfig{Address: ln.Addr().String()})
	_, err = srv.StartBackground()
	if !errors.Is(err, syscall.EADDRINUSE) {
		t.Errorf("err = %v, want EADDRINUSE", err)
	}

	if err := srv.Serve(); !errors.Is(err, ErrNotListening) {
		t.Errorf("Serve err = %v, want ErrNotListening", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	srv := New(nil, nil)
	if srv.config.Logger == nil {
		t.Fatal("logger not defaulted")
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	resp := connect(t, ts.URL, protocol.TransportPoll)
	if resp.Transport != protocol.TransportPoll {
		t.Errorf("transport = %q, want poll", resp.Transport)
	}
}

func TestListen_Network(t *testing.T) {
	srv := New(nil, &ServerConfig{Address: ":0", Network: "tcp4"})
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	defer srv.Shutdown(context.Background())

	addr, ok := srv.Addr().(*net.TCPAddr)
	if !ok || addr.IP.To4() == nil {
		t.Errorf("Addr() = %v, want an IPv4 listener", srv.Addr())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		trusted bool
		want    string
	}{
		{"remote v4", "192.0.2.1:1234", "", false, "192.0.2.1"},
		{"remote v6", "[2001:db8::1]:1234", "", false, "2001:db8::1"},
		{"forwarded untrusted", "192.0.2.1:1234", "198.51.100.7", false, "192.0.2.1"},
		{"forwarded trusted", "192.0.2.1:1234", "198.51.100.7, 10.0.0.1", true, "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			ip := clientIPFromRequest(r, tt.trusted)
			if ip == nil || ip.String() != tt.want {
				t.Errorf("clientIP = %v, want %s", ip, tt.want)
			}
		})
	}
}

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *ServerConfig
		wantErr bool
	}{
		{"defaults", DefaultServerConfig(), false},
		{"unknown transport", &ServerConfig{Transports: []string{"carrier-pigeon"}}, true},
		{"bad public url", &ServerConfig{PublicURL: "ftp://x"}, true},
		{"negative rate", &ServerConfig{CallRateLimit: RateLimit{RPS: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.withDefaults().Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	var nilLimiter *rateLimiter
	if !nilLimiter.allow("k", time.Now()) {
		t.Error("nil limiter must allow")
	}
	if newRateLimiter(RateLimit{}) != nil {
		t.Error("zero RPS must disable limiting")
	}

	l := newRateLimiter(RateLimit{RPS: 1, Burst: 2})
	now := time.Now()
	if !l.allow("a", now) || !l.allow("a", now) {
		t.Error("burst of 2 should allow two calls")
	}
	if l.allow("a", now) {
		t.Error("third call in the same instant should be limited")
	}
	if !l.allow("b", now) {
		t.Error("keys must not share buckets")
	}
	l.forget("a")
	if !l.allow("a", now) {
		t.Error("forgotten key should start with a full bucket")
	}
}
