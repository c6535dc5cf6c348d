package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorialsite/agentgw/internal/bus"
	"github.com/memorialsite/agentgw/internal/session"
	"github.com/memorialsite/agentgw/internal/worker"
)

type runnerFunc func(ctx context.Context, prompt string) (worker.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, prompt string) (worker.Outcome, error) {
	return f(ctx, prompt)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []*bus.TurnEvent
}

func (r *eventRecorder) Publish(ev *bus.TurnEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []*bus.TurnEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*bus.TurnEvent(nil), r.events...)
}

type fixture struct {
	store  session.Store
	svc    *Service
	events *eventRecorder
	srv    *httptest.Server
}

func newFixture(t *testing.T, store session.Store, runner Runner, mutate func(*ServiceOptions, *ServerOptions)) *fixture {
	t.Helper()
	if store == nil {
		store = session.NewMemoryStore(20, 0)
	}
	events := &eventRecorder{}
	so := ServiceOptions{Store: store, Runner: runner, Events: events}
	ho := ServerOptions{Store: store}
	if mutate != nil {
		mutate(&so, &ho)
	}
	svc := NewService(so)
	ho.Service = svc
	srv := httptest.NewServer(NewServer(ho).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close()
	})
	return &fixture{store: store, svc: svc, events: events, srv: srv}
}

func echoRunner(reply string) Runner {
	return runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		return worker.Outcome{Message: reply}, nil
	})
}

func (f *fixture) post(t *testing.T, path, body string, header http.Header) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	return f.do(t, req)
}

func (f *fixture) call(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	require.NoError(t, err)
	return f.do(t, req)
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func (f *fixture) turns(t *testing.T, id string) []session.Turn {
	t.Helper()
	sess, err := f.store.GetOrCreate(context.Background(), id)
	require.NoError(t, err)
	return sess.Turns
}

func TestChatSuccessAppendsBothTurns(t *testing.T) {
	f := newFixture(t, nil, echoRunner("Welcome."), nil)

	status, body := f.post(t, "/agent/chat", `{"message":"hello"}`, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Welcome.", body["message"])
	id, _ := body["sessionId"].(string)
	require.NotEmpty(t, id)

	turns := f.turns(t, id)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "hello", turns[0].Content)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Welcome.", turns[1].Content)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, bus.StatusOK, events[0].Status)
	assert.Equal(t, bus.TransportHTTP, events[0].Transport)
	assert.Equal(t, id, events[0].SessionID)
}

func TestChatFailureKeepsOnlyUserTurn(t *testing.T) {
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		return worker.Outcome{}, &worker.ExitError{Code: 1, Stderr: "secret stack trace"}
	})
	f := newFixture(t, nil, runner, nil)

	status, body := f.post(t, "/agent/chat", `{"sessionId":"s1","message":"hello"}`, nil)
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, CodeAgentFailed, body["code"])
	assert.NotContains(t, body["error"], "secret")

	turns := f.turns(t, "s1")
	require.Len(t, turns, 1)
	assert.Equal(t, session.RoleUser, turns[0].Role)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.True(t, events[0].Failed())
}

func TestChatRecordsErrorTurnWhenEnabled(t *testing.T) {
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		return worker.Outcome{}, &worker.ExitError{Code: 2}
	})
	f := newFixture(t, nil, runner, func(so *ServiceOptions, _ *ServerOptions) {
		so.RecordErrorTurns = true
	})

	status, _ := f.post(t, "/agent/chat", `{"sessionId":"s1","message":"hello"}`, nil)
	require.Equal(t, http.StatusInternalServerError, status)

	turns := f.turns(t, "s1")
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleSystem, turns[1].Role)
	assert.Contains(t, turns[1].Content, "exited with code 2")
}

func TestChatRejectsInvalidRequests(t *testing.T) {
	var calls int32
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		atomic.AddInt32(&calls, 1)
		return worker.Outcome{Message: "x"}, nil
	})
	f := newFixture(t, nil, runner, func(so *ServiceOptions, _ *ServerOptions) {
		so.MaxMessageBytes = 64
	})

	cases := []string{
		`{"message":""}`,
		`{"message":"   "}`,
		`{"sessionId":"a b","message":"hi"}`,
		`{"sessionId":"` + strings.Repeat("x", 200) + `","message":"hi"}`,
		`{"message":"` + strings.Repeat("m", 65) + `"}`,
		`not json`,
	}
	for _, body := range cases {
		status, resp := f.post(t, "/agent/chat", body, nil)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, CodeInvalidRequest, resp["code"], body)
		assert.Equal(t, false, resp["success"], body)
	}
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Empty(t, f.events.all())
}

func TestChatHidesAgentErrorDetail(t *testing.T) {
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		return worker.Outcome{}, &worker.ParseError{Reason: "worker error: LLM call failed: API error (status 401): invalid key sk-live-123"}
	})
	f := newFixture(t, nil, runner, nil)

	status, body := f.post(t, "/agent/chat", `{"sessionId":"s1","message":"hello"}`, nil)
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeAgentFailed, body["code"])
	assert.Equal(t, msgAgentFailed, body["error"])

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Contains(t, events[0].ErrorText, "status 401")
}

func TestChatMessageLimitCappedByPromptLimit(t *testing.T) {
	var calls int32
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		atomic.AddInt32(&calls, 1)
		return worker.Outcome{Message: "x"}, nil
	})
	f := newFixture(t, nil, runner, func(so *ServiceOptions, _ *ServerOptions) {
		so.MaxMessageBytes = 4 * worker.MaxPromptBytes
	})

	_, err := f.svc.Chat(context.Background(), bus.TransportCLI, "big", strings.Repeat("m", worker.MaxPromptBytes+1))
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, atomic.LoadInt32(&calls))
	assert.Empty(t, f.turns(t, "big"))

	_, err = f.svc.Chat(context.Background(), bus.TransportCLI, "big", strings.Repeat("m", worker.MaxPromptBytes))
	require.NoError(t, err)
}

func TestChatSendsHistoryToWorker(t *testing.T) {
	var prompts []string
	runner := runnerFunc(func(_ context.Context, prompt string) (worker.Outcome, error) {
		prompts = append(prompts, prompt)
		return worker.Outcome{Message: "reply" + string(rune('0'+len(prompts)))}, nil
	})
	f := newFixture(t, nil, runner, nil)

	_, err := f.svc.Chat(context.Background(), bus.TransportCLI, "s1", "first")
	require.NoError(t, err)
	_, err = f.svc.Chat(context.Background(), bus.TransportCLI, "s1", "second")
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.Equal(t, "first", prompts[0])
	assert.Equal(t, "Previous conversation:\nUser: first\nAssistant: reply1\n\nUser: second", prompts[1])
}

func TestChatSerializesSameSession(t *testing.T) {
	var active, peak int32
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return worker.Outcome{Message: "ok"}, nil
	})
	f := newFixture(t, nil, runner, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Chat(context.Background(), bus.TransportHTTP, "shared", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	assert.Len(t, f.turns(t, "shared"), 10)
}

func TestChatRunsDifferentSessionsInParallel(t *testing.T) {
	const n = 3
	var arrived int32
	ready := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string) (worker.Outcome, error) {
		if atomic.AddInt32(&arrived, 1) == n {
			close(ready)
		}
		select {
		case <-ready:
			return worker.Outcome{Message: "ok"}, nil
		case <-time.After(5 * time.Second):
			return worker.Outcome{}, errors.New("sessions did not run in parallel")
		}
	})
	f := newFixture(t, nil, runner, nil)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Chat(context.Background(), bus.TransportHTTP, "s"+string(rune('a'+i)), "hi")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
}

func TestResetSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil, echoRunner("ok"), nil)
	_, err := f.svc.Chat(context.Background(), bus.TransportHTTP, "s1", "hi")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		status, body := f.call(t, http.MethodDelete, "/agent/session/s1")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	}
	status, body := f.call(t, http.MethodDelete, "/agent/session/never-existed")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Empty(t, f.turns(t, "s1"))
}

func TestAuthTokenGuard(t *testing.T) {
	f := newFixture(t, nil, echoRunner("ok"), func(_ *ServiceOptions, ho *ServerOptions) {
		ho.AuthToken = "s3cret"
	})

	status, body := f.call(t, http.MethodGet, "/agent/tools")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, CodeUnauthorized, body["code"])

	status, _ = f.call(t, http.MethodGet, "/agent/tools?token=s3cret")
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.post(t, "/agent/chat", `{"message":"hi"}`, http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.post(t, "/agent/chat", `{"message":"hi"}`, http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = f.call(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestDashboardEndpointsNeedDurableStore(t *testing.T) {
	f := newFixture(t, nil, echoRunner("ok"), nil)
	for _, path := range []string{"/agent/sessions", "/agent/sessions/x/history"} {
		status, body := f.call(t, http.MethodGet, path)
		assert.Equal(t, http.StatusNotImplemented, status, path)
		assert.Equal(t, CodeNotDurable, body["code"], path)
	}
	status, _ := f.call(t, http.MethodDelete, "/agent/sessions/x")
	assert.Equal(t, http.StatusNotImplemented, status)
}

func TestDashboardEndpointsWithSQLStore(t *testing.T) {
	store, err := session.OpenSQLStore(context.Background(), session.DriverSQLite, filepath.Join(t.TempDir(), "sessions.db"), 20)
	require.NoError(t, err)
	f := newFixture(t, store, echoRunner("Hello there."), nil)

	_, err = f.svc.Chat(context.Background(), bus.TransportHTTP, "abc", "hi")
	require.NoError(t, err)

	status, body := f.call(t, http.MethodGet, "/agent/sessions")
	require.Equal(t, http.StatusOK, status)
	sessions, _ := body["sessions"].([]any)
	require.Len(t, sessions, 1)

	status, body = f.call(t, http.MethodGet, "/agent/sessions/abc/history")
	require.Equal(t, http.StatusOK, status)
	turns, _ := body["turns"].([]any)
	assert.Len(t, turns, 2)

	status, body = f.call(t, http.MethodGet, "/agent/sessions/missing/history")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, CodeNotFound, body["code"])

	status, _ = f.call(t, http.MethodDelete, "/agent/sessions/abc")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.call(t, http.MethodGet, "/agent/sessions/abc/history")
	assert.Equal(t, http.StatusNotFound, status)
}

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/agent/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	first := readFrame(t, conn)
	require.Equal(t, FrameConnected, first.Type)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketChatFlow(t *testing.T) {
	f := newFixture(t, nil, echoRunner("Hi!"), nil)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "hello"}))
	assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
	resp := readFrame(t, conn)
	require.Equal(t, FrameResponse, resp.Type)
	assert.Equal(t, "Hi!", resp.Message)
	require.NotEmpty(t, resp.SessionID)

	// The connection keeps using the session when the client omits it.
	require.NoError(t, conn.WriteJSON(map[string]string{"message": "again"}))
	assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
	again := readFrame(t, conn)
	assert.Equal(t, resp.SessionID, again.SessionID)

	assert.Len(t, f.turns(t, resp.SessionID), 4)
	events := f.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, bus.TransportWebSocket, events[0].Transport)
}

func TestWebSocketProcessesMessagesInOrder(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, prompt string) (worker.Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		lines := strings.Split(prompt, "\n")
		return worker.Outcome{Message: strings.TrimPrefix(lines[len(lines)-1], "User: ")}, nil
	})
	f := newFixture(t, nil, runner, nil)
	conn := dialWS(t, f)

	msgs := []string{"one", "two", "three"}
	for _, m := range msgs {
		require.NoError(t, conn.WriteJSON(map[string]string{"sessionId": "ordered", "message": m}))
	}
	for _, m := range msgs {
		assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
		resp := readFrame(t, conn)
		require.Equal(t, FrameResponse, resp.Type)
		assert.Equal(t, m, resp.Message)
	}
}

func TestWebSocketErrorKeepsConnectionOpen(t *testing.T) {
	var calls int32
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return worker.Outcome{}, &worker.ExitError{Code: 1}
		}
		return worker.Outcome{Message: "recovered"}, nil
	})
	f := newFixture(t, nil, runner, nil)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(map[string]string{"sessionId": "s", "message": "first"}))
	assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
	assert.Equal(t, FrameError, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad := readFrame(t, conn)
	assert.Equal(t, FrameError, bad.Type)

	require.NoError(t, conn.WriteJSON(map[string]string{"sessionId": "s", "message": "second"}))
	assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
	resp := readFrame(t, conn)
	assert.Equal(t, FrameResponse, resp.Type)
	assert.Equal(t, "recovered", resp.Message)
}

func TestWebSocketFailedFirstTurnKeepsSession(t *testing.T) {
	var calls int32
	runner := runnerFunc(func(context.Context, string) (worker.Outcome, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return worker.Outcome{}, &worker.ExitError{Code: 1, Stderr: "provider said no"}
		}
		return worker.Outcome{Message: "second try"}, nil
	})
	f := newFixture(t, nil, runner, nil)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "first"}))
	assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
	failed := readFrame(t, conn)
	require.Equal(t, FrameError, failed.Type)
	require.NotEmpty(t, failed.SessionID)
	assert.Equal(t, CodeAgentFailed, failed.Code)
	assert.NotContains(t, failed.Message, "provider said no")

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "retry"}))
	assert.Equal(t, FrameThinking, readFrame(t, conn).Type)
	resp := readFrame(t, conn)
	require.Equal(t, FrameResponse, resp.Type)
	assert.Equal(t, failed.SessionID, resp.SessionID)

	turns := f.turns(t, failed.SessionID)
	require.Len(t, turns, 3)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "retry", turns[1].Content)
	assert.Equal(t, "second try", turns[2].Content)
}

func TestWebSocketCloseCancelsTurn(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string) (worker.Outcome, error) {
		close(started)
		<-ctx.Done()
		close(canceled)
		return worker.Outcome{}, &worker.ExitError{Code: -1, Reason: "canceled"}
	})
	f := newFixture(t, nil, runner, nil)
	conn := dialWS(t, f)

	require.NoError(t, conn.WriteJSON(map[string]string{"message": "long task"}))
	<-started
	conn.Close()

	select {
	case <-canceled:
	case <-time.After(5 * time.Second):
		t.Fatal("turn was not canceled after the client disconnected")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://memorial.example.org/"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/agent/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	assert.True(t, check(req("https://memorial.example.org")))
	assert.True(t, check(req("")))
	assert.False(t, check(req("https://evil.example.com")))
	assert.True(t, originChecker(nil)(req("https://anything.example")))
}

func TestComposePrompt(t *testing.T) {
	turns := []session.Turn{
		{Role: session.RoleUser, Content: "a"},
		{Role: session.RoleSystem, Content: "Agent error: boom"},
		{Role: session.RoleAssistant, Content: "b"},
		{Role: session.RoleUser, Content: "c"},
	}
	assert.Equal(t, "new", ComposePrompt(nil, "new", 1024))
	assert.Equal(t, "Previous conversation:\nUser: a\nAssistant: b\nUser: c\n\nUser: new", ComposePrompt(turns, "new", 1024))

	// Only the newest turn fits.
	limit := len("Previous conversation:\n") + len("User: c\n") + 1 + len("User: new")
	assert.Equal(t, "Previous conversation:\nUser: c\n\nUser: new", ComposePrompt(turns, "new", limit))
	assert.Equal(t, "new", ComposePrompt(turns, "new", 5))
}
