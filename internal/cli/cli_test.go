package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/memorialsite/agentgw/internal/config"
	"github.com/memorialsite/agentgw/internal/session"
	"github.com/memorialsite/agentgw/internal/worker"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("AGENTGW_HOME", home)
	t.Setenv("AGENTGW_CONFIG", filepath.Join(home, ".agentgw", "config.json"))
	t.Setenv("AGENTGW_ENV_FILE", "")
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return home
}

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout, _, err := runRootCommandSplit(t, args...)
	return strings.TrimSpace(stdout), err
}

func runRootCommandSplit(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if out != "agentgw "+version {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestConfigInitShowPath(t *testing.T) {
	home := isolateHome(t)
	t.Setenv("AGENTGW_OPENAI_API_KEY", "sk-very-secret")

	out, err := runRootCommand(t, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	want := filepath.Join(home, ".agentgw", "config.json")
	if out != want {
		t.Fatalf("expected %s, got %s", want, out)
	}

	if _, err := runRootCommand(t, "config", "init"); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(home, ".agentgw", "IDENTITY.md")); err != nil {
		t.Fatalf("expected identity scaffold: %v", err)
	}
	if _, err := runRootCommand(t, "config", "init"); err == nil {
		t.Fatal("expected second init to refuse overwriting")
	}

	out, err = runRootCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out, "sk-very-secret") {
		t.Fatal("api key leaked in config show")
	}
	var shown config.Config
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("config show is not JSON: %v", err)
	}
	if shown.Providers.OpenAI.APIKey != "********" || shown.Gateway.Port != 18890 {
		t.Fatalf("unexpected shown config %+v", shown)
	}
}

func TestSessionsCommands(t *testing.T) {
	home := isolateHome(t)
	dsn := filepath.Join(home, "sessions.db")
	t.Setenv("AGENTGW_SESSION_DRIVER", "sqlite")
	t.Setenv("AGENTGW_SESSION_DSN", dsn)

	ctx := context.Background()
	store, err := session.OpenSQLStore(ctx, session.DriverSQLite, dsn, 20)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.AppendTurn(ctx, "visitor-1", session.Turn{Role: session.RoleUser, Content: "When is the vigil?"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendTurn(ctx, "visitor-1", session.Turn{Role: session.RoleAssistant, Content: "On Friday."}); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.Close()

	out, err := runRootCommand(t, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}
	if !strings.Contains(out, "visitor-1") || !strings.Contains(out, "2 turns") {
		t.Fatalf("unexpected list output %q", out)
	}

	out, err = runRootCommand(t, "sessions", "history", "visitor-1")
	if err != nil {
		t.Fatalf("sessions history failed: %v", err)
	}
	if !strings.Contains(out, "user: When is the vigil?") || !strings.Contains(out, "assistant: On Friday.") {
		t.Fatalf("unexpected history output %q", out)
	}

	if _, err := runRootCommand(t, "sessions", "delete", "visitor-1"); err != nil {
		t.Fatalf("sessions delete failed: %v", err)
	}
	out, _ = runRootCommand(t, "sessions", "list")
	if out != "No sessions." {
		t.Fatalf("expected empty list, got %q", out)
	}
	if _, err := runRootCommand(t, "sessions", "history", "visitor-1"); err == nil {
		t.Fatal("expected history of deleted session to fail")
	}
}

func TestSessionsRequireDurableStore(t *testing.T) {
	isolateHome(t)
	t.Setenv("AGENTGW_SESSION_DRIVER", "memory")
	_, err := runRootCommand(t, "sessions", "list")
	if !errors.Is(err, session.ErrNotDurable) {
		t.Fatalf("expected ErrNotDurable, got %v", err)
	}
}

func fakeLLM(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWorkerCommandStreamsResult(t *testing.T) {
	isolateHome(t)
	llm := fakeLLM(t, "The vigil starts at 7pm.")
	t.Setenv("AGENTGW_OPENAI_API_BASE", llm.URL)
	t.Setenv("AGENTGW_OPENAI_API_KEY", "test")

	stdout, _, err := runRootCommandSplit(t, "worker", "--prompt", "When is the vigil?")
	if err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	msg, err := worker.ParseOutput([]byte(stdout), false)
	if err != nil {
		t.Fatalf("worker stdout is not strictly framed: %v\n%s", err, stdout)
	}
	if msg != "The vigil starts at 7pm." {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestWorkerCommandRequiresPrompt(t *testing.T) {
	isolateHome(t)
	workerPrompt = ""
	stdout, _, err := runRootCommandSplit(t, "worker")
	if err == nil {
		t.Fatal("expected error without --prompt")
	}
	if _, perr := worker.ParseOutput([]byte(stdout), false); perr == nil {
		t.Fatal("expected the error event to fail the run")
	}
}

func TestServeAnswersChat(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh as the worker")
	}
	home := isolateHome(t)

	cfg := config.DefaultConfig()
	cfg.Worker.Command = "/bin/sh"
	cfg.Worker.Args = []string{"-c", `printf '{"type":"result","success":true,"message":"pong"}\n'`, "sh"}
	cfg.Worker.TimeoutSeconds = 10
	cfg.Timeline.Path = filepath.Join(home, "timeline.db")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ln, io.Discard) }()
	base := "http://" + ln.Addr().String()

	resp, err := http.Post(base+"/agent/chat", "application/json", strings.NewReader(`{"message":"ping"}`))
	if err != nil {
		t.Fatalf("post chat: %v", err)
	}
	var body struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		SessionID string `json:"sessionId"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !body.Success || body.Message != "pong" || body.SessionID == "" {
		t.Fatalf("unexpected chat response %d %+v", resp.StatusCode, body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/agent/timeline")
		if err != nil {
			t.Fatalf("get timeline: %v", err)
		}
		var tl struct {
			Events []map[string]any `json:"events"`
		}
		json.NewDecoder(resp.Body).Decode(&tl)
		resp.Body.Close()
		if len(tl.Events) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn event never reached the timeline")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
