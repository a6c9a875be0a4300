package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/PlutoLang/Language-Server/internal/compiler"
	"github.com/PlutoLang/Language-Server/internal/rpc"
	"github.com/PlutoLang/Language-Server/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakePlutocScript(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake plutoc script is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "plutoc")
	if err := os.WriteFile(path, []byte(script), 0o700); err != nil {
		t.Fatalf("write fake plutoc: %v", err)
	}
	return path
}

func newTestDispatcher(t *testing.T, script string) *Dispatcher {
	t.Helper()
	path := fakePlutocScript(t, script)
	d := compiler.NewDriver(path)
	d.TempDir = t.TempDir()
	return NewDispatcher(d, testLogger(), false)
}

func mustDispatch(t *testing.T, d *Dispatcher, sess *session.Session, raw string) ([][]byte, bool, *Error) {
	t.Helper()
	msg, err := rpc.Decode([]byte(raw))
	if err != nil {
		t.Fatalf("rpc.Decode: %v", err)
	}
	return d.Dispatch(sess, msg)
}

func TestInitializeWithoutPullCapability(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")

	frames, closeConn, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{}}}`)
	if err != nil || closeConn {
		t.Fatalf("err=%v closeConn=%v", err, closeConn)
	}
	if sess.State() != session.Initialized {
		t.Fatalf("state = %v, want Initialized", sess.State())
	}
	if sess.SupportsPullDiagnostics() {
		t.Fatal("expected no pull-diagnostics support")
	}

	var resp struct {
		Result struct {
			Capabilities map[string]any `json:"capabilities"`
		} `json:"result"`
	}
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := resp.Result.Capabilities["diagnosticProvider"]; ok {
		t.Error("diagnosticProvider should be omitted in force-push mode")
	}
	if len(frames) != 2 {
		t.Fatalf("expected response + window/showMessage notification, got %d frames", len(frames))
	}
}

func TestInitializeWithPullCapability(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")

	frames, _, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{"textDocument":{"diagnostic":{}}}}}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !sess.SupportsPullDiagnostics() {
		t.Fatal("expected pull-diagnostics support")
	}

	var resp struct {
		Result struct {
			Capabilities map[string]any `json:"capabilities"`
		} `json:"result"`
	}
	json.Unmarshal(frames[0], &resp)
	if _, ok := resp.Result.Capabilities["diagnosticProvider"]; !ok {
		t.Error("expected diagnosticProvider in pull mode")
	}
}

func TestDidOpenPushesDiagnosticsWhenNotPull(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\necho \"$2:1: boom\"\nexit 1\n")
	sess := session.New("s1")
	sess.SetState(session.Initialized)

	frames, _, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///a.lua","text":"x=1\n"}}}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected one pushed notification, got %d", len(frames))
	}

	var notif struct {
		Method string `json:"method"`
		Params struct {
			URI         string `json:"uri"`
			Diagnostics []struct {
				Message string `json:"message"`
			} `json:"diagnostics"`
		} `json:"params"`
	}
	if err := json.Unmarshal(frames[0], &notif); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if notif.Method != "textDocument/publishDiagnostics" {
		t.Errorf("method = %q", notif.Method)
	}
	if len(notif.Params.Diagnostics) != 1 || notif.Params.Diagnostics[0].Message != "boom" {
		t.Errorf("diagnostics = %+v", notif.Params.Diagnostics)
	}

	text, ok := sess.File("file:///a.lua")
	if !ok || text != "x=1\n" {
		t.Errorf("file contents = %q, %v", text, ok)
	}
}

func TestDidOpenDoesNotPushWhenPull(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")
	sess.SetState(session.Initialized)
	sess.SetSupportsPullDiagnostics(true)

	frames, _, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","method":"textDocument/didOpen","params":{"textDocument":{"uri":"file:///a.lua","text":"x=1\n"}}}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("expected no push in pull mode, got %d frames", len(frames))
	}
}

func TestDiagnosticWithoutCapabilityIsUnsupported(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")
	sess.SetState(session.Initialized)

	_, closeConn, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","id":2,"method":"textDocument/diagnostic","params":{"textDocument":{"uri":"file:///a.lua"}}}`)
	if err == nil || err.Kind != KindUnsupportedByClient {
		t.Fatalf("err = %v, want UnsupportedByClient", err)
	}
	if !closeConn {
		t.Fatal("expected UnsupportedByClient to be fatal")
	}
}

func TestDiagnosticRequest(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\necho \"$2:1: syntax error\"\nexit 1\n")
	sess := session.New("s1")
	sess.SetState(session.Initialized)
	sess.SetSupportsPullDiagnostics(true)
	sess.UpdateFile("file:///a.lua", "x=\n")

	frames, _, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","id":3,"method":"textDocument/diagnostic","params":{"textDocument":{"uri":"file:///a.lua"}}}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}

	var resp struct {
		Result struct {
			Kind  string `json:"kind"`
			Items []struct {
				Message string `json:"message"`
				Range   struct {
					End struct {
						Character int `json:"character"`
					} `json:"end"`
				} `json:"range"`
			} `json:"items"`
		} `json:"result"`
	}
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Result.Kind != "full" {
		t.Errorf("kind = %q", resp.Result.Kind)
	}
	if len(resp.Result.Items) != 1 || resp.Result.Items[0].Message != "syntax error" {
		t.Fatalf("items = %+v", resp.Result.Items)
	}
}

func TestShutdownThenExitClosesWithoutHonour(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")
	sess.SetState(session.Initialized)

	frames, closeConn, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","id":9,"method":"shutdown"}`)
	if err != nil || closeConn {
		t.Fatalf("err=%v closeConn=%v", err, closeConn)
	}
	if sess.State() != session.Shutdown {
		t.Fatalf("state = %v, want Shutdown", sess.State())
	}
	if len(frames) != 1 {
		t.Fatalf("expected empty response frame, got %d", len(frames))
	}

	_, closeConn, err = mustDispatch(t, d, sess, `{"jsonrpc":"2.0","method":"exit"}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !closeConn {
		t.Fatal("expected exit to close the connection when honour-exit is off")
	}
}

func TestUnknownMethodIsIgnored(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")

	frames, closeConn, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","id":1,"method":"textDocument/hover","params":{}}`)
	if err != nil || closeConn || frames != nil {
		t.Fatalf("frames=%v closeConn=%v err=%v", frames, closeConn, err)
	}
}

func TestNotificationNeverProducesResponse(t *testing.T) {
	d := newTestDispatcher(t, "#!/bin/sh\nexit 0\n")
	sess := session.New("s1")
	sess.SetState(session.Initialized)
	sess.SetSupportsPullDiagnostics(true)

	frames, _, err := mustDispatch(t, d, sess, `{"jsonrpc":"2.0","method":"textDocument/diagnostic","params":{"textDocument":{"uri":"file:///a.lua"}}}`)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if frames != nil {
		t.Fatalf("expected no response for notification-shaped request, got %v", frames)
	}
}
