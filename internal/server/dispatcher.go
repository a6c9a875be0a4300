// Package server implements the LSP lifecycle state machine (spec.md
// §4.7) and the TCP listener that drives it, grounded on the teacher's
// HandleWebSocket big method switch (server/websocket.go) — generalized
// from a browser-editor's custom "type"/"payload" envelope to real
// JSON-RPC methods — and on original_source/server/server.cpp's
// recvLoop, which is the same state machine in its original, simpler
// form (no completion, no pull-vs-push negotiation, no exe: diagnostics).
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"

	"github.com/PlutoLang/Language-Server/internal/compiler"
	"github.com/PlutoLang/Language-Server/internal/completion"
	"github.com/PlutoLang/Language-Server/internal/hints"
	"github.com/PlutoLang/Language-Server/internal/rpc"
	"github.com/PlutoLang/Language-Server/internal/session"
)

// Dispatcher implements the protocol state machine: it decides, per
// incoming message, what session state to mutate and what frames (if any)
// to write back.
type Dispatcher struct {
	Driver     *compiler.Driver
	Completion *completion.Engine
	Logger     *slog.Logger
	HonourExit bool
}

// NewDispatcher wires a Dispatcher from a compiler Driver; the completion
// Engine is derived from the same driver so both share plutoc
// configuration.
func NewDispatcher(driver *compiler.Driver, logger *slog.Logger, honourExit bool) *Dispatcher {
	return &Dispatcher{
		Driver:     driver,
		Completion: completion.NewEngine(driver),
		Logger:     logger,
		HonourExit: honourExit,
	}
}

// Dispatch processes one decoded JSON-RPC message for sess and returns the
// wire-ready frame bodies (responses and/or pushed notifications) to write
// back, in order. closeConn reports that the connection must be closed
// after those frames are flushed — either because the client asked to
// exit (non-honour-exit mode) or because err is a fatal *Error.
func (d *Dispatcher) Dispatch(sess *session.Session, msg rpc.Message) (frames [][]byte, closeConn bool, err *Error) {
	switch msg.Method {
	case "initialize":
		frames, err = d.handleInitialize(sess, msg)
	case "textDocument/didOpen":
		frames, err = d.handleDidOpen(sess, msg)
	case "textDocument/didChange":
		frames, err = d.handleDidChange(sess, msg)
	case "textDocument/diagnostic":
		frames, err = d.handleDiagnostic(sess, msg)
	case "textDocument/completion":
		frames, err = d.handleCompletion(sess, msg)
	case "shutdown":
		frames, err = d.handleShutdown(sess, msg)
	case "exit":
		frames, closeConn = d.handleExit(sess, msg)
	default:
		return nil, false, nil
	}
	if err != nil && err.Fatal() {
		closeConn = true
	}
	return frames, closeConn, err
}

func (d *Dispatcher) respond(msg rpc.Message, result any) [][]byte {
	if msg.IsNotification() {
		return nil
	}
	body, err := rpc.EncodeResponse(msg.ID, result)
	if err != nil {
		d.Logger.Error("encode response", "method", msg.Method, "err", err)
		return nil
	}
	return [][]byte{body}
}

type initializeParams struct {
	Capabilities struct {
		TextDocument struct {
			Diagnostic json.RawMessage `json:"diagnostic"`
		} `json:"textDocument"`
	} `json:"capabilities"`
}

func (d *Dispatcher) handleInitialize(sess *session.Session, msg rpc.Message) ([][]byte, *Error) {
	var params initializeParams
	_ = json.Unmarshal(msg.Params, &params)

	supportsPull := params.Capabilities.TextDocument.Diagnostic != nil
	sess.SetSupportsPullDiagnostics(supportsPull)
	sess.SetState(session.Initialized)

	caps := map[string]any{
		"textDocumentSync": 1,
		"completionProvider": map[string]any{
			"triggerCharacters": []string{".", ":"},
		},
	}
	if supportsPull {
		caps["diagnosticProvider"] = true
	}

	frames := d.respond(msg, map[string]any{"capabilities": caps})

	notif, err := rpc.EncodeNotification("window/showMessage", map[string]any{
		"type":    3, // Info
		"message": "[Pluto Language Server] Socket established.",
	})
	if err == nil {
		frames = append(frames, notif)
	}
	return frames, nil
}

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type didOpenParams struct {
	TextDocument struct {
		textDocumentIdentifier
		Text string `json:"text"`
	} `json:"textDocument"`
}

func (d *Dispatcher) handleDidOpen(sess *session.Session, msg rpc.Message) ([][]byte, *Error) {
	if sess.State() == session.PreInit {
		return nil, nil
	}
	var params didOpenParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil, nil
	}
	sess.UpdateFile(params.TextDocument.URI, params.TextDocument.Text)

	if sess.SupportsPullDiagnostics() {
		return nil, nil
	}
	return d.pushDiagnostics(sess, params.TextDocument.URI), nil
}

type didChangeParams struct {
	TextDocument struct {
		textDocumentIdentifier
	} `json:"textDocument"`
	ContentChanges []struct {
		Text string `json:"text"`
	} `json:"contentChanges"`
}

func (d *Dispatcher) handleDidChange(sess *session.Session, msg rpc.Message) ([][]byte, *Error) {
	if sess.State() == session.PreInit {
		return nil, nil
	}
	var params didChangeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params.ContentChanges) == 0 {
		return nil, nil
	}
	sess.UpdateFile(params.TextDocument.URI, params.ContentChanges[0].Text)

	if sess.SupportsPullDiagnostics() {
		return nil, nil
	}
	return d.pushDiagnostics(sess, params.TextDocument.URI), nil
}

func (d *Dispatcher) pushDiagnostics(sess *session.Session, uri string) [][]byte {
	contents, _ := sess.File(uri)
	items := d.lint(contents)

	body, err := rpc.EncodeNotification("textDocument/publishDiagnostics", map[string]any{
		"uri":         uri,
		"diagnostics": items,
	})
	if err != nil {
		d.Logger.Error("encode publishDiagnostics", "uri", uri, "err", err)
		return nil
	}
	return [][]byte{body}
}

type diagnosticParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

func (d *Dispatcher) handleDiagnostic(sess *session.Session, msg rpc.Message) ([][]byte, *Error) {
	if sess.State() == session.PreInit {
		return nil, nil
	}
	if !sess.SupportsPullDiagnostics() {
		return nil, wrap(KindUnsupportedByClient, errors.New("client did not advertise textDocument/diagnostic support"))
	}

	var params diagnosticParams
	_ = json.Unmarshal(msg.Params, &params)
	contents, _ := sess.File(params.TextDocument.URI)

	items := d.lint(contents)
	return d.respond(msg, map[string]any{"kind": "full", "items": items}), nil
}

type diagnosticOut struct {
	Range    lspRange `json:"range"`
	Message  string   `json:"message"`
	Severity int      `json:"severity"`
}

// lint runs the compiler and Hint Parser over contents and returns the
// diagnostics found. Any CompilerSpawnError or UnparseableDiagnostic is
// logged and swallowed: the caller always gets a (possibly empty) list,
// per spec.md §7's policy for these two error kinds.
func (d *Dispatcher) lint(contents string) []diagnosticOut {
	out, err := d.Driver.Run(contents)
	if err != nil {
		d.Logger.Warn("compiler spawn failed", "err", err)
		return []diagnosticOut{}
	}

	parsed, err := hints.Parse(out)
	if err != nil {
		d.Logger.Warn("unparseable diagnostic output", "err", err)
	}

	items := make([]diagnosticOut, 0, len(parsed))
	for _, h := range parsed {
		diag, ok := h.(hints.Diagnostic)
		if !ok {
			continue
		}
		items = append(items, diagnosticOut{
			Range:    encodeLineRange(contents, diag.Line),
			Message:  diag.Message,
			Severity: int(diag.Severity),
		})
	}
	return items
}

type completionParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
	Position     position               `json:"position"`
}

type completionItemOut struct {
	Label  string `json:"label"`
	Kind   int    `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func (d *Dispatcher) handleCompletion(sess *session.Session, msg rpc.Message) ([][]byte, *Error) {
	if sess.State() == session.PreInit {
		return nil, nil
	}
	var params completionParams
	_ = json.Unmarshal(msg.Params, &params)
	contents, _ := sess.File(params.TextDocument.URI)

	candidates, err := d.Completion.Complete(contents, completion.Position{
		Line:      int(params.Position.Line),
		Character: params.Position.Character,
	})
	if err != nil {
		d.Logger.Warn("completion failed", "err", err)
		candidates = nil
	}

	out := make([]completionItemOut, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, completionItemOut{Label: c.Label, Kind: int(c.Kind), Detail: c.Detail})
	}
	return d.respond(msg, out), nil
}

func (d *Dispatcher) handleShutdown(sess *session.Session, msg rpc.Message) ([][]byte, *Error) {
	if sess.State() == session.PreInit {
		return nil, nil
	}
	sess.SetState(session.Shutdown)
	return d.respond(msg, nil), nil
}

func (d *Dispatcher) handleExit(sess *session.Session, msg rpc.Message) (frames [][]byte, closeConn bool) {
	if d.HonourExit {
		d.Logger.Info("exit requested, honouring", "session", sess.ID)
		os.Exit(0)
	}
	d.Logger.Info("exit requested, closing connection", "session", sess.ID)
	return nil, true
}
