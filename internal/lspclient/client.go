// Package lspclient owns one spawned LSP child process: its stdio pipes,
// the initialize handshake, open-file/version bookkeeping, diagnostics
// quiescence, and the restart timer. Request/response multiplexing is
// delegated to sourcegraph/jsonrpc2's *jsonrpc2.Conn — the Client wraps a
// Conn built over internal/protocol.Codec rather than re-implementing a
// pending-request table, per the spec's "contract not the mechanism"
// design note (§9).
package lspclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/mcplsp/bridge/internal/lsptypes"
	"github.com/mcplsp/bridge/internal/protocol"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/willibrandon/mtlog/core"
)

// Config configures one spawned child.
type Config struct {
	Language                string
	Command                 string
	Args                    []string
	Env                     []string
	Dir                     string
	InitializationOptions   map[string]interface{}
	InitializeTimeout       time.Duration
	RequestTimeout          time.Duration
	DiagnosticsQuiescence   time.Duration
	RestartInterval         time.Duration // 0 disables periodic restart
}

func (c Config) withDefaults() Config {
	if c.InitializeTimeout == 0 {
		c.InitializeTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.DiagnosticsQuiescence == 0 {
		c.DiagnosticsQuiescence = 300 * time.Millisecond
	}
	if c.RestartInterval != 0 && c.RestartInterval < time.Minute {
		c.RestartInterval = time.Minute
	}
	return c
}

type fileState struct {
	version int
}

type diagnosticState struct {
	version     int
	updatedAt   time.Time
	diagnostics []lsptypes.Diagnostic
}

// OnCrash is invoked exactly once when the client leaves the ready state
// unexpectedly (process exit, protocol failure) so the owning Pool can
// reap the entry and spawn a replacement on next demand.
type OnCrash func(c *Client, err error)

// Client is one child LSP process handle.
type Client struct {
	language string
	cfg      Config
	log      core.Logger
	onCrash  OnCrash

	cmd  *exec.Cmd
	conn *jsonrpc2.Conn

	mu           sync.Mutex
	state        State
	capabilities lsptypes.ServerCapabilities
	openFiles    map[string]*fileState
	diagnostics  map[string]*diagnosticState
	restartTimer *time.Timer
	draining     bool

	requestSeq int64
}

type stdioRWC struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (s stdioRWC) Read(p []byte) (int, error)  { return s.stdout.Read(p) }
func (s stdioRWC) Write(p []byte) (int, error) { return s.stdin.Write(p) }
func (s stdioRWC) Close() error {
	err1 := s.stdin.Close()
	err2 := s.stdout.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Spawn launches the child process configured by cfg, performs the
// initialize/initialized handshake, and returns a ready Client.
func Spawn(ctx context.Context, cfg Config, log core.Logger, onCrash OnCrash) (*Client, error) {
	cfg = cfg.withDefaults()

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("lspclient: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("lspclient: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("lspclient: start %s: %w", cfg.Command, err)
	}

	rwc := stdioRWC{stdin: stdin, stdout: stdout}
	client, err := connectOver(ctx, cfg, rwc, log, onCrash)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}
	client.cmd = cmd
	return client, nil
}

// Connect drives the initialize/initialized handshake over an
// already-established transport instead of spawning a process. Test
// doubles use this directly; Spawn is a thin wrapper that builds the
// child process and its stdio-backed transport before delegating here.
func Connect(ctx context.Context, cfg Config, rwc io.ReadWriteCloser, log core.Logger, onCrash OnCrash) (*Client, error) {
	return connectOver(ctx, cfg, rwc, log, onCrash)
}

func connectOver(ctx context.Context, cfg Config, rwc io.ReadWriteCloser, log core.Logger, onCrash OnCrash) (*Client, error) {
	client := newClient(cfg, log, onCrash)

	stream := jsonrpc2.NewBufferedStream(rwc, protocol.Codec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(client.handleServerMessage))
	client.attachConn(conn)

	if err := client.initialize(ctx); err != nil {
		client.mu.Lock()
		client.state = StateFailed
		client.mu.Unlock()
		_ = conn.Close()
		return nil, err
	}
	return client, nil
}

// newClient builds a Client without spawning a process, for tests that
// wire a fake in-memory conn directly via attachConn.
func newClient(cfg Config, log core.Logger, onCrash OnCrash) *Client {
	return &Client{
		language:    cfg.Language,
		cfg:         cfg.withDefaults(),
		log:         log,
		onCrash:     onCrash,
		state:       StateSpawned,
		openFiles:   make(map[string]*fileState),
		diagnostics: make(map[string]*diagnosticState),
	}
}

func (c *Client) attachConn(conn *jsonrpc2.Conn) {
	c.conn = conn
	go c.watchDisconnect()
}

func (c *Client) watchDisconnect() {
	<-c.conn.DisconnectNotify()
	c.mu.Lock()
	wasReady := c.state == StateReady
	if c.state == StateTerminating || c.state == StateTerminated {
		c.state = StateTerminated
	} else {
		c.state = StateCrashed
	}
	c.mu.Unlock()
	if wasReady && c.onCrash != nil {
		c.onCrash(c, newClientError(ConnectionLost, fmt.Errorf("child process disconnected")))
	}
}

type initializeParams struct {
	ProcessID             int                    `json:"processId"`
	RootURI               string                 `json:"rootUri,omitempty"`
	Capabilities          clientCapabilities     `json:"capabilities"`
	InitializationOptions map[string]interface{} `json:"initializationOptions,omitempty"`
}

type clientCapabilities struct {
	Workspace    workspaceClientCapabilities    `json:"workspace"`
	TextDocument textDocumentClientCapabilities `json:"textDocument"`
}

type workspaceClientCapabilities struct {
	WorkspaceEdit struct {
		DocumentChanges bool `json:"documentChanges"`
	} `json:"workspaceEdit"`
}

type textDocumentClientCapabilities struct {
	Synchronization struct {
		DidSave bool `json:"didSave"`
	} `json:"synchronization"`
	Completion struct {
		CompletionItem struct {
			SnippetSupport bool `json:"snippetSupport"`
		} `json:"completionItem"`
	} `json:"completion"`
	PublishDiagnostics struct {
		RelatedInformation bool `json:"relatedInformation"`
	} `json:"publishDiagnostics"`
	DocumentSymbol struct {
		SymbolKind struct {
			ValueSet []int `json:"valueSet"`
		} `json:"symbolKind"`
	} `json:"documentSymbol"`
}

type initializeResult struct {
	Capabilities lsptypes.ServerCapabilities `json:"capabilities"`
}

func defaultClientCapabilities() clientCapabilities {
	caps := clientCapabilities{}
	caps.Workspace.WorkspaceEdit.DocumentChanges = true
	caps.TextDocument.Synchronization.DidSave = true
	caps.TextDocument.Completion.CompletionItem.SnippetSupport = true
	caps.TextDocument.PublishDiagnostics.RelatedInformation = true
	caps.TextDocument.DocumentSymbol.SymbolKind.ValueSet = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	return caps
}

func (c *Client) initialize(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateInitializing
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.InitializeTimeout)
	defer cancel()

	params := initializeParams{
		Capabilities:          defaultClientCapabilities(),
		InitializationOptions: c.cfg.InitializationOptions,
	}
	if c.cmd != nil {
		params.RootURI = "file://" + c.cfg.Dir
	}

	var result initializeResult
	if err := c.conn.Call(ctx, "initialize", params, &result); err != nil {
		if ctx.Err() != nil {
			return newClientError(InitializeTimeout, err)
		}
		return newClientError(ProtocolError, err)
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.state = StateReady
	c.mu.Unlock()

	if err := c.conn.Notify(ctx, "initialized", struct{}{}); err != nil {
		c.log.Warning("failed to send initialized notification for {Language}: {Error}", c.language, err)
	}

	if c.cfg.RestartInterval > 0 {
		c.mu.Lock()
		c.restartTimer = time.AfterFunc(c.cfg.RestartInterval, c.scheduledRestart)
		c.mu.Unlock()
	}

	return nil
}

// Request assigns a monotonically-increasing id (delegated to the
// wrapped jsonrpc2.Conn), registers a one-shot waiter, writes the
// envelope, and suspends until a response arrives or the call times out.
func (c *Client) Request(ctx context.Context, method string, params interface{}, result interface{}) error {
	c.mu.Lock()
	state := c.state
	draining := c.draining
	c.mu.Unlock()

	if state != StateReady || draining {
		return newClientError(NotReady, fmt.Errorf("client is %s", state))
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	err := c.conn.Call(ctx, method, params, result)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return newClientError(RequestTimeout, err)
		}
		select {
		case <-c.conn.DisconnectNotify():
			return newClientError(ConnectionLost, err)
		default:
		}
		return newClientError(ProtocolError, err)
	}
	return nil
}

// Notify sends a one-way, fire-and-forget message.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	return c.conn.Notify(ctx, method, params)
}

// OpenFile sends textDocument/didOpen and begins tracking path's version.
func (c *Client) OpenFile(ctx context.Context, uri, languageID, text string) error {
	c.mu.Lock()
	c.openFiles[uri] = &fileState{version: 1}
	c.mu.Unlock()

	return c.Notify(ctx, "textDocument/didOpen", map[string]interface{}{
		"textDocument": lsptypes.TextDocumentItem{
			URI: uri, LanguageID: languageID, Version: 1, Text: text,
		},
	})
}

// CloseFile sends textDocument/didClose and stops tracking uri.
func (c *Client) CloseFile(ctx context.Context, uri string) error {
	c.mu.Lock()
	delete(c.openFiles, uri)
	c.mu.Unlock()

	return c.Notify(ctx, "textDocument/didClose", map[string]interface{}{
		"textDocument": map[string]string{"uri": uri},
	})
}

// DidChange sends a full-document textDocument/didChange and bumps the
// file's version counter. Any mutating client operation must call this
// before a request that depends on the new
// contents, per spec §4.2's ordering guarantee.
func (c *Client) DidChange(ctx context.Context, uri, newText string) error {
	c.mu.Lock()
	fs, ok := c.openFiles[uri]
	if !ok {
		fs = &fileState{version: 1}
		c.openFiles[uri] = fs
	}
	fs.version++
	version := fs.version
	c.mu.Unlock()

	return c.Notify(ctx, "textDocument/didChange", map[string]interface{}{
		"textDocument": lsptypes.VersionedTextDocumentIdentifier{URI: uri, Version: version},
		"contentChanges": []lsptypes.TextDocumentContentChangeEvent{
			{Text: newText},
		},
	})
}

// IsOpen reports whether uri is currently tracked as open.
func (c *Client) IsOpen(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.openFiles[uri]
	return ok
}

// IsCapable performs a dotted-path lookup against the cached server
// capabilities, e.g. "renameProvider" or "codeActionProvider.codeActionKinds".
func (c *Client) IsCapable(capabilityPath string) bool {
	c.mu.Lock()
	raw := c.capabilities.Raw
	rename := c.capabilities.RenameProvider
	codeAction := c.capabilities.CodeActionProvider
	defn := c.capabilities.DefinitionProvider
	refs := c.capabilities.ReferencesProvider
	c.mu.Unlock()

	switch capabilityPath {
	case "renameProvider":
		return rename != nil && rename != false
	case "codeActionProvider":
		return codeAction != nil && codeAction != false
	case "definitionProvider":
		return defn != nil && defn != false
	case "referencesProvider":
		return refs != nil && refs != false
	}
	return lookupDottedPath(raw, capabilityPath)
}

func lookupDottedPath(m map[string]interface{}, path string) bool {
	if m == nil {
		return false
	}
	cur := interface{}(m)
	for _, segment := range splitDotted(path) {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return false
		}
		v, ok := asMap[segment]
		if !ok {
			return false
		}
		cur = v
	}
	switch v := cur.(type) {
	case bool:
		return v
	case nil:
		return false
	default:
		return true
	}
}

func splitDotted(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// Diagnostics waits until the per-file diagnostic version has stabilized
// for the client's configured quiescence window, then returns the latest
// cached diagnostics for uri. This is the idle-detection read described
// in spec §4.2.
func (c *Client) Diagnostics(ctx context.Context, uri string) ([]lsptypes.Diagnostic, error) {
	window := c.cfg.DiagnosticsQuiescence
	for {
		c.mu.Lock()
		d, ok := c.diagnostics[uri]
		c.mu.Unlock()
		if !ok {
			return nil, nil
		}

		elapsed := time.Since(d.updatedAt)
		if elapsed >= window {
			return d.diagnostics, nil
		}

		select {
		case <-time.After(window - elapsed):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleServerMessage is the jsonrpc2.Handler for this Client's conn: it
// only ever sees server→client notifications (requests/responses that
// this Client itself issued are consumed internally by jsonrpc2.Conn's
// pending-request table and never reach here).
func (c *Client) handleServerMessage(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "textDocument/publishDiagnostics":
		if req.Params == nil {
			return nil, nil
		}
		var params lsptypes.PublishDiagnosticsParams
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			c.log.Warning("malformed publishDiagnostics from {Language}: {Error}", c.language, err)
			return nil, nil
		}
		c.mu.Lock()
		d, ok := c.diagnostics[params.URI]
		if !ok {
			d = &diagnosticState{}
			c.diagnostics[params.URI] = d
		}
		d.version++
		d.updatedAt = time.Now()
		d.diagnostics = params.Diagnostics
		c.mu.Unlock()
		return nil, nil
	case "window/logMessage", "window/showMessage":
		return nil, nil
	default:
		// Unsolicited server->client requests this bridge doesn't
		// implement (e.g. workspace/configuration) get a benign empty
		// response rather than a hard failure.
		return nil, nil
	}
}

// scheduledRestart implements the restart policy from spec §4.2: drain
// (refuse new requests), let in-flight requests finish or time out, then
// kill the child. The Pool spawns a replacement on next demand.
func (c *Client) scheduledRestart() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	c.log.Information("restarting LSP client for {Language} on schedule", c.language)
	time.Sleep(c.cfg.RequestTimeout)
	_ = c.Terminate(context.Background())
}

// Terminate transitions the client to terminating, waits briefly for the
// conn to close cleanly, and kills the process group if it's still alive.
func (c *Client) Terminate(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateTerminating
	timer := c.restartTimer
	c.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = killProcessGroup(c.cmd.Process.Pid)
		_ = c.cmd.Wait()
	}

	c.mu.Lock()
	c.state = StateTerminated
	c.mu.Unlock()
	return nil
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Language returns the language this client was spawned for.
func (c *Client) Language() string { return c.language }
