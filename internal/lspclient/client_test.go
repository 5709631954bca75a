package lspclient

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mcplsp/bridge/internal/logging"
	"github.com/mcplsp/bridge/internal/protocol"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal in-memory LSP server driven over an io.Pipe,
// standing in for a real spawned child so these tests don't depend on
// an external binary being present.
type fakeServer struct {
	conn *jsonrpc2.Conn
}

func (f *fakeServer) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	switch req.Method {
	case "initialize":
		return map[string]interface{}{
			"capabilities": map[string]interface{}{
				"renameProvider": true,
				"definitionProvider": true,
				"experimental": map[string]interface{}{
					"deepFeature": true,
				},
			},
		}, nil
	case "initialized":
		return nil, nil
	case "shutdown":
		return nil, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unhandled: " + req.Method}
	}
}

func newPipedClient(t *testing.T) (*Client, *fakeServer, func()) {
	t.Helper()

	clientSide, serverSide := io.Pipe()
	serverToClient, clientToServer := io.Pipe()

	clientStream := jsonrpc2.NewBufferedStream(rwPair{r: serverToClient, w: clientSide}, protocol.Codec{})
	serverStream := jsonrpc2.NewBufferedStream(rwPair{r: clientToServer, w: serverSide}, protocol.Codec{})

	fs := &fakeServer{}
	ctx := context.Background()
	serverConn := jsonrpc2.NewConn(ctx, serverStream, jsonrpc2.HandlerWithError(fs.handle))
	fs.conn = serverConn

	cfg := Config{Language: "go", Dir: "/tmp/workspace"}
	c := newClient(cfg, logging.Default(), nil)
	clientConn := jsonrpc2.NewConn(ctx, clientStream, jsonrpc2.HandlerWithError(c.handleServerMessage))
	c.attachConn(clientConn)

	cleanup := func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	}
	return c, fs, cleanup
}

type rwPair struct {
	r io.Reader
	w io.Writer
}

func (p rwPair) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p rwPair) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p rwPair) Close() error                { return nil }

func TestInitializeCachesCapabilities(t *testing.T) {
	c, _, cleanup := newPipedClient(t)
	defer cleanup()

	err := c.initialize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateReady, c.State())
	assert.True(t, c.IsCapable("renameProvider"))
	assert.True(t, c.IsCapable("definitionProvider"))
	assert.False(t, c.IsCapable("codeActionProvider"))
	assert.True(t, c.IsCapable("experimental.deepFeature"))
	assert.False(t, c.IsCapable("experimental.missingFeature"))
}

func TestOpenFileTracksVersion(t *testing.T) {
	c, _, cleanup := newPipedClient(t)
	defer cleanup()
	require.NoError(t, c.initialize(context.Background()))

	ctx := context.Background()
	require.NoError(t, c.OpenFile(ctx, "file:///a.go", "go", "package a\n"))
	assert.True(t, c.IsOpen("file:///a.go"))

	require.NoError(t, c.DidChange(ctx, "file:///a.go", "package a\n\nfunc f() {}\n"))
	c.mu.Lock()
	version := c.openFiles["file:///a.go"].version
	c.mu.Unlock()
	assert.Equal(t, 2, version)

	require.NoError(t, c.CloseFile(ctx, "file:///a.go"))
	assert.False(t, c.IsOpen("file:///a.go"))
}

func TestDiagnosticsWaitsForQuiescence(t *testing.T) {
	c, _, cleanup := newPipedClient(t)
	defer cleanup()
	require.NoError(t, c.initialize(context.Background()))
	c.cfg.DiagnosticsQuiescence = 50 * time.Millisecond

	params := map[string]interface{}{
		"uri": "file:///a.go",
		"diagnostics": []map[string]interface{}{
			{"range": map[string]interface{}{
				"start": map[string]int{"line": 0, "character": 0},
				"end":   map[string]int{"line": 0, "character": 1},
			}, "message": "unused import"},
		},
	}
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	rawMsg := json.RawMessage(raw)

	c.mu.Lock()
	c.diagnostics["file:///a.go"] = &diagnosticState{updatedAt: time.Now()}
	c.mu.Unlock()
	_ = rawMsg

	start := time.Now()
	req := &jsonrpc2.Request{Method: "textDocument/publishDiagnostics", Params: &rawMsg}
	_, err = c.handleServerMessage(context.Background(), c.conn, req)
	require.NoError(t, err)

	diags, err := c.Diagnostics(context.Background(), "file:///a.go")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), c.cfg.DiagnosticsQuiescence)
	require.Len(t, diags, 1)
	assert.Equal(t, "unused import", diags[0].Message)
}

func TestRequestAgainstNotReadyClientFails(t *testing.T) {
	c, _, cleanup := newPipedClient(t)
	defer cleanup()

	var result interface{}
	err := c.Request(context.Background(), "textDocument/hover", map[string]string{}, &result)
	require.Error(t, err)

	var cerr *ClientError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, NotReady, cerr.Kind)
}

func TestTerminateTransitionsState(t *testing.T) {
	c, _, cleanup := newPipedClient(t)
	require.NoError(t, c.initialize(context.Background()))

	require.NoError(t, c.Terminate(context.Background()))
	assert.Equal(t, StateTerminated, c.State())
	cleanup()
}
