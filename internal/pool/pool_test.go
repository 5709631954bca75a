package pool

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/mcplsp/bridge/internal/logging"
	"github.com/mcplsp/bridge/internal/lspclient"
	"github.com/mcplsp/bridge/internal/protocol"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/willibrandon/mtlog/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rwPair struct {
	r io.Reader
	w io.Writer
}

func (p rwPair) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p rwPair) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p rwPair) Close() error                { return nil }

func fakeServerHandle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	if req.Method == "initialize" {
		return map[string]interface{}{"capabilities": map[string]interface{}{}}, nil
	}
	return nil, nil
}

// fakeSpawn is a spawnFunc backed by an in-memory jsonrpc2 pipe pair
// instead of a real child process, so Pool tests exercise
// acquire/reuse/reap logic without an external LSP binary. Each call
// gets its own pipe and fake server, mirroring one spawned process.
func fakeSpawn(ctx context.Context, cfg lspclient.Config, log core.Logger, onCrash lspclient.OnCrash) (*lspclient.Client, error) {
	clientSide, serverSide := io.Pipe()
	serverToClient, clientToServer := io.Pipe()

	serverStream := jsonrpc2.NewBufferedStream(rwPair{r: clientToServer, w: serverSide}, protocol.Codec{})
	jsonrpc2.NewConn(ctx, serverStream, jsonrpc2.HandlerWithError(fakeServerHandle))

	return lspclient.Connect(ctx, cfg, rwPair{r: serverToClient, w: clientSide}, log, onCrash)
}

// failingSpawn always fails, for exercising the crash-restart backoff path.
func failingSpawn(ctx context.Context, cfg lspclient.Config, log core.Logger, onCrash lspclient.OnCrash) (*lspclient.Client, error) {
	return nil, context.DeadlineExceeded
}

func newTestPool(spawn spawnFunc) *Pool {
	return &Pool{
		cfg: LanguageConfig{
			Language:              "go",
			MaxServersPerLanguage: 1,
			IdleTimeout:           50 * time.Millisecond,
			CrashRestartDelay:     20 * time.Millisecond,
		}.withDefaults(),
		log:   logging.Default(),
		spawn: spawn,
	}
}

func TestAcquireReusesSameRoot(t *testing.T) {
	p := newTestPool(fakeSpawn)
	ctx := context.Background()

	c1, err := p.Acquire(ctx, "/workspace/a")
	require.NoError(t, err)
	require.NotNil(t, c1)

	c2, err := p.Acquire(ctx, "/workspace/a")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestAcquireSaturatedReturnsNoServerAvailable(t *testing.T) {
	p := newTestPool(fakeSpawn)
	ctx := context.Background()

	_, err := p.Acquire(ctx, "/workspace/a")
	require.NoError(t, err)

	_, err = p.Acquire(ctx, "/workspace/b")
	require.ErrorIs(t, err, ErrNoServerAvailable)
}

func TestAcquireSpawnFailureSchedulesBackoff(t *testing.T) {
	p := newTestPool(failingSpawn)
	ctx := context.Background()

	_, err := p.Acquire(ctx, "/workspace/a")
	require.Error(t, err)

	p.mu.Lock()
	require.Len(t, p.entries, 1)
	assert.Equal(t, 1, p.entries[0].failCount)
	p.mu.Unlock()
}

func TestReapRemovesIdleEntries(t *testing.T) {
	p := newTestPool(fakeSpawn)
	ctx := context.Background()

	_, err := p.Acquire(ctx, "/workspace/a")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	p.Reap()

	// reaping an idle ready client asks it to terminate asynchronously;
	// give the goroutine a moment, then confirm a fresh acquire succeeds
	// (proving the old entry no longer occupies the language's capacity).
	time.Sleep(20 * time.Millisecond)
	c2, err := p.Acquire(ctx, "/workspace/b")
	require.NoError(t, err)
	assert.NotNil(t, c2)
}

func TestStatusReportsEntries(t *testing.T) {
	p := newTestPool(fakeSpawn)
	ctx := context.Background()

	_, err := p.Acquire(ctx, "/workspace/a")
	require.NoError(t, err)

	statuses := p.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "go", statuses[0].Language)
	assert.Equal(t, "/workspace/a", statuses[0].Root)
}
