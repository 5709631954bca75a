// Command mcplsp-bridge runs the MCP/LSP refactoring bridge: it spawns
// per-language LSP child processes on demand, pools them, and exposes
// navigation/plan/apply/workspace tools over an MCP JSON-RPC connection
// on stdio (default) or WebSocket. Flag/config layout and the
// stdio-vs-network mode switch follow saibing-bingo/main.go's shape
// directly; boot now wires the bridge's own collaborators (plugin
// registry, pool registry, plan engine/applier, dispatcher) instead of
// a single embedded langserver.Handler.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcplsp/bridge/internal/astcache"
	"github.com/mcplsp/bridge/internal/auth"
	"github.com/mcplsp/bridge/internal/config"
	"github.com/mcplsp/bridge/internal/dispatcher"
	"github.com/mcplsp/bridge/internal/logging"
	"github.com/mcplsp/bridge/internal/lspadapter"
	"github.com/mcplsp/bridge/internal/lspclient"
	"github.com/mcplsp/bridge/internal/mcpserver"
	"github.com/mcplsp/bridge/internal/plan"
	"github.com/mcplsp/bridge/internal/plugin"
	"github.com/mcplsp/bridge/internal/plugin/golang"
	"github.com/mcplsp/bridge/internal/plugin/rust"
	"github.com/mcplsp/bridge/internal/pool"
	"github.com/mcplsp/bridge/internal/protocol"
	"github.com/mcplsp/bridge/internal/tools"
	"github.com/mcplsp/bridge/internal/workspace"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/willibrandon/mtlog/core"
)

// version is the version field reported in the "initialize" response.
// If you are releasing a new version: create a commit without -dev,
// tag it, then bump this string back to -dev on the next commit.
const version = "v1-dev"

var (
	mode         = flag.String("mode", "", "transport mode (stdio|websocket); overrides config and environment")
	addr         = flag.String("addr", "", "listen address (websocket mode); overrides config and environment")
	configPath   = flag.String("config", "", "path to a project-local JSON config file")
	jsonLogs     = flag.Bool("json-logs", false, "emit structured JSON log lines instead of the human-readable console format")
	printVersion = flag.Bool("version", false, "print version and exit")
	pprofAddr    = flag.String("pprof", "", "start a pprof http server (https://golang.org/pkg/net/http/pprof/)")
)

func main() {
	flag.Parse()

	if *printVersion {
		fmt.Println(version)
		return
	}

	if *pprofAddr != "" {
		go func() {
			_ = http.ListenAndServe(*pprofAddr, nil)
		}()
	}

	log := logging.New(logging.Options{JSON: *jsonLogs})

	if err := run(log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(log core.Logger) error {
	cfg := config.Default()
	cfg, err := config.LoadFile(cfg, *configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", *configPath, err)
	}
	cfg = config.ApplyEnv(cfg, os.Environ())
	if *mode != "" {
		cfg.Transport = *mode
	}
	if cfg.Transport == "websocket" && *addr != "" {
		cfg.WebSocketAddr = *addr
	}

	secret, hasSecret := config.JWTSecret(os.Environ())
	if !hasSecret {
		log.Warning("MCPLSP_JWT_SECRET not set; every workspace-scoped tool call will fail Unauthorized")
	}
	verifier := auth.NewVerifier(secret)

	plugins := plugin.NewRegistry()
	if err := plugins.Register(golang.New()); err != nil {
		return fmt.Errorf("registering go plugin: %w", err)
	}
	if err := plugins.Register(rust.New()); err != nil {
		return fmt.Errorf("registering rust plugin: %w", err)
	}

	workspaces := workspace.NewManager()
	poolLog := logging.For(log, "pool")
	pools := pool.NewRegistry(poolLog)
	for _, lc := range cfg.Languages {
		pools.Configure(pool.LanguageConfig{
			Language: lc.Language,
			ClientTemplate: lspclient.Config{
				Language:              lc.Language,
				Command:               lc.Command,
				Args:                  lc.Args,
				Env:                   envSlice(lc.Env),
				InitializationOptions: lc.InitializationOptions,
				InitializeTimeout:     time.Duration(cfg.InitializeTimeoutMS) * time.Millisecond,
				RequestTimeout:        time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
				DiagnosticsQuiescence: time.Duration(lc.DiagnosticsQuiescenceMS) * time.Millisecond,
				RestartInterval:       time.Duration(lc.RestartIntervalMinutes) * time.Minute,
			},
			MaxServersPerLanguage: cfg.Pool.MaxServersPerLanguage,
			IdleTimeout:           time.Duration(cfg.Pool.IdleTimeoutMS) * time.Millisecond,
			CrashRestartDelay:     time.Duration(cfg.Pool.CrashRestartDelayMS) * time.Millisecond,
		})
	}

	lspAdapter := lspadapter.New(pools, plugins)
	engine := &plan.Engine{
		FS:      plan.OSFileSystem{},
		Symbols: lspAdapter,
		LSP:     lspAdapter,
		Plugins: plugins,
		Log:     logging.For(log, "plan"),
	}
	cache := astcache.New()
	applier := plan.NewApplier(plan.OSFileSystem{}, lspAdapter, cache, logging.For(log, "apply"))

	d := dispatcher.New(verifier, workspaces, plugins, logging.For(log, "dispatcher"))
	tools.RegisterAll(tools.Deps{
		Dispatcher: d,
		Workspaces: workspaces,
		Plugins:    plugins,
		Pools:      pools,
		Engine:     engine,
		Applier:    applier,
		Plans:      tools.NewPlanStore(),
		ASTCache:   cache,
		Log:        logging.For(log, "tools"),
	})

	handler := mcpserver.New(d, mcpserver.ServerInfo{Name: "mcplsp-bridge", Version: version}, logging.For(log, "mcp"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	preloadRoots := make(map[string]string, len(cfg.Languages))
	for _, lc := range cfg.Languages {
		if root, ok := os.LookupEnv("MCPLSP_PRELOAD_ROOT_" + lc.Language); ok {
			preloadRoots[lc.Language] = root
		}
	}
	if len(preloadRoots) > 0 {
		go func() {
			if err := pools.Preload(ctx, preloadRoots); err != nil {
				log.Warning("pool preload: {Error}", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Information("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		pools.Shutdown(shutdownCtx)
		os.Exit(0)
	}()

	switch cfg.Transport {
	case "stdio":
		log.Information("mcplsp-bridge: reading on stdin, writing on stdout")
		stdioCtx := mcpserver.WithBearerToken(ctx, os.Getenv("MCPLSP_BEARER_TOKEN"))
		conn := jsonrpc2.NewConn(stdioCtx, jsonrpc2.NewBufferedStream(stdrwc{}, protocol.Codec{}), handler)
		<-conn.DisconnectNotify()
		log.Information("connection closed")
		return nil

	case "websocket":
		return serveWebSocket(ctx, cfg.WebSocketAddr, handler, log)

	default:
		return fmt.Errorf("invalid transport %q", cfg.Transport)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWebSocket accepts one MCP connection per upgraded WebSocket,
// wrapping it in a jsonrpc2.Stream the same way stdio's
// *jsonrpc2.BufferedStream is used, so the dispatch path downstream of
// the transport is identical regardless of which one carried the
// bytes in.
func serveWebSocket(ctx context.Context, addr string, handler *mcpserver.Handler, log core.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warning("websocket upgrade failed: {Error}", err)
			return
		}
		bearer := r.Header.Get("Authorization")
		reqCtx := mcpserver.WithBearerToken(ctx, bearer)
		jsonrpc2.NewConn(reqCtx, jsonrpc2.NewBufferedStream(&wsReadWriteCloser{conn: conn}, protocol.Codec{}), handler)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	log.Information("mcplsp-bridge: listening on {Addr} (websocket)", addr)
	return srv.ListenAndServe()
}

// wsReadWriteCloser adapts a *websocket.Conn to io.ReadWriteCloser by
// framing each jsonrpc2 write as one WebSocket text message and
// buffering partial reads across message boundaries, since
// jsonrpc2.NewBufferedStream expects a byte stream rather than a
// message-oriented transport.
type wsReadWriteCloser struct {
	conn    *websocket.Conn
	pending *bytes.Reader
}

func (w *wsReadWriteCloser) Read(p []byte) (int, error) {
	for w.pending == nil || w.pending.Len() == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.pending = bytes.NewReader(data)
	}
	return w.pending.Read(p)
}

func (w wsReadWriteCloser) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w wsReadWriteCloser) Close() error {
	return w.conn.Close()
}

func envSlice(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

type stdrwc struct{}

func (stdrwc) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdrwc) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdrwc) Close() error {
	if err := os.Stdin.Close(); err != nil {
		return err
	}
	return os.Stdout.Close()
}

var _ io.ReadWriteCloser = stdrwc{}
