// Package logging constructs the process-wide structured logger. Every
// component takes a core.Logger rather than reaching for a package-level
// global, the way the rest of the mtlog-based examples in this codebase's
// lineage thread a logger through constructors instead of calling log.*
// directly.
package logging

import (
	"github.com/willibrandon/mtlog"
	"github.com/willibrandon/mtlog/core"
)

// Options controls logger construction.
type Options struct {
	// Level is the minimum level that will be emitted.
	Level core.LogEventLevel
	// JSON switches the console sink to structured JSON lines instead of
	// the human-readable template renderer; useful when this process's
	// stderr is itself being scraped by a supervising tool.
	JSON bool
}

// New builds the process logger.
func New(opts Options) core.Logger {
	options := []mtlog.Option{
		mtlog.WithMinimumLevel(opts.Level),
		mtlog.WithProperty("component", "mcplsp-bridge"),
	}
	if opts.JSON {
		options = append(options, mtlog.WithConsoleProperties())
	} else {
		options = append(options, mtlog.WithConsole())
	}
	return mtlog.New(options...)
}

// Default returns an Information-level console logger, the bridge's
// default when no configuration overrides it.
func Default() core.Logger {
	return New(Options{Level: core.InformationLevel})
}

// For returns a child logger scoped to a named component, the way each
// subsystem (pool, plan engine, dispatcher) tags its own log lines.
func For(log core.Logger, component string) core.Logger {
	return log.ForContext("component", component)
}
