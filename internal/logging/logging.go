// Package logging builds the hclog loggers used across solvegrid.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// Options configures a root logger.
type Options struct {
	Output io.Writer // defaults to os.Stderr
	Level  string    // trace, debug, info, warn, error
	JSON   bool
}

// New returns a named root logger. Unknown levels fall back to info.
func New(name string, opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          out,
		JSONFormat:      opts.JSON,
		IncludeLocation: false,
	})
}

// OrDiscard returns l, or a logger that drops everything when l is nil.
func OrDiscard(l hclog.Logger) hclog.Logger {
	if l == nil {
		return hclog.NewNullLogger()
	}
	return l
}

// Badger adapts an hclog logger to badger's printf-style Logger interface.
type Badger struct {
	L hclog.Logger
}

func (b Badger) Errorf(format string, args ...interface{}) {
	b.L.Error(fmt.Sprintf(format, args...))
}

func (b Badger) Warningf(format string, args ...interface{}) {
	b.L.Warn(fmt.Sprintf(format, args...))
}

func (b Badger) Infof(format string, args ...interface{}) {
	b.L.Info(fmt.Sprintf(format, args...))
}

func (b Badger) Debugf(format string, args ...interface{}) {
	b.L.Debug(fmt.Sprintf(format, args...))
}
