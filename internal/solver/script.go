package solver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"

	"github.com/dreamware/solvegrid/internal/logging"
)

// Script is a Solver backed by a Starlark program. The program must define
//
//	def divide(data, nodes): ...   # returns a list of task payload strings
//	def solve(data, common): ...   # returns the task result string
//	def merge(results): ...        # returns the merged result string
//
// and may set NAME to the problem type it handles. The json module is predeclared.
type Script struct {
	name    string
	file    string
	globals starlark.StringDict
	log     hclog.Logger
}

var _ Solver = (*Script)(nil)

// LoadScript reads a Starlark solver from disk. fallbackName is used when the
// script does not define NAME; if it is empty the file's base name is used.
func LoadScript(path, fallbackName string, log hclog.Logger) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	if fallbackName == "" {
		fallbackName = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return NewScript(filepath.Base(path), src, fallbackName, log)
}

// NewScript compiles and runs the top level of a Starlark solver.
func NewScript(file string, src []byte, fallbackName string, log hclog.Logger) (*Script, error) {
	s := &Script{file: file, log: logging.OrDiscard(log)}

	thread := s.thread("load")
	globals, err := starlark.ExecFile(thread, file, src, starlark.StringDict{
		"json": starlarkjson.Module,
	})
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", file, err)
	}
	globals.Freeze()

	for _, fn := range []string{"divide", "solve", "merge"} {
		if _, ok := globals[fn].(starlark.Callable); !ok {
			return nil, fmt.Errorf("script %s: missing function %s", file, fn)
		}
	}

	s.name = fallbackName
	if v, ok := globals["NAME"]; ok {
		name, ok := starlark.AsString(v)
		if !ok || name == "" {
			return nil, fmt.Errorf("script %s: NAME must be a non-empty string", file)
		}
		s.name = name
	}
	if s.name == "" {
		return nil, fmt.Errorf("script %s: no problem type name", file)
	}

	s.globals = globals
	s.log = s.log.With("solver", s.name)
	return s, nil
}

// Name returns the problem type handled by the script.
func (s *Script) Name() string { return s.name }

func (s *Script) thread(purpose string) *starlark.Thread {
	return &starlark.Thread{
		Name: s.file + ":" + purpose,
		Print: func(_ *starlark.Thread, msg string) {
			s.log.Debug("script print", "purpose", purpose, "msg", msg)
		},
	}
}

// Divide calls divide(data, nodes). Task ids are the list positions.
func (s *Script) Divide(data []byte, nodeCount int) ([]Part, error) {
	if nodeCount < 1 {
		nodeCount = 1
	}

	result, err := starlark.Call(s.thread("divide"), s.globals["divide"],
		starlark.Tuple{starlark.String(data), starlark.MakeInt(nodeCount)}, nil)
	if err != nil {
		return nil, fmt.Errorf("divide: %w", err)
	}

	iterable, ok := result.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("divide: expected a list, got %s", result.Type())
	}

	var parts []Part
	iter := iterable.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for i := uint64(0); iter.Next(&elem); i++ {
		payload, err := toBytes(elem)
		if err != nil {
			return nil, fmt.Errorf("divide: task %d: %w", i, err)
		}
		parts = append(parts, Part{TaskID: i, Data: payload})
	}
	return parts, nil
}

// Solve calls solve(data, common), cancelling the Starlark thread when the
// timeout elapses or ctx is done.
func (s *Script) Solve(ctx context.Context, data, commonData []byte, timeout time.Duration) ([]byte, error) {
	thread := s.thread("solve")

	var timedOut atomic.Bool
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			thread.Cancel("timeout")
		})
		defer timer.Stop()
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel("canceled") })
	defer stop()

	result, err := starlark.Call(thread, s.globals["solve"],
		starlark.Tuple{starlark.String(data), starlark.String(commonData)}, nil)
	if err != nil {
		if timedOut.Load() {
			return nil, ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("solve: %w", err)
	}

	out, err := toBytes(result)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	return out, nil
}

// Merge calls merge(results) with the partial results in task order.
func (s *Script) Merge(partials [][]byte) ([]byte, error) {
	elems := make([]starlark.Value, len(partials))
	for i, p := range partials {
		elems[i] = starlark.String(p)
	}

	result, err := starlark.Call(s.thread("merge"), s.globals["merge"],
		starlark.Tuple{starlark.NewList(elems)}, nil)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	out, err := toBytes(result)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	return out, nil
}

func toBytes(v starlark.Value) ([]byte, error) {
	switch v := v.(type) {
	case starlark.String:
		return []byte(string(v)), nil
	case starlark.Bytes:
		return []byte(string(v)), nil
	default:
		return nil, fmt.Errorf("expected string, got %s", v.Type())
	}
}
