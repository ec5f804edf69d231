package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dreamware/solvegrid/internal/logging"
)

const echoScript = `
def divide(data, nodes):
    return [data]

def solve(data, common):
    return data

def merge(results):
    return results[0]
`

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// TestLoadSolvers tests building the solver registry from script files
func TestLoadSolvers(t *testing.T) {
	logger := logging.New("test", logging.Options{Level: "error"})
	dir := t.TempDir()
	echo := writeScript(t, dir, "ECHO.star", echoScript)
	sum := filepath.Join("..", "..", "solvers", "sum.star")

	tests := []struct {
		name      string
		paths     []string
		wantNames []string
		wantErr   string
	}{
		{
			name:      "named and unnamed scripts",
			paths:     []string{sum, echo},
			wantNames: []string{"ECHO", "SUM"},
		},
		{
			name:    "missing file",
			paths:   []string{filepath.Join(dir, "absent.star")},
			wantErr: "read script",
		},
		{
			name:    "duplicate problem type",
			paths:   []string{echo, writeScript(t, t.TempDir(), "ECHO.star", echoScript)},
			wantErr: "already provided",
		},
		{
			name:    "script without solve",
			paths:   []string{writeScript(t, dir, "broken.star", "def divide(d, n):\n    return [d]\n")},
			wantErr: "solve",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, err := loadSolvers(tt.paths, logger)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadSolvers: %v", err)
			}

			names := registry.Names()
			if strings.Join(names, ",") != strings.Join(tt.wantNames, ",") {
				t.Errorf("names = %v, want %v", names, tt.wantNames)
			}
		})
	}
}
