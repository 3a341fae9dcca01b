package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/wasmscope/internal/types"
)

// CreateTempProject creates a temporary watch root with the usual layout of
// a directory holding built components.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	dirs := []string{
		"components",
		"components/nested",
		"target",
	}
	for _, dir := range dirs {
		err := os.MkdirAll(filepath.Join(tempDir, dir), 0o755)
		require.NoError(t, err)
	}

	return tempDir
}

// WriteComponent writes a binary under root at the slash-separated relative
// path rel and returns the absolute path.
func WriteComponent(t *testing.T, root, rel string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	// Write then rename so watchers never observe a half-written file.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, path))
	return path
}

// RemoveComponent deletes the binary at rel under root.
func RemoveComponent(t *testing.T, root, rel string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(root, filepath.FromSlash(rel))))
}

// SampleRecord returns an analyzed record with one imported interface.
func SampleRecord(name string) *types.ComponentRecord {
	return &types.ComponentRecord{
		Name:        name,
		Path:        "/test/" + name + ".wasm",
		Description: "Sample WebAssembly component",
		State:       types.StateAnalyzed,
		FileExists:  true,
		LastSeen:    time.Now(),
		Interfaces: []types.InterfaceDescriptor{
			{
				Name:      "wasi:cli/environment",
				Direction: types.DirectionImport,
				Package:   "wasi:cli",
				Version:   "0.2.0",
				Functions: []types.FunctionSignature{
					{
						Name:    "get-arguments",
						Params:  []types.Param{},
						Results: []types.Param{{Name: "result", Type: "list<string>"}},
					},
				},
				Types: []types.TypeDef{},
			},
		},
		Dependencies: []string{"wasi:cli@0.2.0"},
		Metadata:     map[string]string{"kind": "component"},
		FileHash:     "deadbeef",
		Size:         128,
	}
}

// SecurityTestCases provides request paths that lexically escape the watch
// root on every platform.
var SecurityTestCases = struct {
	PathTraversal []string
}{
	PathTraversal: []string{
		"../../../etc/passwd",
		"/./../../etc/passwd",
		"../secret",
		"/etc/passwd",
		"nested/../../escape",
	},
}

// AssertFilePermissions checks that files have the expected permission bits.
func AssertFilePermissions(t *testing.T, path string, expectedMode os.FileMode) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)

	actualMode := info.Mode()
	require.Equal(t, expectedMode, actualMode&os.FileMode(0o777),
		"File %s has incorrect permissions: got %o, want %o",
		path, actualMode&os.FileMode(0o777), expectedMode)
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.FailNow(t, "condition not met within "+timeout.String(), msgAndArgs...)
}

