package cli

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// testContext returns a context canceled when the test finishes, matching
// testing.T.Context (Go 1.24+) on older toolchains.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// copyFS copies the file system fsys into dir, like os.CopyFS (Go 1.23+).
func copyFS(dir string, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(path))
		if d.IsDir() {
			return os.MkdirAll(target, 0o777)
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o666)
	})
}
