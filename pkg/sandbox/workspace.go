package sandbox

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// AssembleWorkDir lays out the run directory for one attempt: the extracted
// student tree first, then the assignment's main and makefile trees on top.
// Staff-provided files win on conflict so students cannot shadow the harness.
func AssembleWorkDir(dst string, layers ...string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	for _, layer := range layers {
		if layer == "" {
			continue
		}
		if _, err := os.Stat(layer); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(dst, layer); err != nil {
			return fmt.Errorf("overlay %s: %w", layer, err)
		}
	}
	return nil
}

// CleanWorkDir removes the run directory after the attempt completes.
func CleanWorkDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}

func copyTree(dst, src string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(target, path)
	})
}

func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
