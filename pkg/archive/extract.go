// Package archive extracts submitted archives into sandbox working
// directories. Extraction is deliberately paranoid: it enforces a total
// uncompressed size cap and rejects path traversal, absolute paths and
// symlinks before any byte reaches the working directory.
package archive

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsupportedType indicates the archive extension is not accepted.
var ErrUnsupportedType = errors.New("unsupported archive type")

// ErrTooLarge indicates the uncompressed content exceeds the configured cap.
var ErrTooLarge = errors.New("archive exceeds uncompressed size cap")

// ErrUnsafePath indicates an entry would escape the extraction root.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Extract unpacks the archive at src into dest, honouring maxUncompressed as
// a total byte budget across all entries. Supported types: zip, tar, tar.gz,
// tgz and single-file gz.
func Extract(src, dest string, maxUncompressed uint64) error {
	name := strings.ToLower(src)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip(src, dest, maxUncompressed)
	case strings.HasSuffix(name, ".tar"):
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer f.Close()
		return extractTar(f, dest, maxUncompressed)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer f.Close()
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		return extractTar(gz, dest, maxUncompressed)
	case strings.HasSuffix(name, ".gz"):
		return extractGzipFile(src, dest, maxUncompressed)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Base(src))
	}
}

// securePath joins name under root, rejecting traversal and absolute paths.
func securePath(root, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty entry name", ErrUnsafePath)
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, "/") ||
		strings.HasPrefix(name, `\`) || strings.Contains(name, ":") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return target, nil
}

func writeEntry(target string, r io.Reader, budget *uint64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	// copy at most budget+1 bytes so an oversized entry is caught without
	// materialising the whole bomb
	limited := io.LimitReader(r, int64(*budget)+1)
	written, err := io.Copy(out, limited)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if uint64(written) > *budget {
		return ErrTooLarge
	}
	*budget -= uint64(written)

	return nil
}

func extractZip(src, dest string, maxUncompressed uint64) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	var declared uint64
	for _, file := range reader.File {
		declared += file.UncompressedSize64
		if declared > maxUncompressed {
			return ErrTooLarge
		}
	}

	budget := maxUncompressed
	for _, file := range reader.File {
		if file.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: symlink %q", ErrUnsafePath, file.Name)
		}

		target, err := securePath(dest, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("open zip entry: %w", err)
		}
		err = writeEntry(target, rc, &budget)
		rc.Close()
		if err != nil {
			return err
		}
	}

	return nil
}

func extractTar(r io.Reader, dest string, maxUncompressed uint64) error {
	tr := tar.NewReader(r)
	budget := maxUncompressed

	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			target, err := securePath(dest, header.Name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir: %w", err)
			}
		case tar.TypeReg:
			target, err := securePath(dest, header.Name)
			if err != nil {
				return err
			}
			if err := writeEntry(target, tr, &budget); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			return fmt.Errorf("%w: link %q", ErrUnsafePath, header.Name)
		default:
			// ignore fifos, devices and other special entries
		}
	}
}

func extractGzipFile(src, dest string, maxUncompressed uint64) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	name := strings.TrimSuffix(filepath.Base(src), ".gz")
	target, err := securePath(dest, name)
	if err != nil {
		return err
	}

	budget := maxUncompressed
	return writeEntry(target, gz, &budget)
}
