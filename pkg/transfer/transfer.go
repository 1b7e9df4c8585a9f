// Package transfer moves object bodies between the hot store and local files.
package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/3leaps/annflow/pkg/provider"
)

// Download writes the object at key to dst, creating parent directories. The
// file appears at dst only once fully written. It returns the bytes written.
func Download(ctx context.Context, p provider.Provider, key, dst string) (int64, error) {
	body, size, err := p.GetObject(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	n, err := WriteFile(body, dst)
	if err != nil {
		return n, fmt.Errorf("download %s/%s: %w", p.Bucket(), key, err)
	}
	// Compare against the reported content length to catch truncated reads.
	if size >= 0 && n != size {
		_ = os.Remove(dst)
		return n, &SizeMismatchError{Key: key, Expected: size, Got: n}
	}
	return n, nil
}

// Upload puts the local file src at key.
func Upload(ctx context.Context, p provider.Provider, src, key string) (int64, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", src, err)
	}
	if err := p.PutObject(ctx, key, f, st.Size()); err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// WriteFile copies r into dst through a temp file in the same directory.
func WriteFile(r io.Reader, dst string) (int64, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".tmp.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return n, fmt.Errorf("rename temp file: %w", err)
	}
	return n, nil
}
