// Package file implements provider.Provider for local directories.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/3leaps/seqorch/pkg/provider"
)

// Provider writes keys as files under BaseDir.
type Provider struct {
	baseDir string
}

var _ provider.Provider = (*Provider)(nil)

type Config struct {
	BaseDir string
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseDir) == "" {
		return fmt.Errorf("base dir is required")
	}
	return nil
}

func New(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

func (p *Provider) Close() error { return nil }

// Put writes body to a temp file beside the target and renames it into place.
func (p *Provider) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := p.fullPath(key)
	if err != nil {
		return p.wrapError("Put", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return p.wrapError("Put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".seqorch-put-*")
	if err != nil {
		return p.wrapError("Put", key, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return p.wrapError("Put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return p.wrapError("Put", key, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return p.wrapError("Put", key, err)
	}
	return nil
}

func (p *Provider) fullPath(key string) (string, error) {
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	// Prevent path traversal.
	clean := strings.TrimPrefix(filepath.Clean("/"+key), "/")
	if clean == "" || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid key path")
	}
	return filepath.Join(p.baseDir, filepath.FromSlash(clean)), nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Op: op, Provider: provider.ProviderFile, Bucket: p.baseDir, Key: key, Err: err}
	if os.IsNotExist(err) {
		wrapped.Err = provider.ErrNotFound
	}
	if os.IsPermission(err) {
		wrapped.Err = provider.ErrAccessDenied
	}
	return wrapped
}
