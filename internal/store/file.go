package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mitchellh/go-homedir"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// snapshot is the on-disk layout of the file backend. Ads keep their
// insertion order.
type snapshot struct {
	Accounts []schemas.Account `json:"accounts"`
	Proxies  []schemas.Proxy   `json:"proxies"`
	Ads      []schemas.Ad      `json:"ads"`
}

// File keeps the store in a single JSON document. Every mutation rewrites
// the document, so state survives between CLI invocations. It is safe for
// concurrent use within one process.
type File struct {
	path string

	mu  sync.Mutex
	mem *Memory
}

// OpenFile loads path, expanding a leading "~". A missing file yields an
// empty store; the file is created on the first write.
func OpenFile(path string) (*File, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand store path %q: %w", path, err)
	}
	f := &File{path: expanded, mem: NewMemory()}

	data, err := os.ReadFile(expanded)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read store file: %w", err)
	case len(data) == 0:
		return f, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode store file %s: %w", expanded, err)
	}
	f.mem.restore(snap)
	return f, nil
}

// Path returns the expanded file location.
func (f *File) Path() string { return f.path }

func (f *File) Close() {}

// mutate applies op to the in-memory state and writes the result. A failed
// write rolls the state back to what is on disk.
func (f *File) mutate(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	before := f.mem.snapshot()
	if err := op(); err != nil {
		return err
	}
	if err := f.write(f.mem.snapshot()); err != nil {
		f.mem.restore(before)
		return err
	}
	return nil
}

// write replaces the file through a temporary sibling. The file holds
// session cookies, so it is private to the user.
func (f *File) write(snap snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// -- Accounts --

func (f *File) CreateAccount(ctx context.Context, a schemas.Account) error {
	return f.mutate(ctx, func() error { return f.mem.CreateAccount(ctx, a) })
}

func (f *File) GetAccount(ctx context.Context, id string) (schemas.Account, error) {
	return f.mem.GetAccount(ctx, id)
}

func (f *File) ListAccounts(ctx context.Context) ([]schemas.Account, error) {
	return f.mem.ListAccounts(ctx)
}

func (f *File) UpdateAccountStatus(ctx context.Context, id string, status schemas.AccountStatus, checkedAt time.Time) error {
	return f.mutate(ctx, func() error { return f.mem.UpdateAccountStatus(ctx, id, status, checkedAt) })
}

func (f *File) DeleteAccount(ctx context.Context, id string) error {
	return f.mutate(ctx, func() error { return f.mem.DeleteAccount(ctx, id) })
}

// -- Proxies --

func (f *File) CreateProxy(ctx context.Context, p schemas.Proxy) error {
	return f.mutate(ctx, func() error { return f.mem.CreateProxy(ctx, p) })
}

func (f *File) GetProxy(ctx context.Context, id string) (schemas.Proxy, error) {
	return f.mem.GetProxy(ctx, id)
}

func (f *File) ListProxies(ctx context.Context) ([]schemas.Proxy, error) {
	return f.mem.ListProxies(ctx)
}

func (f *File) UpdateProxyCheck(ctx context.Context, id string, result schemas.ProbeResult, checkedAt time.Time) error {
	return f.mutate(ctx, func() error { return f.mem.UpdateProxyCheck(ctx, id, result, checkedAt) })
}

func (f *File) DeleteProxy(ctx context.Context, id string) error {
	return f.mutate(ctx, func() error { return f.mem.DeleteProxy(ctx, id) })
}

// -- Ads --

func (f *File) UpsertAds(ctx context.Context, ads []schemas.Ad) error {
	return f.mutate(ctx, func() error { return f.mem.UpsertAds(ctx, ads) })
}

func (f *File) ListAds(ctx context.Context, accountID string) ([]schemas.Ad, error) {
	return f.mem.ListAds(ctx, accountID)
}
