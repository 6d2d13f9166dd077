// Package store persists accounts, proxies and ad records. The default
// backend is a JSON file. Postgres backs the same interface with pgx.
package store

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is wrapped by lookups and deletes of unknown IDs.
var ErrNotFound = errors.New("not found")

// ErrExists is wrapped when a create collides with an existing ID.
var ErrExists = errors.New("already exists")

// Store is the full persistence surface. Components depend on the narrower
// interfaces they declare themselves.
type Store interface {
	CreateAccount(ctx context.Context, a schemas.Account) error
	GetAccount(ctx context.Context, id string) (schemas.Account, error)
	ListAccounts(ctx context.Context) ([]schemas.Account, error)
	UpdateAccountStatus(ctx context.Context, id string, status schemas.AccountStatus, checkedAt time.Time) error
	DeleteAccount(ctx context.Context, id string) error

	CreateProxy(ctx context.Context, p schemas.Proxy) error
	GetProxy(ctx context.Context, id string) (schemas.Proxy, error)
	ListProxies(ctx context.Context) ([]schemas.Proxy, error)
	UpdateProxyCheck(ctx context.Context, id string, result schemas.ProbeResult, checkedAt time.Time) error
	DeleteProxy(ctx context.Context, id string) error

	UpsertAds(ctx context.Context, ads []schemas.Ad) error
	ListAds(ctx context.Context, accountID string) ([]schemas.Ad, error)

	Close()
}

// mergeAd overlays incoming on existing. Empty URL and image keep the stored
// values, so a status-only update does not erase them.
func mergeAd(existing, incoming schemas.Ad) schemas.Ad {
	out := incoming
	if out.URL == "" {
		out.URL = existing.URL
	}
	if out.Image == "" {
		out.Image = existing.Image
	}
	if out.Status == "" {
		out.Status = existing.Status
	}
	return out
}
