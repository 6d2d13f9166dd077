package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Schema is applied by EnsureSchema. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id             TEXT PRIMARY KEY,
    label          TEXT NOT NULL DEFAULT '',
    cookies        TEXT NOT NULL,
    device_profile JSONB NOT NULL DEFAULT '{}',
    proxy_id       TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    profile        JSONB NOT NULL DEFAULT '{}',
    last_check     TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS proxies (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    descriptor  JSONB NOT NULL,
    last_check  TIMESTAMPTZ,
    last_result JSONB,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS ads (
    ad_key     TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    title      TEXT NOT NULL,
    price      TEXT NOT NULL DEFAULT '',
    url        TEXT NOT NULL DEFAULT '',
    image      TEXT NOT NULL DEFAULT '',
    status     TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

const (
	sqlInsertAccount = `
        INSERT INTO accounts (id, label, cookies, device_profile, proxy_id, status, profile, last_check, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	sqlSelectAccount = `
        SELECT id, label, cookies, device_profile, proxy_id, status, profile, last_check, created_at
        FROM accounts
    `
	sqlUpdateAccountStatus = `UPDATE accounts SET status = $2, last_check = $3 WHERE id = $1;`
	sqlDeleteAccount       = `DELETE FROM accounts WHERE id = $1;`

	sqlInsertProxy = `
        INSERT INTO proxies (id, name, descriptor, last_check, last_result, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlSelectProxy = `
        SELECT id, name, descriptor, last_check, last_result, created_at
        FROM proxies
    `
	sqlUpdateProxyCheck = `UPDATE proxies SET last_check = $2, last_result = $3 WHERE id = $1;`
	sqlDeleteProxy      = `DELETE FROM proxies WHERE id = $1;`

	sqlUpsertAd = `
        INSERT INTO ads (ad_key, account_id, title, price, url, image, status, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (ad_key) DO UPDATE SET
            title = EXCLUDED.title,
            price = EXCLUDED.price,
            url = COALESCE(NULLIF(EXCLUDED.url, ''), ads.url),
            image = COALESCE(NULLIF(EXCLUDED.image, ''), ads.image),
            status = EXCLUDED.status,
            updated_at = EXCLUDED.updated_at;
    `
	sqlListAds = `
        SELECT account_id, title, price, url, image, status, updated_at
        FROM ads
        WHERE account_id = $1
        ORDER BY updated_at ASC, title ASC;
    `
)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Postgres stores records in PostgreSQL.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a new store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Postgres) Close() { s.pool.Close() }

// -- Accounts --

func (s *Postgres) CreateAccount(ctx context.Context, a schemas.Account) error {
	device, err := json.Marshal(a.DeviceProfile)
	if err != nil {
		return fmt.Errorf("failed to encode device profile: %w", err)
	}
	profile, err := json.Marshal(a.Profile)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	_, err = s.pool.Exec(ctx, sqlInsertAccount,
		a.ID, a.Label, a.Cookies, device, a.ProxyID, string(a.Status), profile, utcPtr(a.LastCheck), a.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert account %q: %w", a.ID, duplicate(err))
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, id string) (schemas.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, sqlSelectAccount+" WHERE id = $1;", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Account{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return schemas.Account{}, fmt.Errorf("failed to load account %q: %w", id, err)
	}
	return a, nil
}

func (s *Postgres) ListAccounts(ctx context.Context) ([]schemas.Account, error) {
	rows, err := s.pool.Query(ctx, sqlSelectAccount+" ORDER BY created_at DESC, id ASC;")
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []schemas.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account row: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return accounts, nil
}

func (s *Postgres) UpdateAccountStatus(ctx context.Context, id string, status schemas.AccountStatus, checkedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, sqlUpdateAccountStatus, id, string(status), checkedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to update account %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteAccount, id)
	if err != nil {
		return fmt.Errorf("failed to delete account %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (schemas.Account, error) {
	var (
		a               schemas.Account
		status          string
		device, profile []byte
	)
	if err := row.Scan(&a.ID, &a.Label, &a.Cookies, &device, &a.ProxyID, &status, &profile, &a.LastCheck, &a.CreatedAt); err != nil {
		return a, err
	}
	a.Status = schemas.AccountStatus(status)
	if len(device) > 0 {
		if err := json.Unmarshal(device, &a.DeviceProfile); err != nil {
			return a, fmt.Errorf("failed to decode device profile: %w", err)
		}
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &a.Profile); err != nil {
			return a, fmt.Errorf("failed to decode profile: %w", err)
		}
	}
	return a, nil
}

// -- Proxies --

func (s *Postgres) CreateProxy(ctx context.Context, p schemas.Proxy) error {
	descriptor, err := json.Marshal(p.Descriptor)
	if err != nil {
		return fmt.Errorf("failed to encode proxy descriptor: %w", err)
	}
	var result []byte
	if p.LastResult != nil {
		if result, err = json.Marshal(p.LastResult); err != nil {
			return fmt.Errorf("failed to encode probe result: %w", err)
		}
	}
	_, err = s.pool.Exec(ctx, sqlInsertProxy, p.ID, p.Name, descriptor, utcPtr(p.LastCheck), result, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert proxy %q: %w", p.ID, duplicate(err))
	}
	return nil
}

func (s *Postgres) GetProxy(ctx context.Context, id string) (schemas.Proxy, error) {
	p, err := scanProxy(s.pool.QueryRow(ctx, sqlSelectProxy+" WHERE id = $1;", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.Proxy{}, fmt.Errorf("proxy %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return schemas.Proxy{}, fmt.Errorf("failed to load proxy %q: %w", id, err)
	}
	return p, nil
}

func (s *Postgres) ListProxies(ctx context.Context) ([]schemas.Proxy, error) {
	rows, err := s.pool.Query(ctx, sqlSelectProxy+" ORDER BY created_at DESC, id ASC;")
	if err != nil {
		return nil, fmt.Errorf("failed to query proxies: %w", err)
	}
	defer rows.Close()

	var proxies []schemas.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy row: %w", err)
		}
		proxies = append(proxies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return proxies, nil
}

func (s *Postgres) UpdateProxyCheck(ctx context.Context, id string, result schemas.ProbeResult, checkedAt time.Time) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode probe result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sqlUpdateProxyCheck, id, checkedAt.UTC(), encoded)
	if err != nil {
		return fmt.Errorf("failed to update proxy %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proxy %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) DeleteProxy(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteProxy, id)
	if err != nil {
		return fmt.Errorf("failed to delete proxy %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("proxy %q: %w", id, ErrNotFound)
	}
	return nil
}

func scanProxy(row pgx.Row) (schemas.Proxy, error) {
	var (
		p                  schemas.Proxy
		descriptor, result []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &descriptor, &p.LastCheck, &result, &p.CreatedAt); err != nil {
		return p, err
	}
	if err := json.Unmarshal(descriptor, &p.Descriptor); err != nil {
		return p, fmt.Errorf("failed to decode proxy descriptor: %w", err)
	}
	if len(result) > 0 && string(result) != "null" {
		var r schemas.ProbeResult
		if err := json.Unmarshal(result, &r); err != nil {
			return p, fmt.Errorf("failed to decode probe result: %w", err)
		}
		p.LastResult = &r
	}
	return p, nil
}

// -- Ads --

// UpsertAds writes all ads in one transaction.
func (s *Postgres) UpsertAds(ctx context.Context, ads []schemas.Ad) error {
	if len(ads) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction.", zap.Error(rollbackErr))
		}
	}()

	for _, ad := range ads {
		if _, err := tx.Exec(ctx, sqlUpsertAd,
			ad.Key(), ad.AccountID, ad.Title, ad.Price, ad.URL, ad.Image, string(ad.Status), ad.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to upsert ad %q: %w", ad.Key(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Postgres) ListAds(ctx context.Context, accountID string) ([]schemas.Ad, error) {
	rows, err := s.pool.Query(ctx, sqlListAds, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ads: %w", err)
	}
	defer rows.Close()

	var ads []schemas.Ad
	for rows.Next() {
		var (
			ad     schemas.Ad
			status string
		)
		if err := rows.Scan(&ad.AccountID, &ad.Title, &ad.Price, &ad.URL, &ad.Image, &status, &ad.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ad row: %w", err)
		}
		ad.Status = schemas.AdStatus(status)
		ads = append(ads, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return ads, nil
}

// -- Helpers --

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// duplicate maps a unique violation onto ErrExists.
func duplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", ErrExists, err)
	}
	return err
}
