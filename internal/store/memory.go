package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/kleinpost/api/schemas"
)

// Memory keeps everything in process. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	accounts map[string]schemas.Account
	proxies  map[string]schemas.Proxy
	ads      map[string]schemas.Ad
	adOrder  []string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]schemas.Account),
		proxies:  make(map[string]schemas.Proxy),
		ads:      make(map[string]schemas.Ad),
	}
}

func (m *Memory) Close() {}

// -- Accounts --

func (m *Memory) CreateAccount(ctx context.Context, a schemas.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return fmt.Errorf("account %q: %w", a.ID, ErrExists)
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) GetAccount(ctx context.Context, id string) (schemas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return schemas.Account{}, fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	return a, nil
}

// ListAccounts returns the newest accounts first.
func (m *Memory) ListAccounts(ctx context.Context) ([]schemas.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateAccountStatus(ctx context.Context, id string, status schemas.AccountStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	at := checkedAt.UTC()
	a.Status, a.LastCheck = status, &at
	m.accounts[id] = a
	return nil
}

func (m *Memory) DeleteAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return fmt.Errorf("account %q: %w", id, ErrNotFound)
	}
	delete(m.accounts, id)
	return nil
}

// -- Proxies --

func (m *Memory) CreateProxy(ctx context.Context, p schemas.Proxy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proxies[p.ID]; ok {
		return fmt.Errorf("proxy %q: %w", p.ID, ErrExists)
	}
	m.proxies[p.ID] = p
	return nil
}

func (m *Memory) GetProxy(ctx context.Context, id string) (schemas.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proxies[id]
	if !ok {
		return schemas.Proxy{}, fmt.Errorf("proxy %q: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *Memory) ListProxies(ctx context.Context) ([]schemas.Proxy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateProxyCheck(ctx context.Context, id string, result schemas.ProbeResult, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proxies[id]
	if !ok {
		return fmt.Errorf("proxy %q: %w", id, ErrNotFound)
	}
	at := checkedAt.UTC()
	p.LastCheck, p.LastResult = &at, &result
	m.proxies[id] = p
	return nil
}

func (m *Memory) DeleteProxy(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proxies[id]; !ok {
		return fmt.Errorf("proxy %q: %w", id, ErrNotFound)
	}
	delete(m.proxies, id)
	return nil
}

// -- Ads --

func (m *Memory) UpsertAds(ctx context.Context, ads []schemas.Ad) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ad := range ads {
		key := ad.Key()
		if existing, ok := m.ads[key]; ok {
			m.ads[key] = mergeAd(existing, ad)
			continue
		}
		m.ads[key] = ad
		m.adOrder = append(m.adOrder, key)
	}
	return nil
}

// ListAds returns the account's ads in insertion order.
func (m *Memory) ListAds(ctx context.Context, accountID string) ([]schemas.Ad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schemas.Ad
	for _, key := range m.adOrder {
		if ad := m.ads[key]; ad.AccountID == accountID {
			out = append(out, ad)
		}
	}
	return out, nil
}

// -- Snapshots --

// snapshot copies the current state.
func (m *Memory) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := snapshot{
		Accounts: make([]schemas.Account, 0, len(m.accounts)),
		Proxies:  make([]schemas.Proxy, 0, len(m.proxies)),
		Ads:      make([]schemas.Ad, 0, len(m.adOrder)),
	}
	for _, a := range m.accounts {
		snap.Accounts = append(snap.Accounts, a)
	}
	for _, p := range m.proxies {
		snap.Proxies = append(snap.Proxies, p)
	}
	for _, key := range m.adOrder {
		snap.Ads = append(snap.Ads, m.ads[key])
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].ID < snap.Accounts[j].ID })
	sort.Slice(snap.Proxies, func(i, j int) bool { return snap.Proxies[i].ID < snap.Proxies[j].ID })
	return snap
}

// restore replaces the state with snap. Ads that share a key are merged in
// order.
func (m *Memory) restore(snap snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]schemas.Account, len(snap.Accounts))
	m.proxies = make(map[string]schemas.Proxy, len(snap.Proxies))
	m.ads = make(map[string]schemas.Ad, len(snap.Ads))
	m.adOrder = nil
	for _, a := range snap.Accounts {
		m.accounts[a.ID] = a
	}
	for _, p := range snap.Proxies {
		m.proxies[p.ID] = p
	}
	for _, ad := range snap.Ads {
		key := ad.Key()
		if existing, ok := m.ads[key]; ok {
			m.ads[key] = mergeAd(existing, ad)
			continue
		}
		m.ads[key] = ad
		m.adOrder = append(m.adOrder, key)
	}
}
