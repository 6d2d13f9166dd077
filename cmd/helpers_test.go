package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/internal/ads"
	"github.com/xkilldash9x/kleinpost/internal/auth"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom/domtest"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/category"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
	"github.com/xkilldash9x/kleinpost/internal/proxycheck"
	"github.com/xkilldash9x/kleinpost/internal/publish"
	"github.com/xkilldash9x/kleinpost/internal/service"
	"github.com/xkilldash9x/kleinpost/internal/store"
)

// -- Test Setup and Helpers --

// fakeSessions serves every session from one scripted page.
type fakeSessions struct {
	mu   sync.Mutex
	page *domtest.Page
	runs int
}

func (f *fakeSessions) Run(ctx context.Context, opts session.Options, body session.Body) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	return body(ctx, f.page)
}

// signedInPage answers like the marketplace with a working cookie set.
func signedInPage() *domtest.Page {
	page := domtest.New("about:blank")
	page.OnText = func(p *domtest.Page, _ dom.Target) string {
		if strings.Contains(p.CurrentURL, "m-nachrichten") {
			return "Nachrichten  Mein Konto  Abmelden"
		}
		return ""
	}
	page.OnEvaluate = func(dom.Target, string) (any, error) {
		return map[string]string{"name": "Profil von Erika", "email": "angemeldet als: erika@example.com"}, nil
	}
	return page
}

// loginRedirectPage sends every navigation to the login page.
func loginRedirectPage() *domtest.Page {
	page := domtest.New("about:blank")
	page.OnNavigate = func(p *domtest.Page, _ string) error {
		p.CurrentURL = "https://www.kleinanzeigen.de/m-einloggen.html"
		return nil
	}
	return page
}

// offline fails every category page request.
type offline struct{}

func (offline) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: network is unreachable")
}

// fakeFactory hands out components sharing one memory store and one
// scripted browser page. It records the config it was given.
type fakeFactory struct {
	store    *store.Memory
	sessions *fakeSessions
	err      error

	mu  sync.Mutex
	cfg config.Interface
}

func newFakeFactory(page *domtest.Page) *fakeFactory {
	return &fakeFactory{store: store.NewMemory(), sessions: &fakeSessions{page: page}}
}

func (f *fakeFactory) Create(_ context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	pool := device.NewPool(nil, nil)
	return &service.Components{
		Config:     cfg,
		Store:      f.store,
		Devices:    pool,
		Checker:    proxycheck.NewChecker(cfg.ProxyCheck(), logger),
		Auth:       auth.New(f.sessions, pool, cfg.Site(), logger, auth.WithStores(f.store, f.store)),
		Publisher:  publish.NewPublisher(f.sessions, pool, f.store, cfg.Site(), cfg.Publish(), logger),
		Categories: category.NewService(nil, offline{}, cfg.Site(), cfg.Categories(), logger),
		Ads:        ads.NewSyncer(f.sessions, pool, f.store, f.store, cfg.Site(), logger),
	}, nil
}

func (f *fakeFactory) config() config.Interface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// execute runs a fresh root command against factory and returns stdout and
// stderr separately.
func execute(t *testing.T, factory service.ComponentFactory, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand(factory)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// createTempFile writes content to a file that is removed after the test.
func createTempFile(t *testing.T, pattern, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), pattern)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
