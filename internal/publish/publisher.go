package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/auth"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/browser/session"
	"github.com/xkilldash9x/kleinpost/internal/config"
	"github.com/xkilldash9x/kleinpost/internal/device"
	"github.com/xkilldash9x/kleinpost/internal/form"
)

// Messages reported in PublishResult.
const (
	MsgEmptyCookie  = "empty cookie"
	MsgNoCookies    = "no cookies parsed"
	MsgPublished    = "ad published"
	MsgMissing      = "required fields missing"
	MsgUnconfirmed  = "submission not confirmed"
	defaultFormPath = "/p-anzeige-aufgeben-schritt2.html"
)

// AdStore records published ads.
type AdStore interface {
	UpsertAds(ctx context.Context, ads []schemas.Ad) error
}

// Publisher publishes ads for accounts.
type Publisher struct {
	sessions session.Runner
	pool     *device.Pool
	ads      AdStore
	site     config.SiteConfig
	cfg      config.PublishConfig
	logger   *zap.Logger

	now func() time.Time
}

// NewPublisher creates a publisher. ads may be nil.
func NewPublisher(sessions session.Runner, pool *device.Pool, ads AdStore, site config.SiteConfig, cfg config.PublishConfig, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == nil {
		pool = device.NewPool(nil, nil)
	}
	return &Publisher{
		sessions: sessions,
		pool:     pool,
		ads:      ads,
		site:     site,
		cfg:      cfg,
		logger:   logger.Named("publish"),
		now:      time.Now,
	}
}

// flowResult is what one session produced.
type flowResult struct {
	url     string
	verdict schemas.Verdict
	errors  []string
}

// Publish submits ad for account, optionally through proxy. It never returns
// an error; every failure is described by the result.
func (p *Publisher) Publish(ctx context.Context, account schemas.Account, proxy *schemas.ProxyDescriptor, ad schemas.AdContent) schemas.PublishResult {
	logger := p.logger.With(zap.String("account_id", account.ID), zap.String("title", ad.Title))

	// 1. Cookies. An empty cookie never opens a browser.
	if strings.TrimSpace(account.Cookies) == "" {
		return schemas.PublishResult{Error: MsgEmptyCookie, ErrorKind: schemas.KindAuthenticationRejected, Verdict: schemas.VerdictNone}
	}
	cookies := auth.ParseCookies(account.Cookies, p.site.CookieDomain)
	if len(cookies) == 0 {
		return schemas.PublishResult{Error: MsgNoCookies, ErrorKind: schemas.KindAuthenticationRejected, Verdict: schemas.VerdictNone}
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	// 2. Session, retried once without the proxy on a tunnel failure.
	profile := p.pool.Resolve(&account.DeviceProfile)
	run := func(ctx context.Context, px *schemas.ProxyDescriptor) (flowResult, error) {
		opts := session.Options{Profile: profile, Proxy: px, Cookies: cookies}
		return session.With(ctx, p.sessions, opts, func(ctx context.Context, page dom.Page) (flowResult, error) {
			return p.flow(ctx, page, ad, logger)
		})
	}
	var (
		out     flowResult
		retried bool
		err     error
	)
	if p.cfg.RetryWithoutProxy {
		out, retried, err = session.WithProxyFallback(ctx, logger, proxy, run)
	} else {
		out, err = run(ctx, proxy)
	}

	// 3. Result.
	res := schemas.PublishResult{RetriedWithoutProxy: retried, Verdict: schemas.VerdictNone}
	if err != nil {
		res.Error = schemas.MessageOf(err)
		res.ErrorKind = session.KindOf(err)
		var f *schemas.Failure
		if errors.As(err, &f) {
			res.MissingFields = f.Missing
		}
		res.FormErrors = out.errors
		res.URL = out.url
		logger.Warn("Ad not published.", zap.String("kind", string(res.ErrorKind)), zap.Error(err))
		return res
	}

	res.Success = true
	res.Message = MsgPublished
	res.URL = out.url
	res.Verdict = out.verdict
	logger.Info("Ad published.", zap.String("verdict", string(res.Verdict)), zap.String("url", res.URL))
	p.record(ctx, account, ad, res)
	return res
}

// flow runs inside one browser session.
func (p *Publisher) flow(ctx context.Context, page dom.Page, ad schemas.AdContent, logger *zap.Logger) (flowResult, error) {
	var out flowResult
	engine := form.New(page, p.cfg, logger, nil)

	// 1. Open the form.
	path := p.site.CreateAdPath
	if path == "" {
		path = defaultFormPath
	}
	if err := page.Navigate(ctx, strings.TrimRight(p.site.BaseURL, "/")+path); err != nil {
		return out, err
	}
	if u, err := page.URL(ctx); err == nil && auth.IsLoginURL(u, p.site.LoginFragment) {
		return out, schemas.NewFailure(schemas.KindAuthenticationRejected, "open", "redirected to login", nil)
	}
	target, err := engine.LocateForm(ctx)
	if err != nil {
		return out, err
	}
	startURL, _ := page.URL(ctx)

	// 2. Fill and check what is still missing.
	report, err := engine.FillAd(ctx, target, ad)
	if err != nil {
		return out, err
	}
	target = report.Target
	if missing := form.MissingFields(ad, report); len(missing) > 0 {
		f := schemas.NewFailure(schemas.KindFormResolutionFailure, "fill", MsgMissing, nil)
		f.Missing = missing
		out.errors = p.formErrors(ctx, page, target)
		return out, f
	}

	// 3. Options and images.
	if err := optOutDirectBuy(ctx, page, target, p.cfg.DirectBuyRetries, p.cfg.DirectBuyWait, logger); err != nil {
		return out, err
	}
	if _, err := engine.UploadImages(ctx, ad.ImagePaths); err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		logger.Warn("Image upload failed.", zap.Error(err), zap.Int("images", len(ad.ImagePaths)))
	}

	// 4. Submit.
	clicked, err := clickSubmit(ctx, page, target)
	if err != nil {
		return out, err
	}
	if !clicked {
		logger.Debug("No submit control found, submitting the form directly.")
		if _, err := page.SubmitForm(ctx, target); err != nil {
			return out, err
		}
	}

	// 5. Terminal state.
	res, err := p.settle(ctx, page, target, startURL, logger)
	out.url, out.verdict, out.errors = res.URL, res.Verdict, res.Errors
	if err != nil {
		return out, err
	}
	if res.State != StateSuccess {
		return out, schemas.NewFailure(schemas.KindPublishUnconfirmed, "confirm", MsgUnconfirmed, nil)
	}
	return out, nil
}

// settle waits for a terminal state and, failing that, walks the fallbacks:
// a direct form submit, a sweep of every frame and finally the heuristic.
func (p *Publisher) settle(ctx context.Context, page dom.Page, target dom.Target, startURL string, logger *zap.Logger) (Outcome, error) {
	detector := NewDetector(p.cfg.PollInterval, p.cfg.StateTimeout, logger)
	resubmit := resubmitter(page, target, logger)

	// 1. Await on the form target.
	out, err := detector.Await(ctx, PageSnapshotter(page, target, p.cfg.MaxFormErrors), resubmit)
	if err != nil || out.State == StateSuccess {
		return out, err
	}
	errorsSeen := len(out.Errors) > 0

	// 2. Submit the form element directly and wait again.
	if submitted, err := page.SubmitForm(ctx, target); err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	} else if submitted {
		logger.Debug("Form submitted directly after the first wait.")
		next, err := detector.Await(ctx, PageSnapshotter(page, target, p.cfg.MaxFormErrors), resubmit)
		if err != nil {
			return next, err
		}
		errorsSeen = errorsSeen || len(next.Errors) > 0
		out = merge(out, next)
		if out.State == StateSuccess {
			return out, nil
		}
	}

	// 3. Sweep every frame for an explicit success state.
	targets, err := dom.Targets(ctx, page)
	if err != nil && ctx.Err() != nil {
		return out, ctx.Err()
	}
	for _, t := range targets {
		if t == target {
			continue
		}
		snap, err := snapshotOf(ctx, page, t, p.cfg.MaxFormErrors)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		if Classify(snap) == StateSuccess {
			logger.Info("Success state found in another frame.", zap.Stringer("target", t))
			out.State, out.Verdict, out.URL = StateSuccess, schemas.VerdictConfirmedSubframe, snap.URL
			return out, nil
		}
	}

	// 4. Heuristic of last resort.
	signals, err := collectSignals(ctx, page, target, startURL, errorsSeen)
	if err != nil {
		return out, err
	}
	if Infer(signals) {
		logger.Info("Publish inferred from page signals.", zap.Any("signals", signals))
		out.State, out.Verdict = StateSuccess, schemas.VerdictInferred
		if u, err := page.URL(ctx); err == nil {
			out.URL = u
		}
		return out, nil
	}
	logger.Debug("No success signal.", zap.Any("signals", signals), zap.String("state", string(out.State)))
	return out, nil
}

// merge folds a later wait into an earlier one, keeping collected errors.
func merge(first, next Outcome) Outcome {
	if len(next.Errors) == 0 {
		next.Errors = first.Errors
	}
	next.Resubmits += first.Resubmits
	next.Snapshots += first.Snapshots
	return next
}

func (p *Publisher) formErrors(ctx context.Context, page dom.Page, target dom.Target) []string {
	errs, err := page.FormErrors(ctx, target)
	if err != nil {
		return nil
	}
	return dedupe(errs, p.cfg.MaxFormErrors)
}

// record stores the published ad. Store failures do not change the result.
func (p *Publisher) record(ctx context.Context, account schemas.Account, ad schemas.AdContent, res schemas.PublishResult) {
	if p.ads == nil {
		return
	}
	rec := schemas.Ad{
		AccountID: account.ID,
		Title:     ad.Title,
		Price:     ad.Price,
		URL:       res.URL,
		Status:    schemas.AdActive,
		UpdatedAt: p.now().UTC(),
	}
	if len(ad.ImagePaths) > 0 {
		rec.Image = ad.ImagePaths[0]
	}
	if err := p.ads.UpsertAds(session.Detach(ctx), []schemas.Ad{rec}); err != nil {
		p.logger.Error("Failed to record published ad.", zap.String("key", rec.Key()), zap.Error(err))
	}
}
