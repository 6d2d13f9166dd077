// Package form fills the marketplace's ad form. Every locator has several
// fallbacks, composed with FirstSuccess; every operation names the frame
// it targets.
package form

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
	"github.com/xkilldash9x/kleinpost/internal/config"
)

// Engine drives one page. It is not safe for concurrent use; a publish
// flow owns its engine for the lifetime of the browser session.
type Engine struct {
	page   dom.Page
	cfg    config.PublishConfig
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an engine over page. A nil rng seeds from the clock.
func New(page dom.Page, cfg config.PublishConfig, logger *zap.Logger, rng *rand.Rand) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{page: page, cfg: cfg, logger: logger.Named("form"), rng: rng}
}

// Report is what FillAd achieved.
type Report struct {
	Target     dom.Target     `json:"target"`
	Filled     map[Field]bool `json:"filled"`
	Present    map[Field]bool `json:"present"`
	AutoFilled int            `json:"autoFilled"`
}

// MissingFields lists the fields that keep the ad from being submitted:
// title, description and price must be both typed and visible in the form,
// a category must be selected, and a postal code must be typed when given.
func MissingFields(ad schemas.AdContent, r Report) []string {
	var missing []string
	for _, f := range []Field{FieldTitle, FieldDescription, FieldPrice} {
		if !r.Filled[f] || !r.Present[f] {
			missing = append(missing, string(f))
		}
	}
	if !r.Present[FieldCategory] {
		missing = append(missing, string(FieldCategory))
	}
	if ad.PostalCode != "" && !r.Filled[FieldPostalCode] {
		missing = append(missing, string(FieldPostalCode))
	}
	return missing
}

// FillAd selects the category and fills every field of ad into the form at
// formTarget. The returned report reflects the form after the last step;
// its Target is where the form was found last, which changes when the
// category flow reloads the page.
func (e *Engine) FillAd(ctx context.Context, formTarget dom.Target, ad schemas.AdContent) (Report, error) {
	report := Report{Target: formTarget, Filled: make(map[Field]bool)}

	// 1. Category. A category URL navigates away and back, so the form is located again.
	if ad.CategoryURL != "" {
		if _, err := e.SelectCategory(ctx, formTarget, ad); err != nil {
			return report, err
		}
		relocated, err := e.LocateForm(ctx)
		if err != nil {
			return report, err
		}
		report.Target = relocated
		formTarget = relocated
	}

	// 2. Free-text fields.
	steps := []struct {
		loc   FieldLocator
		value string
	}{
		{titleLocator, ad.Title},
		{descriptionLocator, ad.Description},
		{priceLocator, ad.Price},
		{postalLocator, ad.PostalCode},
	}
	for _, step := range steps {
		ok, err := e.Fill(ctx, formTarget, step.loc, step.value)
		if err != nil {
			return report, err
		}
		report.Filled[step.loc.Field] = ok
		if err := e.pause(ctx, e.cfg.PostFillPauseMin, e.cfg.PostFillPauseMax); err != nil {
			return report, err
		}
	}

	// 3. Category by identifier, once the rest of the form has rendered.
	if ad.CategoryURL == "" && ad.CategoryID != "" {
		if _, err := e.SelectCategory(ctx, formTarget, ad); err != nil {
			return report, err
		}
	}

	// 4. Required controls the ad does not describe.
	n, err := e.SatisfyRequired(ctx, formTarget)
	if err != nil {
		return report, err
	}
	report.AutoFilled = n

	// 5. Confirm what the form now shows, on the form frame and the page.
	targets := []dom.Target{formTarget}
	if !formTarget.IsTop() {
		targets = append(targets, dom.Top)
	}
	report.Present = e.RequiredState(ctx, targets...)
	return report, ctx.Err()
}

// FillField types value into the first of selectors present in target.
// A blank value fills nothing.
func (e *Engine) FillField(ctx context.Context, t dom.Target, selectors []string, value string) (bool, error) {
	if isBlank(value) {
		return false, nil
	}
	_, ok, err := e.fillFirst(ctx, t, selectors, value, nil)
	return ok, err
}

// FillByLabel types value into the control labelled with one of labels.
func (e *Engine) FillByLabel(ctx context.Context, t dom.Target, labels []string, value string) (bool, error) {
	if isBlank(value) {
		return false, nil
	}
	_, ok, err := e.fillLabelled(ctx, t, labels, value, nil)
	return ok, err
}

// Fill tries the selector, label and attribute strategies of loc in turn.
// Prices must read back with the same digits before a strategy counts.
func (e *Engine) Fill(ctx context.Context, t dom.Target, loc FieldLocator, value string) (bool, error) {
	if isBlank(value) {
		return false, nil
	}
	var verify verifier
	if loc.Field == FieldPrice {
		verify = e.digitsMatch(value)
	}

	strategies := []Strategy[string]{
		{Name: "selector", Run: func(ctx context.Context) (string, bool, error) {
			return e.fillFirst(ctx, t, loc.Selectors, value, verify)
		}},
		{Name: "label", Run: func(ctx context.Context) (string, bool, error) {
			return e.fillLabelled(ctx, t, loc.Labels, value, verify)
		}},
		{Name: "attribute", Run: func(ctx context.Context) (string, bool, error) {
			if len(loc.Keywords) == 0 {
				return "", false, nil
			}
			sel, found, err := e.page.FindByAttribute(ctx, t, loc.Keywords)
			if err != nil || !found {
				return "", false, err
			}
			return e.fillAt(ctx, t, sel, value, verify)
		}},
	}
	if loc.Field == FieldPrice {
		strategies = append(strategies, Strategy[string]{Name: "direct", Run: func(ctx context.Context) (string, bool, error) {
			return e.setIfExists(ctx, t, microFrontendPrice, value, verify)
		}})
	}

	sel, strategy, err := FirstSuccess(ctx, strategies...)
	if errors.Is(err, ErrExhausted) {
		e.logger.Debug("Field could not be filled.", zap.String("field", string(loc.Field)), zap.Stringer("target", t), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.logger.Debug("Field filled.", zap.String("field", string(loc.Field)), zap.String("strategy", strategy), zap.String("selector", sel))
	return true, nil
}

// SelectCategory applies the ad's category. A category URL goes through the
// site's category picker; a category id is written into the form directly.
func (e *Engine) SelectCategory(ctx context.Context, formTarget dom.Target, ad schemas.AdContent) (bool, error) {
	switch {
	case ad.CategoryURL != "":
		_, via, err := FirstSuccess(ctx,
			Strategy[struct{}]{Name: "link", Run: func(ctx context.Context) (struct{}, bool, error) {
				for _, sel := range categoryOpenSelectors {
					ok, err := e.page.Exists(ctx, dom.Top, sel)
					if err != nil {
						return struct{}{}, false, err
					}
					if ok {
						return struct{}{}, true, e.page.Click(ctx, dom.Top, sel)
					}
				}
				return struct{}{}, false, nil
			}},
			Strategy[struct{}]{Name: "text", Run: func(ctx context.Context) (struct{}, bool, error) {
				ok, err := e.page.ClickByText(ctx, dom.Top, categoryOpenTexts)
				return struct{}{}, ok, err
			}},
		)
		if err != nil && !errors.Is(err, ErrExhausted) {
			return false, err
		}
		e.logger.Debug("Category picker opened.", zap.String("via", via))
		if err := e.pause(ctx, e.cfg.PostFillPauseMin, e.cfg.PostFillPauseMax); err != nil {
			return false, err
		}

		if err := e.page.Navigate(ctx, ad.CategoryURL); err != nil {
			return false, err
		}
		clicked, err := e.page.ClickByText(ctx, dom.Top, categoryContinueText)
		if err != nil || !clicked {
			return false, err
		}
		// The form reloads on step 2; proceed even if that is never observed.
		waitErr := dom.Poll(ctx, e.cfg.PollInterval, e.cfg.FormTimeout, func(ctx context.Context) (bool, error) {
			u, err := e.page.URL(ctx)
			return strings.Contains(u, "anzeige-aufgeben-schritt2"), err
		})
		if waitErr != nil && ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, nil

	case ad.CategoryID != "":
		_, ok, err := e.setFirst(ctx, formTarget, categoryIDSelectors, ad.CategoryID)
		return ok, err
	}
	return false, nil
}

// SatisfyRequired selects the first enabled choice of every required control.
func (e *Engine) SatisfyRequired(ctx context.Context, t dom.Target) (int, error) {
	n, err := e.page.SatisfyRequired(ctx, t)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Debug("Required controls auto-filled.", zap.Int("count", n), zap.Stringer("target", t))
		return n, e.pause(ctx, e.cfg.PostFillPauseMin, e.cfg.PostFillPauseMax)
	}
	return 0, nil
}

// RequiredState reports which required fields hold a value in any of
// targets. A field counts as present once one target shows it.
func (e *Engine) RequiredState(ctx context.Context, targets ...dom.Target) map[Field]bool {
	state := map[Field]bool{}
	for _, t := range targets {
		for _, loc := range []FieldLocator{titleLocator, descriptionLocator, priceLocator, categoryLocator} {
			if state[loc.Field] {
				continue
			}
			state[loc.Field] = e.hasValue(ctx, t, loc)
		}
		if !state[FieldCategory] {
			state[FieldCategory] = e.hasCategorySummary(ctx, t)
		}
	}
	return state
}

// LocateForm waits for the ad form, looking in subframes before the page.
func (e *Engine) LocateForm(ctx context.Context) (dom.Target, error) {
	var found dom.Target
	err := dom.Poll(ctx, e.cfg.PollInterval, e.cfg.FormTimeout, func(ctx context.Context) (bool, error) {
		frames, err := e.page.Frames(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			frames = nil
		}
		for _, t := range append(frames, dom.Top) {
			for _, sel := range formMarkers {
				ok, err := e.page.Exists(ctx, t, sel)
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return false, err
					}
					break
				}
				if ok {
					found = t
					return true, nil
				}
			}
		}
		return false, nil
	})
	if errors.Is(err, dom.ErrPollTimeout) {
		return dom.Top, schemas.NewFailure(schemas.KindFormResolutionFailure, "locate", "ad form not found on the page", nil)
	}
	if err != nil {
		return dom.Top, err
	}
	e.logger.Debug("Ad form located.", zap.Stringer("target", found))
	return found, nil
}

// UploadImages attaches paths to the page's file input.
func (e *Engine) UploadImages(ctx context.Context, paths []string) (bool, error) {
	if len(paths) == 0 {
		return false, nil
	}
	ok, err := e.page.Exists(ctx, dom.Top, imageInputSelector)
	if err != nil || !ok {
		return false, err
	}
	if err := e.page.SetFiles(ctx, dom.Top, imageInputSelector, paths); err != nil {
		return false, err
	}
	return true, nil
}

// -- Filling primitives --

type verifier func(ctx context.Context, t dom.Target, selector string) bool

func (e *Engine) fillFirst(ctx context.Context, t dom.Target, selectors []string, value string, verify verifier) (string, bool, error) {
	for _, sel := range selectors {
		ok, err := e.page.Exists(ctx, t, sel)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		return e.fillAt(ctx, t, sel, value, verify)
	}
	return "", false, nil
}

func (e *Engine) fillLabelled(ctx context.Context, t dom.Target, labels []string, value string, verify verifier) (string, bool, error) {
	if len(labels) == 0 {
		return "", false, nil
	}
	sel, found, err := e.page.FindByLabel(ctx, t, labels)
	if err != nil || !found {
		return "", false, err
	}
	return e.fillAt(ctx, t, sel, value, verify)
}

func (e *Engine) fillAt(ctx context.Context, t dom.Target, sel, value string, verify verifier) (string, bool, error) {
	if err := e.typeInto(ctx, t, sel, value); err != nil {
		return "", false, err
	}
	if verify != nil && !verify(ctx, t, sel) {
		return "", false, nil
	}
	return sel, true, nil
}

func (e *Engine) setFirst(ctx context.Context, t dom.Target, selectors []string, value string) (string, bool, error) {
	for _, sel := range selectors {
		s, ok, err := e.setIfExists(ctx, t, sel, value, nil)
		if err != nil || ok {
			return s, ok, err
		}
	}
	return "", false, nil
}

func (e *Engine) setIfExists(ctx context.Context, t dom.Target, sel, value string, verify verifier) (string, bool, error) {
	ok, err := e.page.Exists(ctx, t, sel)
	if err != nil || !ok {
		return "", false, err
	}
	if err := e.page.SetValue(ctx, t, sel, value); err != nil {
		return "", false, err
	}
	if verify != nil && !verify(ctx, t, sel) {
		return "", false, nil
	}
	return sel, true, nil
}

// typeInto clears the control and types value one rune at a time.
func (e *Engine) typeInto(ctx context.Context, t dom.Target, sel, value string) error {
	if err := e.page.PrepareInput(ctx, t, sel); err != nil {
		return err
	}
	for _, r := range value {
		if err := e.page.InsertText(ctx, t, string(r)); err != nil {
			return err
		}
		if err := e.pause(ctx, e.cfg.TypingDelayMin, e.cfg.TypingDelayMax); err != nil {
			return err
		}
	}
	return nil
}

// digitsMatch accepts a field whose shown price equals want. Formatting and
// trailing zero cents are ignored, extra digits are not.
func (e *Engine) digitsMatch(want string) verifier {
	wantPrice := schemas.NormalizePrice(want)
	return func(ctx context.Context, t dom.Target, sel string) bool {
		got, err := e.page.Value(ctx, t, sel)
		if err != nil {
			return false
		}
		return digits(got) != "" && schemas.NormalizePrice(got) == wantPrice
	}
}

func (e *Engine) hasValue(ctx context.Context, t dom.Target, loc FieldLocator) bool {
	for _, sel := range loc.Selectors {
		if v, err := e.page.Value(ctx, t, sel); err == nil && strings.TrimSpace(v) != "" {
			return true
		}
	}
	if len(loc.Labels) > 0 {
		if sel, found, err := e.page.FindByLabel(ctx, t, loc.Labels); err == nil && found {
			if v, err := e.page.Value(ctx, t, sel); err == nil && strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

func (e *Engine) hasCategorySummary(ctx context.Context, t dom.Target) bool {
	for _, sel := range categorySummarySelectors {
		if txt, err := e.page.TextOf(ctx, t, sel); err == nil && strings.TrimSpace(txt) != "" {
			return true
		}
	}
	return false
}

// pause sleeps for a random duration in [lo, hi].
func (e *Engine) pause(ctx context.Context, lo, hi time.Duration) error {
	if hi <= 0 {
		return ctx.Err()
	}
	d := lo
	if hi > lo {
		e.mu.Lock()
		d += time.Duration(e.rng.Int63n(int64(hi - lo + 1)))
		e.mu.Unlock()
	}
	return dom.Sleep(ctx, d)
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}
