package publish

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
)

var (
	submitPrimary   = []string{"Anzeige aufgeben"}
	submitFallbacks = []string{"Weiter", "Fortfahren", "Weiter zur Vorschau", "Weiter zur Veröffentlichung"}
)

// clickSubmit presses the submit control on target, then on the page and
// its frames. It reports whether anything was clicked.
func clickSubmit(ctx context.Context, page dom.Page, target dom.Target) (bool, error) {
	targets := []dom.Target{target}
	all, err := dom.Targets(ctx, page)
	if err != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	for _, t := range all {
		if t != target {
			targets = append(targets, t)
		}
	}

	for _, texts := range [][]string{submitPrimary, submitFallbacks} {
		for _, t := range targets {
			ok, err := page.ClickByText(ctx, t, texts)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				continue
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// resubmitter clicks submit again and falls back to submitting the form
// element directly.
func resubmitter(page dom.Page, target dom.Target, logger *zap.Logger) Resubmitter {
	return ResubmitFunc(func(ctx context.Context) error {
		ok, err := clickSubmit(ctx, page, target)
		if err != nil || ok {
			return err
		}
		submitted, err := page.SubmitForm(ctx, target)
		if err != nil {
			return err
		}
		if !submitted {
			logger.Debug("Nothing to resubmit on the preview.", zap.Stringer("target", target))
		}
		return nil
	})
}

// -- Direct-buy opt-out --

// directBuyScript unticks the direct-buy option if the form offers one.
// It reports whether a direct-buy control was found and whether opting out
// succeeded.
const directBuyScript = `(() => {
  const containers = document.querySelectorAll(
    "[data-testid*='direct-buy'], [data-testid*='direkt'], [data-testid*='direct'], [class*='direct-buy'], [class*='direkt']");
  const textOf = el => ((el.getAttribute("aria-label") || "") + " " + (el.labels && el.labels[0] ? el.labels[0].innerText : "") + " " + (el.value || "")).toLowerCase();
  let found = false, done = false;
  const handle = input => {
    found = true;
    const role = input.getAttribute("role");
    if (input.type === "checkbox" || role === "checkbox") {
      if (input.checked || input.getAttribute("aria-checked") === "true") input.click();
      done = true;
    } else if (input.type === "radio" || role === "radio") {
      if (/nein|no|false|aus/.test(textOf(input))) { input.click(); done = true; }
    }
  };
  for (const c of containers) {
    c.querySelectorAll("input[type='radio'], input[type='checkbox'], [role='radio']").forEach(handle);
  }
  document.querySelectorAll("[aria-label*='Direkt kaufen']").forEach(handle);
  return { found, done };
})()`

type directBuyState struct {
	Found bool `json:"found"`
	Done  bool `json:"done"`
}

// optOutDirectBuy disables direct-buy, trying target first and then the
// page, for up to retries attempts with wait between them. Failure is
// logged and otherwise ignored.
func optOutDirectBuy(ctx context.Context, page dom.Page, target dom.Target, retries int, wait time.Duration, logger *zap.Logger) error {
	if retries <= 0 {
		retries = 1
	}
	targets := []dom.Target{target}
	if !target.IsTop() {
		targets = append(targets, dom.Top)
	}

	var last directBuyState
	for attempt := 1; attempt <= retries; attempt++ {
		evaluated := false
		for _, t := range targets {
			var st directBuyState
			if err := page.Evaluate(ctx, t, directBuyScript, &st); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			evaluated = true
			if st.Done {
				logger.Debug("Direct-buy disabled.", zap.Stringer("target", t), zap.Int("attempt", attempt))
				return nil
			}
			last.Found = last.Found || st.Found
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// Forms without the control need no retries.
		if evaluated && !last.Found {
			logger.Debug("No direct-buy control on the form.")
			return nil
		}
		if attempt < retries {
			if err := dom.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	logger.Info("Direct-buy option could not be disabled.", zap.Bool("control_found", last.Found), zap.Int("attempts", retries))
	return nil
}
