package publish

import (
	"context"
	"strings"

	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
)

// Signals are indirect hints that a submission went through.
type Signals struct {
	OnForm      bool `json:"onForm"`
	OnPreview   bool `json:"onPreview"`
	HasSubmit   bool `json:"hasSubmit"`
	SuccessText bool `json:"successText"`
	AdLink      bool `json:"adLink"`
	Progress    bool `json:"progress"`
	ErrorsSeen  bool `json:"errorsSeen"`
}

// Infer is the heuristic of last resort. It never accepts a page that
// still shows the form, the preview or any error text.
func Infer(s Signals) bool {
	if s.ErrorsSeen || s.OnForm || s.OnPreview {
		return false
	}
	return !s.HasSubmit || s.SuccessText || s.AdLink || s.Progress
}

// pageSignals is what signalScript reports.
type pageSignals struct {
	HasSubmit     bool `json:"hasSubmit"`
	SubmitBusy    bool `json:"submitBusy"`
	ShadowSuccess bool `json:"shadowSuccess"`
	AdLink        bool `json:"adLink"`
}

// signalScript inspects the document, including open shadow roots.
const signalScript = `(() => {
  const hints = ["Anzeige wurde", "Anzeige ist online", "Vielen Dank", "Danke"];
  const submit = Array.from(document.querySelectorAll("button, input[type=submit]"))
    .find(b => ((b.innerText || b.value || "").trim()).includes("Anzeige aufgeben"));
  let shadow = false;
  const walk = root => {
    for (const el of root.querySelectorAll("*")) {
      if (el.shadowRoot) {
        const t = el.shadowRoot.textContent || "";
        if (hints.some(h => t.includes(h))) { shadow = true; return; }
        walk(el.shadowRoot);
      }
    }
  };
  walk(document);
  return {
    hasSubmit: !!submit,
    submitBusy: !!submit && (submit.disabled || submit.getAttribute("aria-busy") === "true"),
    shadowSuccess: shadow,
    adLink: !!document.querySelector("a[href*='/s-anzeige/'], a[href*='meine-anzeigen']"),
  };
})()`

// collectSignals reads the heuristic inputs from target. startURL is the
// form's address before submission.
func collectSignals(ctx context.Context, page dom.Page, target dom.Target, startURL string, errorsSeen bool) (Signals, error) {
	snap, err := snapshotOf(ctx, page, target, 0)
	if err != nil {
		return Signals{}, err
	}
	state := Classify(snap)

	var ps pageSignals
	if err := page.Evaluate(ctx, target, signalScript, &ps); err != nil && ctx.Err() != nil {
		return Signals{}, ctx.Err()
	}

	return Signals{
		OnForm:      state == StateForm,
		OnPreview:   state == StatePreview,
		HasSubmit:   ps.HasSubmit && !ps.SubmitBusy,
		SuccessText: ps.ShadowSuccess || containsAny(snap.Text, successHints),
		AdLink:      ps.AdLink || strings.Contains(snap.URL, "/s-anzeige/"),
		Progress:    snap.URL != startURL || ps.SubmitBusy,
		ErrorsSeen:  errorsSeen || len(snap.Errors) > 0,
	}, nil
}
