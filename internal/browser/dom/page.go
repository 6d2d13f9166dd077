// browser/dom/page.go
package dom

import (
	"context"
	"errors"
)

// Target names the document an operation runs against. The zero value is
// the top-level page; a non-empty FrameID addresses a subframe.
type Target struct {
	FrameID string `json:"frameId,omitempty"`
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Top is the top-level document.
var Top = Target{}

// IsTop reports whether t addresses the top-level document.
func (t Target) IsTop() bool { return t.FrameID == "" }

func (t Target) String() string {
	switch {
	case t.IsTop():
		return "page"
	case t.Name != "":
		return "frame:" + t.Name
	default:
		return "frame:" + t.FrameID
	}
}

// ErrNotFound is returned when a selector matches nothing in the target.
var ErrNotFound = errors.New("element not found")

// Page is the set of primitives the form engine, the publish detector and
// the scrapers need from a live browser tab. Selectors are CSS. Every call
// names its Target explicitly; there is no implicit "current frame".
type Page interface {
	// Navigate loads url in the top-level document and waits for it to be ready.
	Navigate(ctx context.Context, url string) error
	// URL returns the top-level document URL.
	URL(ctx context.Context) (string, error)
	// Frames lists the subframes of the page. The top-level page is not included.
	Frames(ctx context.Context) ([]Target, error)

	// Exists reports whether selector matches at least one element.
	Exists(ctx context.Context, t Target, selector string) (bool, error)
	// FindByLabel resolves a form control by the text of its label and
	// returns a selector that addresses exactly that control.
	FindByLabel(ctx context.Context, t Target, labels []string) (string, bool, error)
	// FindByAttribute resolves an input or textarea whose name, id,
	// placeholder or aria-label contains one of keywords.
	FindByAttribute(ctx context.Context, t Target, keywords []string) (string, bool, error)

	// PrepareInput scrolls selector into view, focuses it and clears its content.
	PrepareInput(ctx context.Context, t Target, selector string) error
	// InsertText types text into the focused element of t.
	InsertText(ctx context.Context, t Target, text string) error
	// Value returns the current value of a form control.
	Value(ctx context.Context, t Target, selector string) (string, error)
	// SetValue assigns a value directly and fires input and change events.
	SetValue(ctx context.Context, t Target, selector, value string) error
	// Click clicks the first element matching selector.
	Click(ctx context.Context, t Target, selector string) error
	// ClickByText clicks the first button or link whose text contains one of
	// texts, case-insensitively.
	ClickByText(ctx context.Context, t Target, texts []string) (bool, error)
	// SetFiles attaches local files to a file input.
	SetFiles(ctx context.Context, t Target, selector string, paths []string) error

	// Text returns the visible text of the document body.
	Text(ctx context.Context, t Target) (string, error)
	// TextOf returns the visible text of the first element matching selector.
	TextOf(ctx context.Context, t Target, selector string) (string, error)
	// SatisfyRequired picks the first enabled option of every required
	// select, checkbox and radio group and returns how many it changed.
	SatisfyRequired(ctx context.Context, t Target) (int, error)
	// FormErrors collects validation messages currently shown.
	FormErrors(ctx context.Context, t Target) ([]string, error)
	// SubmitForm submits the form containing the ad fields directly.
	SubmitForm(ctx context.Context, t Target) (bool, error)
	// Evaluate runs script and decodes its JSON result into out (which may be nil).
	Evaluate(ctx context.Context, t Target, script string, out any) error
}

// Targets returns the top-level page followed by every subframe.
func Targets(ctx context.Context, p Page) ([]Target, error) {
	frames, err := p.Frames(ctx)
	if err != nil {
		return nil, err
	}
	return append([]Target{Top}, frames...), nil
}
