// Package domtest provides an in-memory dom.Page for exercising automation
// logic without a browser.
package domtest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
)

// Element is a form control or clickable node in a fake document.
type Element struct {
	// Selectors are the CSS selectors this element answers to.
	Selectors []string
	Label     string
	// Attrs holds name, id, placeholder and aria-label values.
	Attrs map[string]string
	Value string
	Text  string
	Files []string
	// Filter rewrites typed input, like an input mask would.
	Filter func(string) string
	// OnClick runs after the element is clicked.
	OnClick func(p *Page)
}

func (e *Element) matches(selector string) bool {
	return slices.Contains(e.Selectors, selector)
}

// Document is the content of one target.
type Document struct {
	Elements []*Element
	Body     string
	Errors   []string
	// RequiredPending is how many required controls SatisfyRequired will fix.
	RequiredPending int
	// OnSubmit runs on SubmitForm; nil means the document has no form.
	OnSubmit func(p *Page)
}

// Find returns the element answering to selector.
func (d *Document) Find(selector string) *Element {
	for _, e := range d.Elements {
		if e.matches(selector) {
			return e
		}
	}
	return nil
}

// Page is a scriptable dom.Page. All fields may be changed between calls
// from hooks; access from tests after the code under test returns.
type Page struct {
	mu sync.Mutex

	CurrentURL string
	Docs       map[string]*Document
	Subframes  []dom.Target

	// OnNavigate replaces the default behavior of setting CurrentURL.
	OnNavigate func(p *Page, url string) error
	// OnEvaluate answers Evaluate calls.
	OnEvaluate func(t dom.Target, script string) (any, error)
	// OnText overrides Text for dynamic bodies.
	OnText func(p *Page, t dom.Target) string
	// OnURL overrides URL, e.g. to fail while a navigation is in flight.
	OnURL func(p *Page) (string, error)

	calls   []string
	focused map[string]*Element
}

// New creates a page with an empty top-level document.
func New(url string) *Page {
	return &Page{
		CurrentURL: url,
		Docs:       map[string]*Document{"": {}},
		focused:    make(map[string]*Element),
	}
}

// Doc returns the document of t, creating it if needed.
func (p *Page) Doc(t dom.Target) *Document {
	d, ok := p.Docs[t.FrameID]
	if !ok {
		d = &Document{}
		p.Docs[t.FrameID] = d
	}
	return d
}

// AddFrame registers a subframe with its own document.
func (p *Page) AddFrame(t dom.Target, d *Document) {
	p.Subframes = append(p.Subframes, t)
	p.Docs[t.FrameID] = d
}

// Calls returns the recorded operations as "Method target arg" strings.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Count returns how many recorded calls start with prefix.
func (p *Page) Count(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *Page) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.record("Navigate %s", url)
	hook := p.OnNavigate
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	p.CurrentURL = url
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.OnURL != nil {
		return p.OnURL(p)
	}
	return p.CurrentURL, nil
}

func (p *Page) Frames(ctx context.Context) ([]dom.Target, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(p.Subframes), nil
}

func (p *Page) Exists(ctx context.Context, t dom.Target, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.Doc(t).Find(selector) != nil, nil
}

func (p *Page) FindByLabel(ctx context.Context, t dom.Target, labels []string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	for _, e := range p.Doc(t).Elements {
		for _, l := range labels {
			if e.Label != "" && strings.Contains(strings.ToLower(e.Label), strings.ToLower(l)) && len(e.Selectors) > 0 {
				return e.Selectors[0], true, nil
			}
		}
	}
	return "", false, nil
}

func (p *Page) FindByAttribute(ctx context.Context, t dom.Target, keywords []string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	for _, e := range p.Doc(t).Elements {
		for _, v := range e.Attrs {
			for _, k := range keywords {
				if strings.Contains(strings.ToLower(v), strings.ToLower(k)) && len(e.Selectors) > 0 {
					return e.Selectors[0], true, nil
				}
			}
		}
	}
	return "", false, nil
}

func (p *Page) PrepareInput(ctx context.Context, t dom.Target, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("PrepareInput %s %s", t, selector)
	e := p.Doc(t).Find(selector)
	if e == nil {
		return dom.ErrNotFound
	}
	e.Value = ""
	p.focused[t.FrameID] = e
	return nil
}

func (p *Page) InsertText(ctx context.Context, t dom.Target, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("InsertText %s %s", t, text)
	e := p.focused[t.FrameID]
	if e == nil {
		return fmt.Errorf("no focused element in %s", t)
	}
	e.Value += text
	if e.Filter != nil {
		e.Value = e.Filter(e.Value)
	}
	return nil
}

func (p *Page) Value(ctx context.Context, t dom.Target, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e := p.Doc(t).Find(selector)
	if e == nil {
		return "", dom.ErrNotFound
	}
	return e.Value, nil
}

func (p *Page) SetValue(ctx context.Context, t dom.Target, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("SetValue %s %s %s", t, selector, value)
	e := p.Doc(t).Find(selector)
	if e == nil {
		return dom.ErrNotFound
	}
	e.Value = value
	return nil
}

func (p *Page) Click(ctx context.Context, t dom.Target, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.record("Click %s %s", t, selector)
	e := p.Doc(t).Find(selector)
	p.mu.Unlock()
	if e == nil {
		return dom.ErrNotFound
	}
	if e.OnClick != nil {
		e.OnClick(p)
	}
	return nil
}

func (p *Page) ClickByText(ctx context.Context, t dom.Target, texts []string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	var hit *Element
	for _, e := range p.Doc(t).Elements {
		for _, txt := range texts {
			if e.Text != "" && strings.Contains(strings.ToLower(e.Text), strings.ToLower(txt)) {
				hit = e
				break
			}
		}
		if hit != nil {
			break
		}
	}
	if hit != nil {
		p.record("ClickByText %s %s", t, hit.Text)
	}
	p.mu.Unlock()
	if hit == nil {
		return false, nil
	}
	if hit.OnClick != nil {
		hit.OnClick(p)
	}
	return true, nil
}

func (p *Page) SetFiles(ctx context.Context, t dom.Target, selector string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("SetFiles %s %s %d", t, selector, len(paths))
	e := p.Doc(t).Find(selector)
	if e == nil {
		return dom.ErrNotFound
	}
	e.Files = slices.Clone(paths)
	return nil
}

func (p *Page) Text(ctx context.Context, t dom.Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.OnText != nil {
		return p.OnText(p, t), nil
	}
	return p.Doc(t).Body, nil
}

func (p *Page) TextOf(ctx context.Context, t dom.Target, selector string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e := p.Doc(t).Find(selector)
	if e == nil {
		return "", dom.ErrNotFound
	}
	return e.Text, nil
}

func (p *Page) SatisfyRequired(ctx context.Context, t dom.Target) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d := p.Doc(t)
	n := d.RequiredPending
	d.RequiredPending = 0
	p.record("SatisfyRequired %s %d", t, n)
	return n, nil
}

func (p *Page) FormErrors(ctx context.Context, t dom.Target) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(p.Doc(t).Errors), nil
}

func (p *Page) SubmitForm(ctx context.Context, t dom.Target) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	d := p.Doc(t)
	hook := d.OnSubmit
	p.record("SubmitForm %s", t)
	p.mu.Unlock()
	if hook == nil {
		return false, nil
	}
	hook(p)
	return true, nil
}

func (p *Page) Evaluate(ctx context.Context, t dom.Target, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.record("Evaluate %s", t)
	hook := p.OnEvaluate
	p.mu.Unlock()
	if hook == nil {
		return nil
	}
	v, err := hook(t, script)
	if err != nil || out == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

var _ dom.Page = (*Page)(nil)
