package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	cdpdom "github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const isolatedWorldName = "kleinpost"

// Page implements dom.Page over a chromedp tab. Subframe targets evaluate
// in an isolated world created per frame.
type Page struct {
	tab           context.Context
	logger        *zap.Logger
	actionTimeout time.Duration

	mu     sync.Mutex
	worlds map[string]runtime.ExecutionContextID
}

var _ dom.Page = (*Page)(nil)

// NewPage wraps the chromedp tab context tab.
func NewPage(tab context.Context, actionTimeout time.Duration, logger *zap.Logger) *Page {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Page{
		tab:           tab,
		logger:        logger,
		actionTimeout: actionTimeout,
		worlds:        make(map[string]runtime.ExecutionContextID),
	}
}

// run executes actions on the tab, bounded by ctx and the action timeout.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.tab, ctx)
	defer cancel()
	if p.actionTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, p.actionTimeout)
		defer cancelTimeout()
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.forgetWorlds()
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *Page) Frames(ctx context.Context) ([]dom.Target, error) {
	var tree *cdppage.FrameTree
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = cdppage.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil || tree == nil {
		return nil, err
	}
	var out []dom.Target
	var walk func(nodes []*cdppage.FrameTree)
	walk = func(nodes []*cdppage.FrameTree) {
		for _, n := range nodes {
			if n.Frame != nil {
				out = append(out, dom.Target{FrameID: string(n.Frame.ID), Name: n.Frame.Name, URL: n.Frame.URL})
			}
			walk(n.ChildFrames)
		}
	}
	walk(tree.ChildFrames)
	return out, nil
}

func (p *Page) Exists(ctx context.Context, t dom.Target, selector string) (bool, error) {
	var ok bool
	err := p.call(ctx, t, jsExists, &ok, selector)
	return ok, err
}

func (p *Page) FindByLabel(ctx context.Context, t dom.Target, labels []string) (string, bool, error) {
	var sel string
	err := p.call(ctx, t, jsFindByLabel, &sel, labels)
	return sel, sel != "", err
}

func (p *Page) FindByAttribute(ctx context.Context, t dom.Target, keywords []string) (string, bool, error) {
	var sel string
	err := p.call(ctx, t, jsFindByAttribute, &sel, keywords)
	return sel, sel != "", err
}

func (p *Page) PrepareInput(ctx context.Context, t dom.Target, selector string) error {
	return p.expectFound(ctx, t, jsPrepareInput, selector)
}

// InsertText types into the focused element of whichever frame holds focus.
func (p *Page) InsertText(ctx context.Context, _ dom.Target, text string) error {
	return p.run(ctx, input.InsertText(text))
}

func (p *Page) Value(ctx context.Context, t dom.Target, selector string) (string, error) {
	var v *string
	if err := p.call(ctx, t, jsValue, &v, selector); err != nil {
		return "", err
	}
	if v == nil {
		return "", dom.ErrNotFound
	}
	return *v, nil
}

func (p *Page) SetValue(ctx context.Context, t dom.Target, selector, value string) error {
	return p.expectFound(ctx, t, jsSetValue, selector, value)
}

func (p *Page) Click(ctx context.Context, t dom.Target, selector string) error {
	return p.expectFound(ctx, t, jsClick, selector)
}

func (p *Page) ClickByText(ctx context.Context, t dom.Target, texts []string) (bool, error) {
	var clicked string
	if err := p.call(ctx, t, jsClickByText, &clicked, texts); err != nil {
		return false, err
	}
	if clicked != "" {
		p.logger.Debug("Clicked element by text.", zap.String("text", clicked), zap.Stringer("target", t))
	}
	return clicked != "", nil
}

func (p *Page) SetFiles(ctx context.Context, t dom.Target, selector string, paths []string) error {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := p.evaluate(ctx, t, fmt.Sprintf("document.querySelector(%s)", quoted), false)
		if err != nil {
			return err
		}
		if obj == nil || obj.ObjectID == "" {
			return dom.ErrNotFound
		}
		node, err := cdpdom.DescribeNode().WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve file input: %w", err)
		}
		return cdpdom.SetFileInputFiles(paths).WithBackendNodeID(node.BackendNodeID).Do(ctx)
	}))
}

func (p *Page) Text(ctx context.Context, t dom.Target) (string, error) {
	var s string
	err := p.call(ctx, t, jsText, &s)
	return s, err
}

func (p *Page) TextOf(ctx context.Context, t dom.Target, selector string) (string, error) {
	var s *string
	if err := p.call(ctx, t, jsTextOf, &s, selector); err != nil {
		return "", err
	}
	if s == nil {
		return "", dom.ErrNotFound
	}
	return *s, nil
}

func (p *Page) SatisfyRequired(ctx context.Context, t dom.Target) (int, error) {
	var n int
	err := p.call(ctx, t, jsSatisfyRequired, &n)
	return n, err
}

func (p *Page) FormErrors(ctx context.Context, t dom.Target) ([]string, error) {
	var errs []string
	err := p.call(ctx, t, jsFormErrors, &errs)
	return errs, err
}

func (p *Page) SubmitForm(ctx context.Context, t dom.Target) (bool, error) {
	var ok bool
	err := p.call(ctx, t, jsSubmitForm, &ok)
	return ok, err
}

func (p *Page) Evaluate(ctx context.Context, t dom.Target, script string, out any) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return p.evalInto(ctx, t, script, out)
	}))
}

// -- Evaluation --

// call applies the function expression fn to args inside t.
func (p *Page) call(ctx context.Context, t dom.Target, fn string, out any, args ...any) error {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode script arguments: %w", err)
	}
	return p.Evaluate(ctx, t, fmt.Sprintf("(%s)(...%s)", fn, raw), out)
}

func (p *Page) expectFound(ctx context.Context, t dom.Target, fn string, args ...any) error {
	var ok bool
	if err := p.call(ctx, t, fn, &ok, args...); err != nil {
		return err
	}
	if !ok {
		return dom.ErrNotFound
	}
	return nil
}

func (p *Page) evalInto(ctx context.Context, t dom.Target, expr string, out any) error {
	res, err := p.evaluate(ctx, t, expr, true)
	if err != nil {
		return err
	}
	if out == nil || res == nil || len(res.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Value, out)
}

// evaluate runs expr in t. A stale isolated world is recreated once.
func (p *Page) evaluate(ctx context.Context, t dom.Target, expr string, byValue bool) (*runtime.RemoteObject, error) {
	params := runtime.Evaluate(expr).WithReturnByValue(byValue).WithAwaitPromise(true)
	if t.IsTop() {
		return checkEval(params.Do(ctx))
	}

	id, err := p.world(ctx, t)
	if err != nil {
		return nil, err
	}
	res, exc, err := params.WithContextID(id).Do(ctx)
	if err != nil && ctx.Err() == nil {
		p.forgetWorld(t)
		if id, err = p.world(ctx, t); err != nil {
			return nil, err
		}
		res, exc, err = params.WithContextID(id).Do(ctx)
	}
	return checkEval(res, exc, err)
}

func checkEval(res *runtime.RemoteObject, exc *runtime.ExceptionDetails, err error) (*runtime.RemoteObject, error) {
	if err != nil {
		return nil, err
	}
	if exc != nil {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		return nil, errors.New("script error: " + msg)
	}
	return res, nil
}

func (p *Page) world(ctx context.Context, t dom.Target) (runtime.ExecutionContextID, error) {
	p.mu.Lock()
	id, ok := p.worlds[t.FrameID]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := cdppage.CreateIsolatedWorld(cdp.FrameID(t.FrameID)).WithWorldName(isolatedWorldName).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to create isolated world for %s: %w", t, err)
	}
	p.mu.Lock()
	p.worlds[t.FrameID] = id
	p.mu.Unlock()
	return id, nil
}

func (p *Page) forgetWorld(t dom.Target) {
	p.mu.Lock()
	delete(p.worlds, t.FrameID)
	p.mu.Unlock()
}

func (p *Page) forgetWorlds() {
	p.mu.Lock()
	clear(p.worlds)
	p.mu.Unlock()
}
