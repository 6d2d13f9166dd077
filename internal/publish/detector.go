package publish

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/kleinpost/api/schemas"
	"github.com/xkilldash9x/kleinpost/internal/browser/dom"
)

// Snapshotter captures the current page state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Resubmitter submits the form again, e.g. from the preview step.
type Resubmitter interface {
	Resubmit(ctx context.Context) error
}

// SnapshotFunc adapts a function to Snapshotter.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

func (f SnapshotFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

// ResubmitFunc adapts a function to Resubmitter.
type ResubmitFunc func(ctx context.Context) error

func (f ResubmitFunc) Resubmit(ctx context.Context) error { return f(ctx) }

// Outcome is where Await stopped.
type Outcome struct {
	State     State
	Verdict   schemas.Verdict
	URL       string
	Errors    []string
	Resubmits int
	TimedOut  bool
	Snapshots int
}

// Detector waits for the page to settle in a terminal state.
type Detector struct {
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewDetector returns a detector polling every interval for at most timeout.
func NewDetector(interval, timeout time.Duration, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{interval: interval, timeout: timeout, logger: logger.Named("detector")}
}

// Await polls snap until the page reaches Success or the timeout elapses.
// Each time the page enters Preview it is resubmitted exactly once; staying
// on the preview does not trigger another resubmit. A timeout is reported in
// the outcome, never as an error. A failed snapshot only skips that tick,
// since the page is often mid-navigation; the last snapshot error is
// returned when no snapshot succeeded at all.
func (d *Detector) Await(ctx context.Context, snap Snapshotter, resubmit Resubmitter) (Outcome, error) {
	var (
		out     = Outcome{State: StateUnknown, Verdict: schemas.VerdictNone}
		prev    = StateUnknown
		snapErr error
	)
	err := dom.Poll(ctx, d.interval, d.timeout, func(ctx context.Context) (bool, error) {
		s, err := snap.Snapshot(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			snapErr = err
			return false, nil
		}
		out.Snapshots++
		out.URL = s.URL
		if len(s.Errors) > 0 {
			out.Errors = s.Errors
		}

		state := Classify(s)
		out.State = state
		switch state {
		case StateSuccess:
			out.Verdict = schemas.VerdictConfirmed
			return true, nil
		case StatePreview:
			if prev != StatePreview && resubmit != nil {
				d.logger.Debug("Preview reached, submitting again.", zap.String("url", s.URL))
				if err := resubmit.Resubmit(ctx); err != nil {
					return false, err
				}
				out.Resubmits++
			}
		}
		prev = state
		return false, nil
	})
	if errors.Is(err, dom.ErrPollTimeout) {
		out.TimedOut = true
		if out.Snapshots == 0 && snapErr != nil {
			return out, snapErr
		}
		d.logger.Debug("No terminal state before timeout.", zap.String("state", string(out.State)), zap.Int("snapshots", out.Snapshots))
		return out, nil
	}
	return out, err
}

// -- Page probes --

var confirmationSelectors = []string{
	`[data-testid*="success"]`,
	`[data-test*="success"]`,
	`[data-testid*="confirmation"]`,
	`[data-test*="confirmation"]`,
	`[class*="success"]`,
	`[class*="confirmation"]`,
}

// PageSnapshotter reads snapshots of target on page. Form errors are
// deduplicated and capped at maxErrors.
func PageSnapshotter(page dom.Page, target dom.Target, maxErrors int) Snapshotter {
	return SnapshotFunc(func(ctx context.Context) (Snapshot, error) {
		return snapshotOf(ctx, page, target, maxErrors)
	})
}

func snapshotOf(ctx context.Context, page dom.Page, target dom.Target, maxErrors int) (Snapshot, error) {
	var s Snapshot
	u, err := page.URL(ctx)
	if err != nil {
		return s, err
	}
	s.URL = u
	// Pages are often mid-navigation; missing content is not an error.
	if txt, err := page.Text(ctx, target); err == nil {
		s.Text = txt
	} else if ctx.Err() != nil {
		return s, ctx.Err()
	}
	for _, sel := range confirmationSelectors {
		if txt, err := page.TextOf(ctx, target, sel); err == nil && strings.TrimSpace(txt) != "" {
			s.Confirmed = true
			break
		}
	}
	if errs, err := page.FormErrors(ctx, target); err == nil {
		s.Errors = dedupe(errs, maxErrors)
	}
	return s, ctx.Err()
}

func dedupe(in []string, limit int) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
