package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/dataharvest/reaper/internal/config"
	"github.com/dataharvest/reaper/internal/types"
)

// Acquirer runs navigation plans in a headless browser. Each Acquire
// call launches a fresh browser, walks the plan, harvests cookies and
// any captured request, and closes the browser again: sessions are
// cheap enough to re-acquire that keeping Chrome alive is not worth
// the memory.
type Acquirer struct {
	cfg    *config.SessionConfig
	logger *slog.Logger
}

// NewAcquirer creates an Acquirer.
func NewAcquirer(cfg *config.SessionConfig, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		cfg:    cfg,
		logger: logger.With("component", "session"),
	}
}

// capture accumulates what the hijack router observes for a capture
// step: the matched request's headers and body.
type capture struct {
	mu      sync.Mutex
	headers map[string]string
	body    string
	seen    bool
}

func (c *capture) store(headers map[string]string, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen {
		return
	}
	c.headers = headers
	c.body = body
	c.seen = true
}

// Acquire runs the plan once and returns the resulting bundle. A
// failed mandatory step aborts with a SessionError naming the step.
func (a *Acquirer) Acquire(ctx context.Context, plan *Plan) (*types.SessionBundle, error) {
	u, err := launcher.New().
		Headless(a.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, &types.SessionError{Site: plan.Site, Step: "launch", Err: err}
	}

	browser := rod.New().ControlURL(u).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, &types.SessionError{Site: plan.Site, Step: "connect", Err: err}
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, &types.SessionError{Site: plan.Site, Step: "page", Err: err}
	}

	cap := &capture{}
	var router *rod.HijackRouter
	defer func() {
		if router != nil {
			router.Stop()
		}
	}()

	for i, step := range plan.Steps {
		stepName := fmt.Sprintf("%d:%s", i, step.Kind)
		a.logger.Debug("plan step", "site", plan.Site, "step", stepName)

		err := a.runStep(page, &router, cap, step)
		if err != nil {
			if step.Optional {
				a.logger.Warn("optional step failed", "site", plan.Site, "step", stepName, "error", err)
				continue
			}
			return nil, &types.SessionError{Site: plan.Site, Step: stepName, Err: err}
		}
	}

	// Captured XHRs may land just after their triggering step returns.
	if hasCapture(plan) {
		waitCaptured(ctx, cap, 10*time.Second)
	}

	bundle, err := a.harvest(page, plan, cap)
	if err != nil {
		return nil, &types.SessionError{Site: plan.Site, Step: "harvest", Err: err}
	}
	a.logger.Info("session acquired",
		"site", plan.Site, "cookies", len(bundle.Cookies), "csrf", bundle.CSRFToken != "")
	return bundle, nil
}

func (a *Acquirer) runStep(page *rod.Page, router **rod.HijackRouter, cap *capture, step Step) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = a.cfg.StepTimeout
	}
	p := page.Timeout(timeout)

	switch step.Kind {
	case StepNavigate:
		if err := p.Navigate(step.URL); err != nil {
			return err
		}
		return p.WaitLoad()

	case StepWaitVisible:
		el, err := p.Element(step.Selector)
		if err != nil {
			return err
		}
		return el.WaitVisible()

	case StepFill:
		el, err := p.Element(step.Selector)
		if err != nil {
			return err
		}
		if err := el.WaitVisible(); err != nil {
			return err
		}
		value := substituteCredentials(step.Value, a.cfg.Username, a.cfg.Password)
		return el.Input(value)

	case StepClick:
		el, err := p.Element(step.Selector)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)

	case StepScroll:
		el, err := p.Element(step.Selector)
		if err != nil {
			return err
		}
		return el.ScrollIntoView()

	case StepEval:
		_, err := p.Eval(step.Script)
		return err

	case StepCapture:
		// Arm the router; matching requests observed from here on are
		// recorded and passed through untouched.
		r := page.HijackRequests()
		pattern := step.Pattern
		err := r.Add("*", "", func(h *rod.Hijack) {
			req := h.Request.Req()
			if strings.Contains(req.URL.String(), pattern) {
				headers := map[string]string{}
				for name := range req.Header {
					headers[name] = req.Header.Get(name)
				}
				cap.store(headers, h.Request.Body())
			}
			h.ContinueRequest(&proto.FetchContinueRequest{})
		})
		if err != nil {
			return err
		}
		go r.Run()
		*router = r
		return nil

	default:
		return fmt.Errorf("unknown step kind %d", step.Kind)
	}
}

// harvest assembles the bundle from browser cookies plus whatever the
// capture step observed.
func (a *Acquirer) harvest(page *rod.Page, plan *Plan, cap *capture) (*types.SessionBundle, error) {
	cookies, err := page.Cookies(nil)
	if err != nil {
		return nil, err
	}

	bundle := &types.SessionBundle{
		Cookies: make(map[string]string, len(cookies)),
		Headers: map[string]string{},
	}
	for _, c := range cookies {
		bundle.Cookies[c.Name] = c.Value
	}
	if info, err := page.Info(); err == nil {
		bundle.BaseURL = info.URL
	}
	if plan.TTL > 0 {
		bundle.ExpiryHint = time.Now().Add(plan.TTL)
	}

	cap.mu.Lock()
	defer cap.mu.Unlock()
	if cap.seen {
		for _, name := range []string{"Authorization", "X-Requested-With", "Referer"} {
			if v, ok := cap.headers[name]; ok {
				bundle.Headers[name] = v
			}
		}
		bundle.CapturedBody = []byte(cap.body)
		for _, step := range plan.Steps {
			if step.Kind != StepCapture || step.Token == "" {
				continue
			}
			token, err := extractToken(cap.body, step.Token)
			if err != nil {
				return nil, err
			}
			if token == "" {
				// Some portals carry the token in a header instead.
				token, _ = extractToken(cap.headers["X-Csrf-Token"], `(.+)`)
			}
			bundle.CSRFToken = token
		}
	}
	return bundle, nil
}

func hasCapture(plan *Plan) bool {
	for _, s := range plan.Steps {
		if s.Kind == StepCapture {
			return true
		}
	}
	return false
}

func waitCaptured(ctx context.Context, cap *capture, max time.Duration) {
	deadline := time.Now().Add(max)
	for time.Now().Before(deadline) {
		cap.mu.Lock()
		seen := cap.seen
		cap.mu.Unlock()
		if seen || ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}
