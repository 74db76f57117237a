package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/browser"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/session"
)

// Credential field cascades, most specific first.
var (
	emailSelectors    = []string{"#email", "input[name='email']", "input[type='email']"}
	passwordSelectors = []string{"#password", "input[name='password']", "input[type='password']"}
	submitSelectors   = []string{"button[type='submit']", "input[type='submit']"}
)

const loginFormSelector = "input[type='email']"

// Login opens a browser, signs in and parks the browser in the session
// registry. Empty credentials fall back to the configured ones.
func (o *Orchestrator) Login(ctx context.Context, creds scrape.Credentials) (session.Session, error) {
	if o.deps.Sessions == nil {
		return session.Session{}, ErrSessionsUnavailable
	}
	creds = o.credentials(creds)
	handle, err := o.deps.Pool.Acquire(ctx, "session")
	if err != nil {
		return session.Session{}, fmt.Errorf("acquire browser: %w", err)
	}
	if err := o.login(ctx, handle.Page(), creds); err != nil {
		o.closeHandle(handle)
		return session.Session{}, err
	}
	s, err := o.deps.Sessions.Create(handle, creds.Email)
	if err != nil {
		o.closeHandle(handle)
		return session.Session{}, fmt.Errorf("register session: %w", err)
	}
	return s, nil
}

func (o *Orchestrator) credentials(creds scrape.Credentials) scrape.Credentials {
	if creds.Email == "" && creds.Password == "" {
		return o.cfg.Credentials
	}
	return creds
}

// login runs the sign-in script on page. A redirect that never arrives is
// tolerated; a missing form or an error redirect is not.
func (o *Orchestrator) login(ctx context.Context, page scrape.Page, creds scrape.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return ErrCredentialsMissing
	}
	if err := o.navigate(ctx, page, o.cfg.LoginURL); err != nil {
		return err
	}
	o.settle(ctx, page, loginFormSelector, o.cfg.FormTimeout, o.logger)

	email, ok := firstPresent(ctx, page, emailSelectors)
	if !ok {
		return fmt.Errorf("email field: %w", scrape.ErrLoginFormNotFound)
	}
	password, ok := firstPresent(ctx, page, passwordSelectors)
	if !ok {
		return fmt.Errorf("password field: %w", scrape.ErrLoginFormNotFound)
	}
	submit, ok := firstPresent(ctx, page, submitSelectors)
	if !ok {
		return fmt.Errorf("submit button: %w", scrape.ErrLoginFormNotFound)
	}

	if err := page.Fill(ctx, email, creds.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := page.Fill(ctx, password, creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(ctx, submit); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	return o.awaitRedirect(ctx, page)
}

func firstPresent(ctx context.Context, page scrape.Page, selectors []string) (string, bool) {
	for _, sel := range selectors {
		if n, err := page.Query(ctx, sel); err == nil && n > 0 {
			return sel, true
		}
	}
	return "", false
}

func (o *Orchestrator) awaitRedirect(ctx context.Context, page scrape.Page) error {
	marker := strings.ToLower(o.cfg.LoginMarker)
	deadline := o.deps.Clock.Now().Add(o.cfg.RedirectTimeout)
	for {
		current, err := page.URL(ctx)
		if err != nil {
			return fmt.Errorf("read current url: %w", err)
		}
		lower := strings.ToLower(current)
		if strings.Contains(lower, "error") {
			return fmt.Errorf("%w: redirected to %s", scrape.ErrLoginRejected, current)
		}
		if !strings.Contains(lower, marker) {
			o.logger.Info("login redirected", zap.String("url", current))
			return nil
		}
		if !o.deps.Clock.Now().Before(deadline) {
			o.logger.Warn("login redirect timed out, continuing",
				zap.String("url", current),
				zap.Duration("timeout", o.cfg.RedirectTimeout),
			)
			return nil
		}
		if err := o.deps.Clock.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return fmt.Errorf("await login redirect: %w", err)
		}
	}
}

func (o *Orchestrator) closeHandle(h *browser.Handle) {
	if err := h.Close(); err != nil {
		o.logger.Warn("browser teardown failed", zap.String("owner", h.Owner()), zap.Error(err))
	}
}
