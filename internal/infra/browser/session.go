// Package browser attaches to a running Chrome over the DevTools protocol.
// Chrome is started outside this process with --remote-debugging-port so the
// bank's login survives restarts of the bot.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// ErrNoPage is returned when the session has not been acquired.
var ErrNoPage = errors.New("browser session not acquired")

// Session owns one stealth page in a remote Chrome. The DevTools connection
// is opened once and reused by every later Acquire; only the page is
// replaced.
type Session struct {
	name      string
	cdpURL    string
	logoutURL string
	logger    *zap.Logger

	connect   func(ctx context.Context) (*rod.Browser, error)
	newPage   func(b *rod.Browser) (*rod.Page, error)
	closePage func(ctx context.Context, page *rod.Page) error

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// NewSession creates a session for the Chrome at cdpURL, e.g.
// http://localhost:9222. logoutURL is visited on Release when set.
func NewSession(name, cdpURL, logoutURL string, logger *zap.Logger) *Session {
	s := &Session{
		name:      name,
		cdpURL:    cdpURL,
		logoutURL: logoutURL,
		logger:    logger.With(zap.String("session", name)),
		newPage:   stealth.Page,
	}
	s.connect = s.dial
	s.closePage = s.logout
	return s
}

func (s *Session) dial(ctx context.Context) (*rod.Browser, error) {
	if err := WaitCDPReady(ctx, s.cdpURL, 10*time.Second); err != nil {
		return nil, err
	}
	wsURL, err := launcher.ResolveURL(s.cdpURL)
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// Acquire opens a fresh page, connecting to Chrome first if needed.
func (s *Session) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		return nil
	}
	if s.browser == nil {
		b, err := s.connect(ctx)
		if err != nil {
			return &domain.ErrSessionUnavailable{Session: s.name, Err: err}
		}
		s.browser = b
		s.logger.Info("connected to chrome", zap.String("cdp", s.cdpURL))
	}

	page, err := s.newPage(s.browser)
	if err != nil {
		// Chrome restarted or the connection dropped; dial again next time.
		s.browser = nil
		return &domain.ErrSessionUnavailable{Session: s.name, Err: err}
	}
	s.page = page
	s.logger.Info("browser session acquired")
	return nil
}

// Release logs out (when a logout URL is configured), clears storage and
// closes the page. Chrome and the DevTools connection stay up.
func (s *Session) Release(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page == nil {
		return nil
	}
	err := s.closePage(ctx, s.page)
	s.page = nil
	s.logger.Info("browser session released")
	return err
}

func (s *Session) logout(ctx context.Context, p *rod.Page) error {
	page := p.Context(ctx)
	var errs []error

	if s.logoutURL != "" {
		if err := page.Navigate(s.logoutURL); err != nil {
			errs = append(errs, fmt.Errorf("logout: %w", err))
		} else {
			_ = page.WaitLoad()
		}
	}
	if _, err := page.Eval(`() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} }`); err != nil {
		errs = append(errs, fmt.Errorf("clear storage: %w", err))
	}
	if err := page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close page: %w", err))
	}
	return errors.Join(errs...)
}

// IsHealthy evaluates a trivial script on the page.
func (s *Session) IsHealthy(ctx context.Context) bool {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()

	if page == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, err := page.Context(ctx).Eval(`() => 1`)
	return err == nil && res.Value.Int() == 1
}

// Page returns the session's page bound to ctx.
func (s *Session) Page(ctx context.Context) (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, &domain.ErrSessionUnavailable{Session: s.name, Err: ErrNoPage}
	}
	return s.page.Context(ctx), nil
}

// WaitCDPReady polls Chrome's /json/version endpoint until it answers or
// timeout passes.
func WaitCDPReady(ctx context.Context, cdpURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := strings.TrimRight(cdpURL, "/") + "/json/version"
	client := &http.Client{Timeout: 2 * time.Second}
	var lastErr error
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("cdp not ready at %s: %w", cdpURL, lastErr)
		case <-time.After(time.Second):
		}
	}
}
