package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Navigator keeps the statement page open. Login is done once by hand in the
// remote Chrome profile; the page is only navigated and refreshed here.
type Navigator struct {
	session         *Session
	statementURL    string
	refreshSelector string
	settle          time.Duration
}

// NewNavigator creates a navigator. When refreshSelector is empty the page is
// reloaded instead of clicking the statement's own refresh control.
func NewNavigator(session *Session, statementURL, refreshSelector string) *Navigator {
	return &Navigator{
		session:         session,
		statementURL:    statementURL,
		refreshSelector: refreshSelector,
		settle:          3 * time.Second,
	}
}

func (n *Navigator) OpenStatement(ctx context.Context) error {
	page, err := n.session.Page(ctx)
	if err != nil {
		return err
	}
	if n.statementURL == "" {
		return nil
	}
	if err := page.Navigate(n.statementURL); err != nil {
		return fmt.Errorf("open statement: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("open statement: %w", err)
	}
	return nil
}

func (n *Navigator) RefreshStatement(ctx context.Context) error {
	page, err := n.session.Page(ctx)
	if err != nil {
		return err
	}
	if n.refreshSelector == "" {
		if err := page.Reload(); err != nil {
			return fmt.Errorf("reload statement: %w", err)
		}
		return page.WaitLoad()
	}

	el, err := page.Timeout(2 * time.Second).Element(n.refreshSelector)
	if err != nil {
		return fmt.Errorf("find refresh control: %w", err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click refresh control: %w", err)
	}
	return page.WaitIdle(n.settle)
}
