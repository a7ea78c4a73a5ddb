package browser_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/browser"
	"github.com/boddenberg/bankbot-go/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ port.Session            = (*browser.Session)(nil)
	_ port.TransactionReader  = (*browser.BlockReader)(nil)
	_ port.StatementNavigator = (*browser.Navigator)(nil)
)

func TestWaitCDPReady_WaitsForChrome(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if calls.Add(1) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"Browser":"Chrome/126"}`))
	}))
	defer srv.Close()

	require.NoError(t, browser.WaitCDPReady(context.Background(), srv.URL+"/", 5*time.Second))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWaitCDPReady_TimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := browser.WaitCDPReady(context.Background(), srv.URL, 100*time.Millisecond)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cdp not ready")
}

func TestSession_NotAcquired(t *testing.T) {
	s := browser.NewSession("SCB", "http://127.0.0.1:1", "", zap.NewNop())

	assert.False(t, s.IsHealthy(context.Background()))
	assert.NoError(t, s.Release(context.Background()))

	_, err := browser.NewBlockReader(s, browser.DefaultBlockLayout("p")).ReadVisibleTransactions(context.Background())
	var unavailable *domain.ErrSessionUnavailable
	require.True(t, errors.As(err, &unavailable))
	assert.ErrorIs(t, err, browser.ErrNoPage)
}
