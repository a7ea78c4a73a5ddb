package eric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/infra/cache"
	"github.com/boddenberg/bankbot-go/internal/infra/observability"
	"github.com/boddenberg/bankbot-go/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("eric/client")

const (
	depositPath = "/transaction/addDepositTransaction"
	payoutPath  = "/transaction/payoutScriptCallback"
)

// Client posts signed callbacks to one ERIC profile (staging or production).
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	reported   *cache.InMemory[time.Time]
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewClient creates a client. Payout callbacks for the same transaction are
// sent at most once per dedupTTL. metrics may be nil.
func NewClient(
	httpClient *http.Client,
	baseURL, secret string,
	cb *gobreaker.CircuitBreaker,
	cfg resilience.Config,
	dedupTTL time.Duration,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		cb:         cb,
		cfg:        cfg,
		reported:   cache.New[time.Time](dedupTTL),
		metrics:    metrics,
		logger:     logger,
	}
}

// Close stops the dedup cache janitor.
func (c *Client) Close() { c.reported.Close() }

// SendDeposit reports one detected deposit.
func (c *Client) SendDeposit(ctx context.Context, cb domain.DepositCallback) error {
	ctx, span := tracer.Start(ctx, "Client.SendDeposit")
	defer span.End()
	span.SetAttributes(attribute.String("bank.code", cb.BankCode))

	return c.post(ctx, "deposit", depositPath, DepositFields(cb), cb)
}

// SendPayout reports a completed payout. Repeated reports of the same
// transaction inside the dedup window are dropped.
func (c *Client) SendPayout(ctx context.Context, cb domain.PayoutCallback) error {
	ctx, span := tracer.Start(ctx, "Client.SendPayout")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", cb.TransactionID))

	// Reserve the id first so concurrent reports of one payout post once.
	if !c.reported.SetIfAbsent(cb.TransactionID, time.Now()) {
		at, _ := c.reported.Get(cb.TransactionID)
		c.logger.Info("payout already reported, skipping",
			zap.String("transactionId", cb.TransactionID),
			zap.Time("reportedAt", at),
		)
		return nil
	}
	if err := c.post(ctx, "payout", payoutPath, PayoutFields(cb), cb); err != nil {
		c.reported.Delete(cb.TransactionID)
		return err
	}
	c.reported.Set(cb.TransactionID, time.Now())
	return nil
}

// post hashes fields, then marshals body from the same values and sends it.
func (c *Client) post(ctx context.Context, kind, path string, fields []Field, body any) error {
	hash := Sign(fields, c.secret)
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := c.baseURL + path

	var status int
	_, err = c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
			if err != nil {
				return resilience.Permanent(err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("accept", "*/*")
			req.Header.Set("hash", hash)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

			status = resp.StatusCode
			switch {
			case status >= 200 && status < 300:
				c.logger.Debug("callback accepted",
					zap.String("kind", kind),
					zap.String("response", string(respBody)),
				)
				return nil
			case status >= 400 && status < 500:
				// The API rejected the payload or hash; retrying will not help.
				return resilience.Permanent(fmt.Errorf("rejected: %s", strings.TrimSpace(string(respBody))))
			default:
				return fmt.Errorf("server error: %s", strings.TrimSpace(string(respBody)))
			}
		})
	})
	if err == nil {
		return nil
	}

	if c.metrics != nil {
		c.metrics.IncrCallbackError(kind)
	}
	if resilience.IsCircuitOpen(err) {
		return &domain.ErrUpstreamCallback{Endpoint: path, Err: &domain.ErrCircuitOpen{Service: "eric"}}
	}
	return &domain.ErrUpstreamCallback{Endpoint: path, StatusCode: status, Err: err}
}
