package affretia

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fluxfret/cascade/core/logger"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/internal/clock"
)

// ErrUnavailable marks a transport-level failure talking to the broker.
// Callers must retry or alert; an exhausted chain is never dropped silently.
var ErrUnavailable = errors.New("affretia: broker unavailable")

// Config defines the connection parameters for the Affretia API.
type Config struct {
	APIURL         string `json:"api_url"`
	Token          string `json:"token"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url is required")
	}
	if _, err := url.Parse(c.APIURL); err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	return nil
}

// Client talks to the Affretia brokerage API.
type Client struct {
	cfg    Config
	client *http.Client
	clk    clock.Clock
	log    logger.Logger
}

// NewClient creates an Affretia client.
func NewClient(cfg Config, clk clock.Clock, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		clk:    clk,
		log:    log,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: broker returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("affretia: %s %s returned %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("affretia: decode response: %w", err)
		}
	}
	return nil
}

// Submit hands an order to the broker and returns the broker-side order id.
func (c *Client) Submit(ctx context.Context, o model.Order) (string, error) {
	req := newSubmitRequest(o, c.clk.Now())
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("affretia: submit response missing orderId")
	}
	c.log.Infof("order %s submitted to Affretia as %s (%s)", o.ID, resp.OrderID, req.Urgency)
	return resp.OrderID, nil
}

// Status queries the broker-side state of an escalated order.
func (c *Client) Status(ctx context.Context, externalID string) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(externalID), nil, &resp)
	return resp, err
}

// Cancel best-effort cancels an outstanding broker request.
func (c *Client) Cancel(ctx context.Context, externalID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.do(ctx, http.MethodPost, "/v1/orders/"+url.PathEscape(externalID)+"/cancel", body, nil)
}
