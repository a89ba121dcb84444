// Package paymentgateway talks to the hosted checkout provider that issues
// payment links for orders.
package paymentgateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront-service/internal/util"

	"go.uber.org/zap"
)

const (
	successCode       = "00"
	maxDescriptionLen = 25
)

var (
	errClientIDRequired    = errors.New("payment client id is required")
	errAPIKeyRequired      = errors.New("payment api key is required")
	errChecksumKeyRequired = errors.New("payment checksum key is required")
)

// Item is one line shown on the hosted checkout page.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
}

// LinkRequest asks the provider for a checkout link. Ref must be unique per
// link and is echoed back in payment result callbacks.
type LinkRequest struct {
	Ref         int64
	Amount      int64
	Description string
	BuyerName   string
	BuyerPhone  string
	Items       []Item
	ExpiresAt   time.Time
}

// Link is a checkout link issued by the provider.
type Link struct {
	LinkID      string
	CheckoutURL string
	ExpiresAt   time.Time
}

// Provider issues and cancels hosted checkout links.
type Provider interface {
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error)
	CancelPaymentLink(ctx context.Context, ref int64, reason string) error
}

// Config holds provider credentials and redirect targets.
type Config struct {
	BaseURL     string
	ClientID    string
	APIKey      string
	ChecksumKey string
	ReturnURL   string
	CancelURL   string
	Timeout     time.Duration
}

// Client is the HTTP implementation of Provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates credentials and builds the HTTP client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errClientIDRequired
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errAPIKeyRequired
	}
	if strings.TrimSpace(cfg.ChecksumKey) == "" {
		return nil, errChecksumKeyRequired
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.GetLogger(),
	}, nil
}

type createLinkBody struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	BuyerName   string `json:"buyerName,omitempty"`
	BuyerPhone  string `json:"buyerPhone,omitempty"`
	Items       []Item `json:"items,omitempty"`
	CancelURL   string `json:"cancelUrl"`
	ReturnURL   string `json:"returnUrl"`
	ExpiredAt   int64  `json:"expiredAt,omitempty"`
	Signature   string `json:"signature"`
}

type envelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

type linkData struct {
	PaymentLinkID string `json:"paymentLinkId"`
	CheckoutURL   string `json:"checkoutUrl"`
}

// CreatePaymentLink requests a hosted checkout link for req.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (*Link, error) {
	ctx, span := util.StartSpan(ctx, "PaymentGateway.CreatePaymentLink")
	defer span.End()

	description := truncate(req.Description, maxDescriptionLen)
	body := createLinkBody{
		OrderCode:   req.Ref,
		Amount:      req.Amount,
		Description: description,
		BuyerName:   req.BuyerName,
		BuyerPhone:  req.BuyerPhone,
		Items:       req.Items,
		CancelURL:   c.cfg.CancelURL,
		ReturnURL:   c.cfg.ReturnURL,
		Signature:   Sign(c.cfg.ChecksumKey, req.Amount, c.cfg.CancelURL, description, req.Ref, c.cfg.ReturnURL),
	}
	if !req.ExpiresAt.IsZero() {
		body.ExpiredAt = req.ExpiresAt.Unix()
	}

	start := time.Now()
	var data linkData
	err := c.do(ctx, http.MethodPost, "/v2/payment-requests", body, &data)
	util.PaymentProviderLatency.WithLabelValues("create_link").Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("Payment link request failed",
			zap.Int64("ref", req.Ref),
			zap.Error(err))
		return nil, err
	}
	if data.CheckoutURL == "" {
		return nil, fmt.Errorf("provider returned empty checkout url for ref %d", req.Ref)
	}

	c.logger.Info("Payment link created",
		zap.Int64("ref", req.Ref),
		zap.String("link_id", data.PaymentLinkID))

	return &Link{
		LinkID:      data.PaymentLinkID,
		CheckoutURL: data.CheckoutURL,
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// CancelPaymentLink invalidates the link issued for ref.
func (c *Client) CancelPaymentLink(ctx context.Context, ref int64, reason string) error {
	ctx, span := util.StartSpan(ctx, "PaymentGateway.CancelPaymentLink")
	defer span.End()

	start := time.Now()
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v2/payment-requests/%d/cancel", ref),
		map[string]string{"cancellationReason": reason}, nil)
	util.PaymentProviderLatency.WithLabelValues("cancel_link").Observe(time.Since(start).Seconds())
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", c.cfg.ClientID)
	req.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach payment provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment provider error (%d): %s", resp.StatusCode, string(respBody))
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to parse provider response: %w", err)
	}
	if env.Code != successCode {
		return fmt.Errorf("payment provider rejected request: code=%s desc=%s", env.Code, env.Desc)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to parse provider data: %w", err)
		}
	}
	return nil
}

// Sign computes the request signature: HMAC-SHA256 over the alphabetically
// ordered key=value pairs, hex encoded.
func Sign(checksumKey string, amount int64, cancelURL, description string, ref int64, returnURL string) string {
	data := fmt.Sprintf("amount=%d&cancelUrl=%s&description=%s&orderCode=%d&returnUrl=%s",
		amount, cancelURL, description, ref, returnURL)
	mac := hmac.New(sha256.New, []byte(checksumKey))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
