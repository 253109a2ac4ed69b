package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tendant/callgate/internal/domain"
	"github.com/tendant/callgate/internal/metrics"
)

// RESTConfig configures the REST provider adapter.
type RESTConfig struct {
	BaseURL string
	// AccountID and APIKey authenticate master-account operations (subaccount lifecycle).
	AccountID string
	APIKey    string
	// MaxReadAttempts bounds retries of idempotent GET requests.
	MaxReadAttempts uint
}

// RESTClient talks to the provider's JSON REST API. Only GET requests are retried;
// purchases and call placements are surfaced to the caller on the first failure.
type RESTClient struct {
	logger     *slog.Logger
	httpClient *http.Client
	cfg        RESTConfig
}

// NewRESTClient creates a new REST provider adapter.
func NewRESTClient(logger *slog.Logger, cfg RESTConfig, httpClient *http.Client) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.MaxReadAttempts == 0 {
		cfg.MaxReadAttempts = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &RESTClient{
		logger:     logger.With("component", "telephony"),
		httpClient: httpClient,
		cfg:        cfg,
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *RESTClient) master() Credentials {
	return Credentials{AccountID: c.cfg.AccountID, Secret: c.cfg.APIKey}
}

// CreateSubaccount creates an isolated sub-identity under the master account.
func (c *RESTClient) CreateSubaccount(ctx context.Context, friendlyName string) (*Subaccount, error) {
	var out Subaccount
	body := map[string]string{"friendly_name": friendlyName}
	if err := c.do(ctx, "create_subaccount", c.master(), http.MethodPost, "/v1/subaccounts", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" || out.Secret == "" {
		return nil, &domain.ProviderError{Op: "create_subaccount", Err: errors.New("empty credentials in response")}
	}
	return &out, nil
}

// CloseSubaccount closes a sub-identity.
func (c *RESTClient) CloseSubaccount(ctx context.Context, id string) error {
	return c.do(ctx, "close_subaccount", c.master(), http.MethodDelete, "/v1/subaccounts/"+url.PathEscape(id), nil, nil)
}

// SearchNumbers lists available numbers, optionally filtered by area code.
func (c *RESTClient) SearchNumbers(ctx context.Context, creds Credentials, areaCode string, limit int) ([]string, error) {
	q := url.Values{}
	if areaCode != "" {
		q.Set("area_code", areaCode)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := c.accountPath(creds, "/available-numbers")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Numbers []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"numbers"`
	}
	if err := c.get(ctx, "search_numbers", creds, path, &out); err != nil {
		return nil, err
	}

	numbers := make([]string, 0, len(out.Numbers))
	for _, n := range out.Numbers {
		numbers = append(numbers, n.PhoneNumber)
	}
	return numbers, nil
}

// PurchaseNumber buys number and points its voice webhooks at urls.
func (c *RESTClient) PurchaseNumber(ctx context.Context, creds Credentials, number string, urls VoiceURLs) (*PurchasedNumber, error) {
	body := map[string]string{
		"phone_number":        number,
		"voice_url":           urls.VoiceURL,
		"status_callback_url": urls.StatusCallbackURL,
	}
	var out PurchasedNumber
	if err := c.do(ctx, "purchase_number", creds, http.MethodPost, c.accountPath(creds, "/numbers"), body, &out); err != nil {
		var perr *domain.ProviderError
		if errors.As(err, &perr) && !perr.Retryable {
			return nil, fmt.Errorf("%w: %w", domain.ErrPurchaseFailed, err)
		}
		return nil, err
	}
	if out.Number == "" {
		out.Number = number
	}
	return &out, nil
}

// StartVerificationCall places the caller ID verification call.
func (c *RESTClient) StartVerificationCall(ctx context.Context, creds Credentials, req VerificationCallRequest) (string, error) {
	body := map[string]string{
		"phone_number":        req.Number,
		"friendly_name":       req.Label,
		"validation_code":     req.Code,
		"status_callback_url": req.CallbackURL,
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, "start_verification", creds, http.MethodPost, c.accountPath(creds, "/caller-ids/verifications"), body, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", &domain.ProviderError{Op: "start_verification", Err: errors.New("empty session id in response")}
	}
	return out.SessionID, nil
}

// FetchVerificationStatus reads the provider-side state of a verification session.
func (c *RESTClient) FetchVerificationStatus(ctx context.Context, creds Credentials, sessionID string) (domain.VerificationStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := c.accountPath(creds, "/caller-ids/verifications/"+url.PathEscape(sessionID))
	if err := c.get(ctx, "fetch_verification", creds, path, &out); err != nil {
		return "", err
	}
	return ParseVerificationOutcome(out.Status), nil
}

// PlaceCall places an outbound call.
func (c *RESTClient) PlaceCall(ctx context.Context, creds Credentials, req CallRequest) (string, error) {
	body := map[string]string{
		"from":            req.From,
		"to":              req.To,
		"url":             req.AnswerURL,
		"status_callback": req.StatusCallbackURL,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "place_call", creds, http.MethodPost, c.accountPath(creds, "/calls"), body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ParseVerificationOutcome maps provider outcome strings to verification statuses.
// Anything unrecognised is treated as still pending.
func ParseVerificationOutcome(s string) domain.VerificationStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "verified", "matched", "approved":
		return domain.VerificationSuccess
	case "failed", "failure", "mismatch", "rejected", "canceled", "expired":
		return domain.VerificationFailed
	default:
		return domain.VerificationPending
	}
}

func (c *RESTClient) accountPath(creds Credentials, suffix string) string {
	return "/v1/accounts/" + url.PathEscape(creds.AccountID) + suffix
}

// get retries transient failures with exponential backoff.
func (c *RESTClient) get(ctx context.Context, op string, creds Credentials, path string, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.do(ctx, op, creds, http.MethodGet, path, nil, out)
		if err != nil && !domain.IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.cfg.MaxReadAttempts))
	return err
}

func (c *RESTClient) do(ctx context.Context, op string, creds Credentials, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("telephony: marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("telephony: build %s request: %w", op, err)
	}
	req.SetBasicAuth(creds.AccountID, creds.Secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.fail(ctx, op, true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.fail(ctx, op, true, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return c.fail(ctx, op, retryable, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return c.fail(ctx, op, false, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func (c *RESTClient) fail(ctx context.Context, op string, retryable bool, err error) error {
	metrics.ProviderErrors.WithLabelValues(op, strconv.FormatBool(retryable)).Inc()
	c.logger.WarnContext(ctx, "provider request failed", "op", op, "retryable", retryable, "error", err)
	return &domain.ProviderError{Op: op, Retryable: retryable, Err: err}
}
