package livesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig holds configuration for the backend HTTP client.
type ClientConfig struct {
	BaseURL     string
	Token       string // bearer credential from the identity provider, opaque
	Timeout     time.Duration
	MaxAttempts int           // attempts per request on transient failures
	RetryBase   time.Duration // first backoff delay, doubled per attempt
	RetryMax    time.Duration // backoff cap
}

// DefaultClientConfig returns the default HTTP client configuration.
func DefaultClientConfig(baseURL, token string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		Token:       token,
		Timeout:     30 * time.Second,
		MaxAttempts: 4,
		RetryBase:   200 * time.Millisecond,
		RetryMax:    5 * time.Second,
	}
}

// Client talks to the authoritative backend over HTTP. Reads (snapshot
// fetches) retry transparently on transient failures; writes are forwarded
// once and the server's decision is final.
type Client struct {
	cfg    ClientConfig
	client *http.Client
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// FetchAuctionState pulls the authoritative snapshot, bid history and chat
// transcript for one auction. Pure read, safe to retry.
func (c *Client) FetchAuctionState(ctx context.Context, auctionID string) (*AuctionState, error) {
	var state AuctionState
	if err := c.getJSON(ctx, "/auctions/"+auctionID+"/state", &state); err != nil {
		return nil, fmt.Errorf("failed to fetch auction state: %w", err)
	}
	return &state, nil
}

// FetchNotifications pulls the newest-first bounded inbox for the
// authenticated user.
func (c *Client) FetchNotifications(ctx context.Context, limit int) ([]NotificationEvent, error) {
	var out []NotificationEvent
	path := "/users/me/notifications?limit=" + strconv.Itoa(limit)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	return out, nil
}

// SubmitBid forwards a bid to the authoritative write path. The backend is
// the sole arbiter: a 409 means another bid won the race (ErrRejected), which
// callers treat as a normal outcome.
func (c *Client) SubmitBid(ctx context.Context, auctionID string, amount int64) error {
	body := map[string]int64{"amount": amount}
	if err := c.postJSON(ctx, "/auctions/"+auctionID+"/bids", body, nil); err != nil {
		return fmt.Errorf("failed to submit bid: %w", err)
	}
	return nil
}

// BuyNow forwards a buy-now purchase to the authoritative write path.
func (c *Client) BuyNow(ctx context.Context, auctionID string) error {
	if err := c.postJSON(ctx, "/auctions/"+auctionID+"/buy", struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to buy now: %w", err)
	}
	return nil
}

// PostChatMessage appends a text message to the auction chat.
func (c *Client) PostChatMessage(ctx context.Context, auctionID, body string) error {
	payload := map[string]string{"body": body}
	if err := c.postJSON(ctx, "/auctions/"+auctionID+"/chat", payload, nil); err != nil {
		return fmt.Errorf("failed to post chat message: %w", err)
	}
	return nil
}

// MarkNotificationRead submits a read receipt. Idempotent server-side, so a
// duplicate submit is harmless.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.postJSON(ctx, "/notifications/"+id+"/read", struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	delay := c.cfg.RetryBase

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}

		log.Warn().
			Err(err).
			Str("path", path).
			Int("attempt", attempt).
			Msg("transient backend failure, backing off")

		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.RetryMax {
			delay = c.cfg.RetryMax
		}
	}
	return lastErr
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, data, out)
}

// errorBody is the backend's error response shape.
type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound

	case resp.StatusCode == http.StatusConflict:
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error != "" {
			return fmt.Errorf("%w: %s", ErrRejected, eb.Error)
		}
		return ErrRejected

	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: backend returned status %d", ErrTransient, resp.StatusCode)

	default:
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}
}

func isTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
