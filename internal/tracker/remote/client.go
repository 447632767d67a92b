package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/cedrickato-personal/kensho-app/internal/tracker/schema"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL of the kensho server, e.g. http://localhost:8787.
	BaseURL string

	// Token is the bearer token identifying the user.
	Token string

	// DeviceID is sent with every write and used to recognize self-echoes.
	DeviceID string

	// Timeout bounds each request (default 10s). Subscriptions are not bounded.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client is the network implementation of Store.
type Client struct {
	base     *url.URL
	token    string
	deviceID string
	http     *http.Client
	logger   *log.Logger
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remote url must be http or https, got %q", base.Scheme)
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default().WithPrefix("remote")
	}

	return &Client{
		base:     base,
		token:    cfg.Token,
		deviceID: cfg.DeviceID,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

func (c *Client) endpoint(scheme string, segments ...string) string {
	u := *c.base
	if scheme != "" {
		u.Scheme = scheme
	}
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	h.Set(HeaderDeviceID, c.deviceID)
	return h
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = c.headers()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body ErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	default:
		return fmt.Errorf("remote: server returned %d: %s", resp.StatusCode, msg)
	}
}

// Authenticate implements Store.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var who WhoAmI
	if err := c.do(ctx, http.MethodGet, c.endpoint("", "v1", "whoami"), nil, &who); err != nil {
		return "", err
	}
	if who.UserID == "" {
		return "", fmt.Errorf("%w: server returned no user id", ErrUnauthorized)
	}
	return who.UserID, nil
}

// Fetch implements Store.
func (c *Client) Fetch(ctx context.Context, userID string) (schema.Snapshot, error) {
	var list DocumentList
	if err := c.do(ctx, http.MethodGet, c.endpoint("", "v1", "tenant", userID, "records"), nil, &list); err != nil {
		return schema.Snapshot{}, err
	}
	records, err := DecodeRecords(list.Documents)
	if err != nil {
		return schema.Snapshot{}, err
	}

	snap := schema.Snapshot{Records: records}
	err = c.do(ctx, http.MethodGet, c.endpoint("", "v1", "tenant", userID, "meta", schema.MetaConfigID), nil, &snap.Metadata)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return schema.Snapshot{}, err
	}
	return snap, nil
}

// PutRecords implements Store.
func (c *Client) PutRecords(ctx context.Context, userID string, records map[string]*schema.Record) error {
	encoded, err := EncodeRecords(records)
	if err != nil {
		return err
	}
	if len(encoded) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, c.endpoint("", "v1", "tenant", userID, "records:batch"), RecordBatch{Records: encoded}, nil)
}

// PutMeta implements Store.
func (c *Client) PutMeta(ctx context.Context, userID string, meta schema.Metadata) error {
	return c.do(ctx, http.MethodPut, c.endpoint("", "v1", "tenant", userID, "meta", schema.MetaConfigID), meta, nil)
}

// GetProfile implements Store.
func (c *Client) GetProfile(ctx context.Context, userID string) (*schema.Record, error) {
	var profile schema.Record
	err := c.do(ctx, http.MethodGet, c.endpoint("", "v1", "tenant", userID, "meta", schema.MetaProfileID), nil, &profile)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// PutProfile implements Store.
func (c *Client) PutProfile(ctx context.Context, userID string, profile *schema.Record) error {
	return c.do(ctx, http.MethodPut, c.endpoint("", "v1", "tenant", userID, "meta", schema.MetaProfileID), profile, nil)
}

// Reset implements Store.
func (c *Client) Reset(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("", "v1", "tenant", userID), nil, nil)
}

// Subscribe implements Store. The WebSocket handshake is bounded by ctx;
// the channel itself lives until Close.
func (c *Client) Subscribe(ctx context.Context, userID string, fn func(Batch)) (Subscription, error) {
	scheme := "ws"
	if c.base.Scheme == "https" {
		scheme = "wss"
	}

	conn, resp, err := websocket.Dial(ctx, c.endpoint(scheme, "v1", "tenant", userID, "watch"), &websocket.DialOptions{
		HTTPHeader: c.headers(),
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("failed to open push channel: %w", err)
	}
	conn.SetReadLimit(32 << 20)

	loop := func(ctx context.Context) error {
		for {
			var wb WireBatch
			if err := wsjson.Read(ctx, conn, &wb); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("push channel closed: %w", err)
			}

			batch, err := DecodeBatch(wb, c.deviceID)
			if err != nil {
				c.logger.Warn("skipping undecodable changes", "err", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			fn(batch)
		}
	}
	cleanup := func() {
		_ = conn.CloseNow()
	}
	return startSubscription(context.WithoutCancel(ctx), loop, cleanup), nil
}
