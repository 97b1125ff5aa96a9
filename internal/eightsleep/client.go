// Package eightsleep is a client for the smart-mattress vendor's cloud
// REST API. It handles session authentication, device discovery, raw
// device snapshots, and per-user sleep interval retrieval. Derived
// metrics (presence, session views) live in the bed package; this
// package only moves JSON.
package eightsleep

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
	"slices"
	"sync"
	"time"

	"github.com/nugget/sleepside/internal/httpkit"
)

// DefaultBaseURL is the production cloud API endpoint.
const DefaultBaseURL = "https://client-api.8slp.net/v1"

// timeLayout matches the API's millisecond UTC timestamp text, used
// for both session token expiry and interval timestamps.
const timeLayout = "2006-01-02T15:04:05.000Z"

// tokenRefreshWindow is how long before expiry the session token is
// renewed. The API issues 15-day tokens; renewing an hour early keeps
// long-running pollers from racing the expiration.
const tokenRefreshWindow = time.Hour

// ErrNotAuthenticated is returned when a request requiring a session
// token is made before Login has succeeded.
var ErrNotAuthenticated = errors.New("eightsleep: not authenticated")

// APIError is a non-2xx response from the cloud API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("eightsleep API error %d: %s", e.Status, e.Body)
}

// Client is a cloud API client for one account. All methods are safe
// for concurrent use; the session token is refreshed transparently
// when a request finds it within the refresh window.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	userID       string
	token        string
	tokenExpires time.Time
}

// NewClient creates a cloud API client. An empty baseURL selects the
// production endpoint; tests point it at an httptest server.
func NewClient(baseURL, email, password string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  baseURL,
		email:    email,
		password: password,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(20*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// Login exchanges the account credentials for a session token. It is
// called once at startup and again transparently whenever the token
// nears expiry.
func (c *Client) Login(ctx context.Context) error {
	payload := map[string]string{"email": c.email, "password": c.password}

	var out struct {
		Session struct {
			UserID         string `json:"userId"`
			Token          string `json:"token"`
			ExpirationDate string `json:"expirationDate"`
		} `json:"session"`
	}
	if err := c.do(ctx, http.MethodPost, "/login", nil, payload, &out, false); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	expires, err := time.Parse(timeLayout, out.Session.ExpirationDate)
	if err != nil {
		return fmt.Errorf("login: parse expirationDate %q: %w", out.Session.ExpirationDate, err)
	}

	c.mu.Lock()
	c.userID = out.Session.UserID
	c.token = out.Session.Token
	c.tokenExpires = expires
	c.mu.Unlock()

	c.logger.Debug("eightsleep session established",
		"user_id", out.Session.UserID,
		"expires", expires,
	)
	return nil
}

// UserID returns the account owner's user ID, or empty before Login.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Profile describes the logged-in account: its devices and whether the
// device is a pod (has the cooling feature).
type Profile struct {
	DeviceIDs []string
	IsPod     bool
}

// Profile fetches the account profile from /users/me.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var out struct {
		User struct {
			Devices  []string `json:"devices"`
			Features []string `json:"features"`
		} `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	return &Profile{
		DeviceIDs: out.User.Devices,
		IsPod:     slices.Contains(out.User.Features, "cooling"),
	}, nil
}

// Owners holds the user IDs bound to each side of a device. An empty
// ID means that side is unassigned.
type Owners struct {
	OwnerID     string `json:"ownerId"`
	LeftUserID  string `json:"leftUserId"`
	RightUserID string `json:"rightUserId"`
}

// DeviceOwners fetches the per-side user assignment for a device.
func (c *Client) DeviceOwners(ctx context.Context, deviceID string) (*Owners, error) {
	params := url.Values{"filter": {"ownerId,leftUserId,rightUserId"}}

	var out struct {
		Result Owners `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices/"+deviceID, params, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetch device owners: %w", err)
	}
	return &out.Result, nil
}

// Device fetches the current raw device-state snapshot.
func (c *Client) Device(ctx context.Context, deviceID string) (Snapshot, error) {
	var out struct {
		Result Snapshot `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/devices/"+deviceID, nil, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetch device snapshot: %w", err)
	}
	return out.Result, nil
}

// Intervals fetches a user's sleep interval list, newest first.
func (c *Client) Intervals(ctx context.Context, userID string) ([]Interval, error) {
	var out struct {
		Intervals []Interval `json:"intervals"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+userID+"/intervals", nil, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetch intervals: %w", err)
	}
	return out.Intervals, nil
}

// Trends fetches per-day trend documents for a user over a date range
// (YYYY-MM-DD, inclusive). The documents are returned as raw JSON;
// the daemon does not currently reduce them.
func (c *Client) Trends(ctx context.Context, userID, timezone, from, to string) ([]json.RawMessage, error) {
	params := url.Values{
		"tz":   {timezone},
		"from": {from},
		"to":   {to},
	}

	var out struct {
		Days []json.RawMessage `json:"days"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/"+userID+"/trends", params, nil, &out, true); err != nil {
		return nil, fmt.Errorf("fetch trends: %w", err)
	}
	return out.Days, nil
}

// SetHeatingLevel writes a target heating level and duration for one
// side of a device. Levels outside [10, 100] are clamped rather than
// rejected, matching the vendor app's behavior.
func (c *Client) SetHeatingLevel(ctx context.Context, deviceID, side string, level, durationSec int) error {
	if side != "left" && side != "right" {
		return fmt.Errorf("set heating level: unknown side %q", side)
	}
	if level < 10 {
		level = 10
	}
	if level > 100 {
		level = 100
	}

	payload := map[string]int{
		side + "TargetHeatingLevel": level,
		side + "HeatingDuration":    durationSec,
	}
	if err := c.do(ctx, http.MethodPut, "/devices/"+deviceID, nil, payload, nil, true); err != nil {
		return fmt.Errorf("set heating level: %w", err)
	}

	c.logger.Debug("heating level set",
		"device_id", deviceID,
		"side", side,
		"level", level,
		"duration_sec", durationSec,
	)
	return nil
}

// sessionToken returns a valid session token, re-logging-in first when
// the stored token is within the refresh window of its expiry.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expires := c.token, c.tokenExpires
	c.mu.Unlock()

	if token == "" {
		return "", ErrNotAuthenticated
	}

	if time.Until(expires) < tokenRefreshWindow {
		c.logger.Debug("refreshing session token before expiration", "expires", expires)
		if err := c.Login(ctx); err != nil {
			return "", fmt.Errorf("refresh session token: %w", err)
		}
		c.mu.Lock()
		token = c.token
		c.mu.Unlock()
	}

	return token, nil
}

// do performs one API request. A nil out skips response decoding.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload, out any, withToken bool) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if withToken {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Session-Token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Status: resp.StatusCode,
			Body:   httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
