// Package client talks to the ironwill API over HTTP and maps responses
// back onto the shared error kinds, so callers handle remote failures the
// same way as local ones.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ironwill/internal/errs"
	"ironwill/internal/model"
	"ironwill/internal/realtime"
	"ironwill/pkg/trace"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// WithHTTPClient replaces the transport, e.g. with httptest's client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return 0, errs.Transient(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("API call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errs.Transient(op, err)
	}

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusNotFound && out != nil {
			// 404 body may still carry fields (e.g. today's date)
			_ = json.Unmarshal(raw, out)
		}
		return resp.StatusCode, statusError(op, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

func statusError(op string, status int, raw []byte) error {
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	if eb.Error == "" {
		eb.Error = http.StatusText(status)
	}

	switch {
	case status == http.StatusBadRequest:
		reason := eb.Reason
		if reason == "" {
			reason = eb.Error
		}
		return &errs.ValidationError{Field: eb.Field, Reason: reason}
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway || status == http.StatusGatewayTimeout:
		return errs.Transient(op, errors.New(eb.Error))
	default:
		return fmt.Errorf("%s: status %d: %s", op, status, eb.Error)
	}
}

type logEnvelope struct {
	Log     model.DailyLog `json:"log"`
	Created bool           `json:"created"`
}

// TodaysLog returns the server's today date and its log; Log is nil when
// the day has no log yet.
func (c *Client) TodaysLog(ctx context.Context) (model.TodayLog, error) {
	var out model.TodayLog
	_, err := c.do(ctx, http.MethodGet, "/logs/today", nil, &out)
	if errs.IsNotFound(err) && out.Date != "" {
		return model.TodayLog{Date: out.Date}, nil
	}
	if err != nil {
		return model.TodayLog{}, err
	}
	return out, nil
}

func (c *Client) DailyLogs(ctx context.Context, limit int) ([]model.DailyLog, error) {
	var out struct {
		Logs []model.DailyLog `json:"logs"`
	}
	path := "/logs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	if _, err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func (c *Client) GetDailyLog(ctx context.Context, id string) (model.DailyLog, error) {
	var out logEnvelope
	_, err := c.do(ctx, http.MethodGet, "/logs/"+url.PathEscape(id), nil, &out)
	return out.Log, err
}

func (c *Client) UpsertDailyLog(ctx context.Context, in model.UpsertInput) (model.DailyLog, error) {
	var out logEnvelope
	_, err := c.do(ctx, http.MethodPost, "/logs", in, &out)
	return out.Log, err
}

func (c *Client) DeleteDailyLog(ctx context.Context, id string) (model.DailyLog, error) {
	var out logEnvelope
	_, err := c.do(ctx, http.MethodDelete, "/logs/"+url.PathEscape(id), nil, &out)
	return out.Log, err
}

func (c *Client) ActiveChallenges(ctx context.Context) ([]model.UserChallenge, error) {
	var out struct {
		Challenges []model.UserChallenge `json:"challenges"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/challenges/active", nil, &out); err != nil {
		return nil, err
	}
	return out.Challenges, nil
}

func (c *Client) Stats(ctx context.Context) (model.Statistics, error) {
	var out struct {
		Stats model.Statistics `json:"stats"`
	}
	_, err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out.Stats, err
}

func (c *Client) Achievements(ctx context.Context) ([]model.UserAchievement, error) {
	var out struct {
		Achievements []model.UserAchievement `json:"achievements"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/achievements", nil, &out); err != nil {
		return nil, err
	}
	return out.Achievements, nil
}

// Watch streams realtime messages to fn until ctx is done or the server
// closes the connection.
func (c *Client) Watch(ctx context.Context, fn func(realtime.Message)) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return errs.Transient("GET /ws", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("GET /ws: %w", err)
		}
		fn(msg)
	}
}
