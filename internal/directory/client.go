// Package directory is the pull-based REST accessor for conversation
// summaries, eligible chat partners, and per-partner message history.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campuslink/chat-sync/internal/model"
	"github.com/campuslink/chat-sync/pkg/metrics"
)

// Client calls the portal's REST API with the held bearer credential.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates a directory client against baseURL (no trailing slash).
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer: otel.Tracer("chat-sync/directory"),
	}
}

// ListConversations returns conversation summaries, most recently active
// first, with server-computed unread counts and previews.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.get(ctx, "list_conversations", "/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPartners returns all addressable counterparts, whether or not a
// conversation exists with them yet.
func (c *Client) ListPartners(ctx context.Context) ([]model.ChatPartner, error) {
	var out []model.ChatPartner
	if err := c.get(ctx, "list_partners", "/partners", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchHistory returns the full exchanged history with one partner,
// ascending by creation time. There is no pagination; the entire history is
// always fetched.
func (c *Client) FetchHistory(ctx context.Context, partnerID int64) ([]model.Message, error) {
	var out []model.Message
	path := "/messages/" + strconv.FormatInt(partnerID, 10)
	if err := c.get(ctx, "fetch_history", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "directory."+op,
		trace.WithAttributes(attribute.String("http.route", path)),
	)
	defer span.End()

	start := time.Now()
	err := c.doGet(ctx, op, path, out)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RecordDirectoryRequest(op, status, time.Since(start).Seconds())
	return err
}

func (c *Client) doGet(ctx context.Context, op, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Detail: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Detail: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Kind: KindUnauthorized, Op: op, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: KindServer, Op: op, Status: resp.StatusCode, Detail: readDetail(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindServer, Op: op, Status: resp.StatusCode, Detail: fmt.Sprintf("decode response: %v", err), Err: err}
	}
	return nil
}

// readDetail pulls a short error body for diagnostics, never failing.
func readDetail(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(b)
}
