package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// aroundLimit is how many messages are fetched on each side of a search
// match by GetMessagesAround.
const aroundLimit = 3

// Client is a typed facade over the Slack Web API. It is immutable after
// construction and safe for concurrent use; the HTTP client's connection
// pool is the only shared resource.
type Client struct {
	http      *http.Client
	baseURL   string
	botToken  string
	userToken string
	appToken  string
	logger    *slog.Logger
}

// Options configures a Client. BotToken is required. UserToken, when set, is
// used for search.messages (search needs a scope bot tokens lack). AppToken
// is only needed for ConnectSocket.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	BotToken   string
	UserToken  string
	AppToken   string
	Logger     *slog.Logger
}

// New builds a Client.
func New(opts Options) (*Client, error) {
	botToken := strings.TrimSpace(opts.BotToken)
	if botToken == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := strings.TrimSpace(strings.TrimRight(opts.BaseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:      httpClient,
		baseURL:   baseURL,
		botToken:  botToken,
		userToken: strings.TrimSpace(opts.UserToken),
		appToken:  strings.TrimSpace(opts.AppToken),
		logger:    logger,
	}, nil
}

func (c *Client) searchToken() string {
	if c.userToken != "" {
		return c.userToken
	}
	return c.botToken
}

type searchResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Messages struct {
		Total   int       `json:"total"`
		Matches []Message `json:"matches"`
	} `json:"messages"`
}

// SearchMessages queries the workspace message index. Sort selects the
// ranking; count bounds the result size.
func (c *Client) SearchMessages(ctx context.Context, query string, count int, sort SearchSort) ([]Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is required")
	}
	if count <= 0 {
		return nil, fmt.Errorf("search count must be positive")
	}
	var out searchResponse
	err := c.getJSON(ctx, c.searchToken(), "search.messages", url.Values{
		"query": {query},
		"count": {strconv.Itoa(count)},
		"sort":  {string(sort)},
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Op: "search.messages", Code: out.Error}
	}
	return out.Messages.Matches, nil
}

type historyResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more,omitempty"`
}

// GetChannelHistory fetches up to limit messages from a channel, newest
// first as the platform returns them.
func (c *Client) GetChannelHistory(ctx context.Context, channel string, limit int) ([]Message, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive")
	}
	return c.history(ctx, url.Values{
		"channel": {channel},
		"limit":   {strconv.Itoa(limit)},
	})
}

func (c *Client) history(ctx context.Context, params url.Values) ([]Message, error) {
	var out historyResponse
	if err := c.getJSON(ctx, c.botToken, "conversations.history", params, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Op: "conversations.history", Code: out.Error}
	}
	return out.Messages, nil
}

// GetMessagesAround fetches the three messages strictly older and the three
// strictly newer than targetTS in one channel. The two range queries run
// concurrently; both must succeed. The "before" window is returned in
// ascending chronological order (the platform hands it back newest first).
func (c *Client) GetMessagesAround(ctx context.Context, channel, targetTS string) (MessagesAround, error) {
	if strings.TrimSpace(channel) == "" {
		return MessagesAround{}, fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(targetTS) == "" {
		return MessagesAround{}, fmt.Errorf("target ts is required")
	}

	var before, after []Message
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		before, err = c.history(gctx, url.Values{
			"channel":   {channel},
			"latest":    {targetTS},
			"limit":     {strconv.Itoa(aroundLimit)},
			"inclusive": {"false"},
		})
		return err
	})
	g.Go(func() error {
		var err error
		after, err = c.history(gctx, url.Values{
			"channel":   {channel},
			"oldest":    {targetTS},
			"limit":     {strconv.Itoa(aroundLimit)},
			"inclusive": {"false"},
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return MessagesAround{}, err
	}

	// conversations.history returns newest first; restore ascending order.
	for i, j := 0, len(before)-1; i < j; i, j = i+1, j-1 {
		before[i], before[j] = before[j], before[i]
	}
	return MessagesAround{Before: before, After: after}, nil
}

type repliesResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Messages []Message `json:"messages"`
}

// GetThreadMessages fetches all replies under a thread root, the root
// included as the platform returns it.
func (c *Client) GetThreadMessages(ctx context.Context, channel, threadTS string) ([]Message, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(threadTS) == "" {
		return nil, fmt.Errorf("thread ts is required")
	}
	var out repliesResponse
	err := c.getJSON(ctx, c.botToken, "conversations.replies", url.Values{
		"channel": {channel},
		"ts":      {threadTS},
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Op: "conversations.replies", Code: out.Error}
	}
	return out.Messages, nil
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// PostMessage posts text to a channel, threading under threadTS when set.
// Rate-limit (Retry-After) and 5xx responses are retried up to three
// attempts; everything else fails fast. Returns the posted message ts.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	channel = strings.TrimSpace(channel)
	text = strings.TrimSpace(text)
	if channel == "" {
		return "", fmt.Errorf("channel is required")
	}
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := c.roundTrip(ctx, c.botToken, http.MethodPost, "chat.postMessage", nil, postMessageRequest{
			Channel:  channel,
			Text:     text,
			ThreadTS: strings.TrimSpace(threadTS),
		})
		if err != nil {
			lastErr = &TransportError{Op: "chat.postMessage", Err: err}
		} else if status < 200 || status >= 300 {
			lastErr = &TransportError{Op: "chat.postMessage", Status: status}
		} else {
			var out postMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = &DecodeError{Op: "chat.postMessage", Err: parseErr}
			} else if out.OK {
				return out.TS, nil
			} else {
				lastErr = &APIError{Op: "chat.postMessage", Code: out.Error}
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := retryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

type updateMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Text    string `json:"text"`
}

// UpdateMessage replaces the text of a previously posted message.
func (c *Client) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	if strings.TrimSpace(channel) == "" || strings.TrimSpace(ts) == "" {
		return fmt.Errorf("channel and ts are required")
	}
	var out envelope
	err := c.postJSON(ctx, c.botToken, "chat.update", updateMessageRequest{
		Channel: channel,
		TS:      ts,
		Text:    text,
	}, &out)
	if err != nil {
		return err
	}
	if !out.OK {
		return &APIError{Op: "chat.update", Code: out.Error}
	}
	return nil
}

type addReactionRequest struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, channel, ts, emoji string) error {
	if strings.TrimSpace(channel) == "" || strings.TrimSpace(ts) == "" || strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("channel, ts and emoji are required")
	}
	var out envelope
	err := c.postJSON(ctx, c.botToken, "reactions.add", addReactionRequest{
		Channel:   channel,
		Timestamp: ts,
		Name:      emoji,
	}, &out)
	if err != nil {
		return err
	}
	if !out.OK {
		return &APIError{Op: "reactions.add", Code: out.Error}
	}
	return nil
}

type usersListResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
	Members []User `json:"members"`
}

// ListUsers fetches the workspace member list.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out usersListResponse
	if err := c.getJSON(ctx, c.botToken, "users.list", nil, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Op: "users.list", Code: out.Error}
	}
	return out.Members, nil
}

type channelsListResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Channels []Channel `json:"channels"`
}

// ListChannels fetches the public and private conversations visible to the
// bot.
func (c *Client) ListChannels(ctx context.Context) ([]Channel, error) {
	var out channelsListResponse
	err := c.getJSON(ctx, c.botToken, "conversations.list", url.Values{
		"types": {"public_channel,private_channel"},
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Op: "conversations.list", Code: out.Error}
	}
	return out.Channels, nil
}

// AuthTestResult identifies the authenticated bot.
type AuthTestResult struct {
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

type authTestResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	AuthTestResult
}

// AuthTest validates the bot token and returns the bot's identity.
func (c *Client) AuthTest(ctx context.Context) (AuthTestResult, error) {
	var out authTestResponse
	if err := c.postJSON(ctx, c.botToken, "auth.test", nil, &out); err != nil {
		return AuthTestResult{}, err
	}
	if !out.OK {
		return AuthTestResult{}, &APIError{Op: "auth.test", Code: out.Error}
	}
	return out.AuthTestResult, nil
}

type openConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

// ConnectSocket opens a Socket Mode connection using the app-level token.
func (c *Client) ConnectSocket(ctx context.Context) (*websocket.Conn, error) {
	if c.appToken == "" {
		return nil, fmt.Errorf("slack app token is required for socket mode")
	}
	var out openConnectionResponse
	if err := c.postJSON(ctx, c.appToken, "apps.connections.open", nil, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &APIError{Op: "apps.connections.open", Code: out.Error}
	}
	socketURL := strings.TrimSpace(out.URL)
	if socketURL == "" {
		return nil, &DecodeError{Op: "apps.connections.open", Err: fmt.Errorf("empty url")}
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "apps.connections.open", Err: err}
	}
	return conn, nil
}

// envelope is the minimal ok/error response shared by write endpoints.
type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (c *Client) getJSON(ctx context.Context, token, method string, params url.Values, out any) error {
	body, status, _, err := c.roundTrip(ctx, token, http.MethodGet, method, params, nil)
	if err != nil {
		return &TransportError{Op: method, Err: err}
	}
	if status < 200 || status >= 300 {
		return &TransportError{Op: method, Status: status}
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("slack_decode_error", "method", method, "error", err.Error())
		return &DecodeError{Op: method, Err: err}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, token, method string, payload, out any) error {
	body, status, _, err := c.roundTrip(ctx, token, http.MethodPost, method, nil, payload)
	if err != nil {
		return &TransportError{Op: method, Err: err}
	}
	if status < 200 || status >= 300 {
		return &TransportError{Op: method, Status: status}
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("slack_decode_error", "method", method, "error", err.Error())
		return &DecodeError{Op: method, Err: err}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, token, httpMethod, method string, params url.Values, payload any) ([]byte, int, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, 0, nil, fmt.Errorf("slack client is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}

	endpoint := c.baseURL + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}

func retryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
