package wecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcfcu2000/openclaw-wecom-kf/internal/config"
)

const (
	defaultBaseURL        = "https://qyapi.weixin.qq.com"
	defaultRequestTimeout = 15 * time.Second
	maxResponseBodyBytes  = 4 << 20

	// Result codes signalling an expired or invalidated credential.
	codeInvalidCredential = 40014
	codeCredentialExpired = 42001
)

// HTTPDoer is the minimal HTTP client surface, satisfied by *http.Client
// and by test fakes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-zero result code from the platform.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wecom: api error %d: %s", e.Code, e.Msg)
}

// ClientOptions configures the platform client.
type ClientOptions struct {
	BaseURL     string
	HTTPClient  HTTPDoer
	TokenMargin time.Duration
	Now         func() time.Time
}

// Client talks to the customer-service HTTP API. It owns the process-wide
// token cache; credentials are fetched lazily per corp id.
type Client struct {
	baseURL string
	http    HTTPDoer
	tokens  *TokenCache
	logger  zerolog.Logger
}

// NewClient creates a platform client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	tokens := NewTokenCache(opts.TokenMargin)
	if opts.Now != nil {
		tokens.now = opts.Now
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		tokens:  tokens,
		logger:  logger.With().Str("component", "wecom-client").Logger(),
	}
}

// Tokens exposes the token cache for invalidation and inspection.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// AccessToken returns a live access token for the account's corp,
// fetching one from the credential endpoint on a cache miss.
func (c *Client) AccessToken(ctx context.Context, account *config.Account) (string, error) {
	return c.tokens.Get(ctx, account.CorpID, func(ctx context.Context) (string, time.Duration, error) {
		q := url.Values{}
		q.Set("corpid", account.CorpID)
		q.Set("corpsecret", account.CorpSecret)

		var resp tokenResponse
		if err := c.getJSON(ctx, "/cgi-bin/gettoken?"+q.Encode(), &resp); err != nil {
			return "", 0, err
		}
		if resp.ErrCode != 0 {
			return "", 0, &APIError{Code: resp.ErrCode, Msg: resp.ErrMsg}
		}
		c.logger.Debug().
			Str("corp_id", account.CorpID).
			Int("expires_in", resp.ExpiresIn).
			Msg("Access token issued")
		return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
	})
}

// SyncMsgRequest is one page request against the sync endpoint. Cursor and
// Token are mutually exclusive: the delivery token seeds the very first
// pull, the cursor resumes every later one.
type SyncMsgRequest struct {
	Cursor   string `json:"cursor,omitempty"`
	Token    string `json:"token,omitempty"`
	OpenKfID string `json:"open_kfid"`
	Limit    int    `json:"limit,omitempty"`
}

// SyncMsgResponse is one page of synced messages.
type SyncMsgResponse struct {
	ErrCode    int               `json:"errcode"`
	ErrMsg     string            `json:"errmsg"`
	NextCursor string            `json:"next_cursor"`
	HasMore    int               `json:"has_more"`
	MsgList    []json.RawMessage `json:"msg_list"`
}

// Messages decodes the raw page items, keeping unknown types as
// passthrough entries.
func (r *SyncMsgResponse) Messages() ([]*SyncMessage, error) {
	msgs := make([]*SyncMessage, 0, len(r.MsgList))
	for _, raw := range r.MsgList {
		msg, err := DecodeSyncMessage(raw)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SyncMsg pulls one page of messages.
func (c *Client) SyncMsg(ctx context.Context, account *config.Account, req SyncMsgRequest) (*SyncMsgResponse, error) {
	var resp SyncMsgResponse
	err := c.postWithToken(ctx, account, "/cgi-bin/kf/sync_msg", req, &resp, func() int { return resp.ErrCode })
	if err != nil {
		return nil, err
	}
	if resp.ErrCode != 0 {
		return nil, &APIError{Code: resp.ErrCode, Msg: resp.ErrMsg}
	}
	return &resp, nil
}

type sendMsgRequest struct {
	ToUser   string       `json:"touser"`
	OpenKfID string       `json:"open_kfid"`
	MsgType  string       `json:"msgtype"`
	Text     *TextPayload `json:"text,omitempty"`
}

type sendMsgResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
	MsgID   string `json:"msgid"`
}

// SendText sends a text message to a customer within the service window.
func (c *Client) SendText(ctx context.Context, account *config.Account, toUser, openKfID, content string) (string, error) {
	req := sendMsgRequest{
		ToUser:   toUser,
		OpenKfID: openKfID,
		MsgType:  string(MsgTypeText),
		Text:     &TextPayload{Content: content},
	}
	var resp sendMsgResponse
	err := c.postWithToken(ctx, account, "/cgi-bin/kf/send_msg", req, &resp, func() int { return resp.ErrCode })
	if err != nil {
		return "", err
	}
	if resp.ErrCode != 0 {
		return "", &APIError{Code: resp.ErrCode, Msg: resp.ErrMsg}
	}
	return resp.MsgID, nil
}

type sendMsgOnEventRequest struct {
	Code    string       `json:"code"`
	MsgType string       `json:"msgtype"`
	Text    *TextPayload `json:"text,omitempty"`
}

// SendTextOnEvent redeems a single-use event code with a text message,
// used for the enter_session welcome.
func (c *Client) SendTextOnEvent(ctx context.Context, account *config.Account, code, content string) error {
	req := sendMsgOnEventRequest{
		Code:    code,
		MsgType: string(MsgTypeText),
		Text:    &TextPayload{Content: content},
	}
	var resp sendMsgResponse
	err := c.postWithToken(ctx, account, "/cgi-bin/kf/send_msg_on_event", req, &resp, func() int { return resp.ErrCode })
	if err != nil {
		return err
	}
	if resp.ErrCode != 0 {
		return &APIError{Code: resp.ErrCode, Msg: resp.ErrMsg}
	}
	return nil
}

// postWithToken posts a JSON body to path with the account's access token,
// retrying once with a fresh token when the platform reports the cached
// one expired.
func (c *Client) postWithToken(ctx context.Context, account *config.Account, path string, body interface{}, out interface{}, errCode func() int) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.AccessToken(ctx, account)
		if err != nil {
			return err
		}
		if err := c.postJSON(ctx, path+"?access_token="+url.QueryEscape(token), body, out); err != nil {
			return err
		}
		if code := errCode(); code == codeInvalidCredential || code == codeCredentialExpired {
			c.logger.Debug().
				Str("corp_id", account.CorpID).
				Int("errcode", code).
				Msg("Access token rejected, refreshing")
			c.tokens.Invalidate(account.CorpID)
			continue
		}
		return nil
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("wecom: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("wecom: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("wecom: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("wecom: request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wecom: request %s: unexpected status %d", req.URL.Path, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return fmt.Errorf("wecom: read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("wecom: decode response: %w", err)
	}
	return nil
}
