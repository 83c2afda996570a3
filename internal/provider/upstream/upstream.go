// Package upstream talks to the provider service that holds the OAuth sessions.
//
// Quota readings come from GET {base}/api/accounts/{cookie_id}/quotas, whose body lists
// one entry per model ({"data":[{"model_name":..,"quota":..,"reset_time":..}]}).
// Chat calls are relayed to POST {base}/v1/chat/completions with the cookie pinned
// through the X-Cookie-ID header; streamed replies arrive as server-sent events.
package upstream

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

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 2 * time.Minute
	maxErrorBody   = 4 << 10
)

var _ quota.Provider = (*Provider)(nil)

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream: status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream: status %d: %s", e.StatusCode, e.Body)
}

// ErrModelNotReported is returned when a quota response does not mention the model.
var ErrModelNotReported = errors.New("upstream: model missing from quota response")

// Provider is the HTTP adapter.
type Provider struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// New constructs a Provider. A zero timeout uses the default.
func New(baseURL string, timeout time.Duration) *Provider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Provider{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// RefreshQuota reads the live remaining quota of one model.
func (p *Provider) RefreshQuota(ctx context.Context, cred models.Credential, model string) (quota.Reading, error) {
	endpoint := fmt.Sprintf("%s/api/accounts/%s/quotas", p.baseURL, url.PathEscape(cred.CookieID))
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if errReq != nil {
		return quota.Reading{}, fmt.Errorf("upstream: build quota request: %w", errReq)
	}
	p.authorize(req, cred)

	resp, errDo := p.client.Do(req)
	if errDo != nil {
		return quota.Reading{}, fmt.Errorf("upstream: quota request: %w", errDo)
	}
	defer func() { _ = resp.Body.Close() }()
	if errStatus := checkStatus(resp); errStatus != nil {
		return quota.Reading{}, errStatus
	}
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return quota.Reading{}, fmt.Errorf("upstream: read quota response: %w", errRead)
	}
	return parseQuota(body, model, p.now())
}

// parseQuota picks the model's entry out of a quota listing.
func parseQuota(body []byte, model string, fetchedAt time.Time) (quota.Reading, error) {
	if !gjson.ValidBytes(body) {
		return quota.Reading{}, errors.New("upstream: quota response is not json")
	}
	root := gjson.ParseBytes(body)
	list := root.Get("data")
	if !list.Exists() {
		list = root
	}
	var entry gjson.Result
	list.ForEach(func(_, value gjson.Result) bool {
		if value.Get("model_name").String() == model {
			entry = value
			return false
		}
		return true
	})
	if !entry.Exists() {
		return quota.Reading{}, fmt.Errorf("%w: %s", ErrModelNotReported, model)
	}

	reading := quota.Reading{Quota: entry.Get("quota").Float(), FetchedAt: fetchedAt}
	if at, ok := parseTime(entry.Get("reset_time")); ok {
		reading.ResetAt = &at
	}
	return reading, nil
}

// parseTime accepts RFC3339 strings and unix seconds or milliseconds.
func parseTime(v gjson.Result) (time.Time, bool) {
	switch v.Type {
	case gjson.String:
		at, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return time.Time{}, false
		}
		return at.UTC(), true
	case gjson.Number:
		n := v.Int()
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Chat opens a chat call through the credential.
func (p *Provider) Chat(ctx context.Context, cred models.Credential, chatReq quota.ChatRequest) (quota.ChatStream, error) {
	payload, errMarshal := json.Marshal(chatReq)
	if errMarshal != nil {
		return nil, fmt.Errorf("upstream: encode chat request: %w", errMarshal)
	}
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if errReq != nil {
		return nil, fmt.Errorf("upstream: build chat request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if chatReq.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if chatReq.RequestID != "" {
		req.Header.Set("X-Request-ID", chatReq.RequestID)
	}
	p.authorize(req, cred)

	// Streams outlive the client timeout; the request context bounds them instead.
	client := p.client
	if chatReq.Stream {
		client = &http.Client{Transport: p.client.Transport}
	}
	resp, errDo := client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("upstream: chat request: %w", errDo)
	}
	if errStatus := checkStatus(resp); errStatus != nil {
		_ = resp.Body.Close()
		return nil, errStatus
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return newSSEStream(resp.Body), nil
	}
	defer func() { _ = resp.Body.Close() }()
	body, errRead := io.ReadAll(resp.Body)
	if errRead != nil {
		return nil, fmt.Errorf("upstream: read chat response: %w", errRead)
	}
	return newBufferedStream(body)
}

func (p *Provider) authorize(req *http.Request, cred models.Credential) {
	req.Header.Set("X-Cookie-ID", cred.CookieID)
	if token := accessToken(cred); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// accessToken extracts the OAuth access token from the credential metadata.
func accessToken(cred models.Credential) string {
	if len(cred.Metadata) == 0 {
		return ""
	}
	for _, path := range []string{"access_token", "token.access_token", "tokens.access_token"} {
		if v := gjson.GetBytes(cred.Metadata, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if v := gjson.Get(msg, "error.message"); v.Exists() {
		msg = v.String()
	} else if v := gjson.Get(msg, "error"); v.Type == gjson.String {
		msg = v.String()
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: msg}
}
