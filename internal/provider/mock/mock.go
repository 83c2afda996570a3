// Package mock is an in-memory provider that keeps a live quota per credential and model.
package mock

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/google/uuid"
)

var _ quota.Provider = (*Provider)(nil)

// Provider is a scripted provider for tests and local development.
type Provider struct {
	mu           sync.Mutex
	live         map[string]float64
	resetAt      map[string]time.Time
	refreshErr   map[string]error
	chatErr      map[string]error
	cost         float64
	defaultQuota float64
	content      string
	streamErr    error
	inline       bool

	refreshCalls atomic.Int64
	chatCalls    atomic.Int64
}

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider. Unknown credentials start at a full quota.
func New(opts ...Option) *Provider {
	p := &Provider{
		live:         map[string]float64{},
		resetAt:      map[string]time.Time{},
		refreshErr:   map[string]error{},
		chatErr:      map[string]error{},
		cost:         0.01,
		defaultQuota: 1,
		content:      "Hello from mock provider",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithCost sets the quota fraction each chat call consumes.
func WithCost(cost float64) Option {
	return func(p *Provider) { p.cost = cost }
}

// WithDefaultQuota sets the live quota of credentials that were never set explicitly.
func WithDefaultQuota(v float64) Option {
	return func(p *Provider) { p.defaultQuota = v }
}

// WithContent sets the response text; each word becomes one chunk.
func WithContent(content string) Option {
	return func(p *Provider) { p.content = content }
}

// WithStreamError makes every stream fail after its first chunk.
func WithStreamError(err error) Option {
	return func(p *Provider) { p.streamErr = err }
}

// WithInlineReading makes the final chunk carry the post-call quota.
func WithInlineReading() Option {
	return func(p *Provider) { p.inline = true }
}

func key(cookieID, model string) string {
	return cookieID + "|" + model
}

// SetQuota sets the live quota of one credential and model.
func (p *Provider) SetQuota(cookieID, model string, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[key(cookieID, model)] = v
}

// Quota returns the live quota of one credential and model.
func (p *Provider) Quota(cookieID, model string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quotaLocked(key(cookieID, model))
}

// SetResetAt sets the reset time reported for one credential and model.
func (p *Provider) SetResetAt(cookieID, model string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetAt[key(cookieID, model)] = at
}

// FailRefresh makes quota refreshes of the credential fail. A nil err clears it.
func (p *Provider) FailRefresh(cookieID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshErr[cookieID] = err
}

// FailChat makes chat calls through the credential fail. A nil err clears it.
func (p *Provider) FailChat(cookieID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatErr[cookieID] = err
}

// RefreshCalls returns how many quota refreshes were served.
func (p *Provider) RefreshCalls() int64 {
	return p.refreshCalls.Load()
}

// ChatCalls returns how many chat calls were opened.
func (p *Provider) ChatCalls() int64 {
	return p.chatCalls.Load()
}

func (p *Provider) quotaLocked(k string) float64 {
	if v, ok := p.live[k]; ok {
		return v
	}
	return p.defaultQuota
}

// RefreshQuota reports the live quota.
func (p *Provider) RefreshQuota(ctx context.Context, cred models.Credential, model string) (quota.Reading, error) {
	if errCtx := ctx.Err(); errCtx != nil {
		return quota.Reading{}, errCtx
	}
	p.refreshCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.refreshErr[cred.CookieID]; err != nil {
		return quota.Reading{}, err
	}
	return p.readingLocked(key(cred.CookieID, model)), nil
}

func (p *Provider) readingLocked(k string) quota.Reading {
	reading := quota.Reading{Quota: p.quotaLocked(k), FetchedAt: time.Now()}
	if at, ok := p.resetAt[k]; ok {
		reading.ResetAt = &at
	}
	return reading
}

// Chat spends the configured cost from the live quota and streams the content.
func (p *Provider) Chat(ctx context.Context, cred models.Credential, req quota.ChatRequest) (quota.ChatStream, error) {
	if errCtx := ctx.Err(); errCtx != nil {
		return nil, errCtx
	}
	p.chatCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.chatErr[cred.CookieID]; err != nil {
		return nil, err
	}
	k := key(cred.CookieID, req.Model)
	current := p.quotaLocked(k)
	if current <= 0 {
		return nil, errors.New("mock: quota exhausted")
	}
	p.live[k] = max(current-p.cost, 0)

	s := &stream{
		id:        "chatcmpl-" + uuid.NewString(),
		model:     req.Model,
		words:     strings.Fields(p.content),
		streamErr: p.streamErr,
	}
	if p.inline {
		reading := p.readingLocked(k)
		s.reading = &reading
	}
	return s, nil
}

type stream struct {
	id        string
	model     string
	words     []string
	pos       int
	streamErr error
	reading   *quota.Reading
	closed    bool
}

func (s *stream) Next() (quota.Chunk, error) {
	if s.closed {
		return quota.Chunk{}, io.ErrClosedPipe
	}
	if s.streamErr != nil && s.pos == 1 {
		return quota.Chunk{}, s.streamErr
	}
	if s.pos >= len(s.words) {
		return quota.Chunk{}, io.EOF
	}
	word := s.words[s.pos]
	if s.pos > 0 {
		word = " " + word
	}
	s.pos++
	chunk := quota.Chunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Model:   s.model,
		Choices: []quota.StreamDelta{{Index: 0, Delta: quota.Delta{Role: "assistant", Content: word}}},
	}
	if s.pos == len(s.words) {
		chunk.Choices[0].FinishReason = "stop"
		n := int64(len(s.words))
		chunk.Usage = &quota.Usage{PromptTokens: 1, CompletionTokens: n, TotalTokens: n + 1}
		chunk.Reading = s.reading
	}
	return chunk, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
