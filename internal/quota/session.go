package quota

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/models"
)

// Session is an open provider call. It settles exactly once, on end of stream or Close.
type Session struct {
	ctx        context.Context
	accountant *Accountant
	stream     ChatStream

	userID    uint64
	candidate Candidate
	req       ChatRequest
	before    float64
	startedAt time.Time

	mu            sync.Mutex
	completed     bool
	streamErr     error
	inlineReading *Reading

	settleOnce sync.Once
	settlement *models.ConsumptionLog
	settleErr  error
}

// Next returns the next chunk. It returns io.EOF when the stream is done.
func (s *Session) Next() (Chunk, error) {
	chunk, err := s.stream.Next()
	s.mu.Lock()
	if chunk.Reading != nil {
		reading := *chunk.Reading
		s.inlineReading = &reading
	}
	if err != nil && s.streamErr == nil {
		s.streamErr = err
		s.completed = errors.Is(err, io.EOF)
	}
	s.mu.Unlock()
	if err != nil && errors.Is(err, io.EOF) {
		s.settle()
	}
	return chunk, err
}

// Close releases the stream and settles the call if it has not been settled yet.
func (s *Session) Close() error {
	errClose := s.stream.Close()
	s.settle()
	return errClose
}

func (s *Session) settle() {
	s.settleOnce.Do(func() { s.accountant.settle(s) })
}

// Candidate returns the credential serving this session.
func (s *Session) Candidate() Candidate {
	return s.candidate
}

// Settlement returns the consumption log row once the session has settled.
func (s *Session) Settlement() (models.ConsumptionLog, bool) {
	if s.settlement == nil {
		return models.ConsumptionLog{}, false
	}
	return *s.settlement, true
}

// SettleErr returns why settlement did not produce a log row, if it did not.
func (s *Session) SettleErr() error {
	return s.settleErr
}

// Collect drains the session into a buffered response and closes it.
func Collect(s *Session) (ChatResponse, error) {
	defer func() { _ = s.Close() }()

	resp := ChatResponse{Object: "chat.completion", Model: s.req.Model}
	var content strings.Builder
	finish := ""
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChatResponse{}, err
		}
		if chunk.ID != "" {
			resp.ID = chunk.ID
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		for _, choice := range chunk.Choices {
			content.WriteString(choice.Delta.Content)
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}
	if finish == "" {
		finish = "stop"
	}
	resp.Choices = []Choice{{
		Index:        0,
		Message:      Message{Role: "assistant", Content: content.String()},
		FinishReason: finish,
	}}
	return resp, nil
}
