package upstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/quota"
	"github.com/tidwall/gjson"
)

const maxEventSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// sseStream decodes an OpenAI-style event stream. An event carrying an
// "x_quota" object is the provider's post-call reading.
type sseStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	done     bool
	finished bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)
	return &sseStream{body: body, scanner: scanner}
}

func (s *sseStream) Next() (quota.Chunk, error) {
	for !s.done {
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return quota.Chunk{}, fmt.Errorf("upstream: read stream: %w", err)
			}
			if s.finished {
				break
			}
			return quota.Chunk{}, io.ErrUnexpectedEOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, doneMarker) {
			s.done = true
			break
		}
		chunk, err := decodeChunk(data)
		if err == nil {
			for _, choice := range chunk.Choices {
				if choice.FinishReason != "" {
					s.finished = true
				}
			}
		}
		return chunk, err
	}
	return quota.Chunk{}, io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}

func decodeChunk(data []byte) (quota.Chunk, error) {
	if msg := gjson.GetBytes(data, "error.message"); msg.Exists() {
		return quota.Chunk{}, fmt.Errorf("upstream: stream error: %s", msg.String())
	}
	var chunk quota.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return quota.Chunk{}, fmt.Errorf("upstream: decode chunk: %w", err)
	}
	chunk.Reading = inlineReading(data)
	return chunk, nil
}

func inlineReading(data []byte) *quota.Reading {
	v := gjson.GetBytes(data, "x_quota")
	if !v.IsObject() || !v.Get("remaining").Exists() {
		return nil
	}
	reading := &quota.Reading{Quota: v.Get("remaining").Float(), FetchedAt: time.Now()}
	if at, ok := parseTime(v.Get("reset_time")); ok {
		reading.ResetAt = &at
	}
	return reading
}

// bufferedStream replays a non-streamed completion as a single chunk.
type bufferedStream struct {
	chunk quota.Chunk
	sent  bool
}

func newBufferedStream(body []byte) (*bufferedStream, error) {
	var resp quota.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("upstream: decode chat response: %w", err)
	}
	chunk := quota.Chunk{
		ID:     resp.ID,
		Object: "chat.completion.chunk",
		Model:  resp.Model,
		Usage:  &resp.Usage,
	}
	for _, choice := range resp.Choices {
		chunk.Choices = append(chunk.Choices, quota.StreamDelta{
			Index:        choice.Index,
			Delta:        quota.Delta{Role: choice.Message.Role, Content: choice.Message.Content},
			FinishReason: choice.FinishReason,
		})
	}
	chunk.Reading = inlineReading(body)
	return &bufferedStream{chunk: chunk}, nil
}

func (b *bufferedStream) Next() (quota.Chunk, error) {
	if b.sent {
		return quota.Chunk{}, io.EOF
	}
	b.sent = true
	return b.chunk, nil
}

func (b *bufferedStream) Close() error {
	b.sent = true
	return nil
}
