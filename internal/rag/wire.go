package rag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// The two wire encodings are pure projections of the same Event stream:
// they never trigger retrieval or generation work of their own.

// EncodeNative renders one event as its native JSON object. Framing
// (newlines, SSE data: prefixes) is the transport's concern.
func EncodeNative(e Event) ([]byte, error) {
	switch e.Kind {
	case EventRetrieval:
		return json.Marshal(struct {
			Event           string  `json:"event"`
			RetrievalTimeMS float64 `json:"retrieval_time_ms"`
			ChunksFound     int     `json:"chunks_found"`
		}{"retrieval", e.RetrievalTimeMS, e.ChunksFound})
	case EventDelta:
		return json.Marshal(struct {
			Delta string `json:"delta"`
		}{e.Delta})
	case EventComplete:
		return json.Marshal(struct {
			Complete bool     `json:"complete"`
			TraceID  string   `json:"trace_id"`
			Sources  []Source `json:"sources,omitempty"`
			Usage    *Usage   `json:"usage"`
		}{true, e.TraceID, e.Sources, e.Usage})
	case EventError:
		return json.Marshal(struct {
			Error   string `json:"error"`
			TraceID string `json:"trace_id"`
		}{e.Err.Error(), e.TraceID})
	default:
		return nil, fmt.Errorf("unknown event kind %d", e.Kind)
	}
}

// doneSentinel terminates an OpenAI-compatible stream.
const doneSentinel = "data: [DONE]\n\n"

// chatCompletionChunk mirrors the OpenAI chat.completion.chunk object.
type chatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkDelta struct {
	Content string `json:"content,omitempty"`
}

// ChunkEncoder projects events into OpenAI-compatible SSE frames. One
// encoder serves one stream; all its chunks share an id and timestamp.
type ChunkEncoder struct {
	id      string
	created int64
	model   string
}

// NewChunkEncoder creates an encoder for one chat-completion stream.
func NewChunkEncoder(model string) *ChunkEncoder {
	return &ChunkEncoder{
		id:      "chatcmpl-" + uuid.New().String(),
		created: time.Now().Unix(),
		model:   model,
	}
}

// Frames converts one event to zero or more "data: <json>\n\n" frames.
// Retrieval events have no chat-completion equivalent and produce nothing;
// the terminal event produces a finish-reason chunk plus the done sentinel.
func (c *ChunkEncoder) Frames(e Event) ([]string, error) {
	switch e.Kind {
	case EventRetrieval:
		return nil, nil
	case EventDelta:
		frame, err := c.frame(chunkDelta{Content: e.Delta}, nil)
		if err != nil {
			return nil, err
		}
		return []string{frame}, nil
	case EventComplete, EventError:
		// Mid-stream failures still close the stream cleanly: tokens
		// already delivered stand.
		reason := "stop"
		frame, err := c.frame(chunkDelta{}, &reason)
		if err != nil {
			return nil, err
		}
		return []string{frame, doneSentinel}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", e.Kind)
	}
}

func (c *ChunkEncoder) frame(delta chunkDelta, finishReason *string) (string, error) {
	chunk := chatCompletionChunk{
		ID:      c.id,
		Object:  "chat.completion.chunk",
		Created: c.created,
		Model:   c.model,
		Choices: []chunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("data: %s\n\n", data), nil
}
