package llm

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/shared"
	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// ChatCompletionStream is the stream type returned by NewStreaming
type ChatCompletionStream = ssestream.Stream[openai.ChatCompletionChunk]

// ChatClient defines the interface for chat completion operations
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ChatCompletionStream
}

// ChatResponder implements pipeline.Responder on an OpenAI-compatible chat API
type ChatResponder struct {
	name        string
	client      ChatClient
	model       string
	temperature float64
	maxTokens   int64
}

// NewChatResponder creates a responder with the backend's default model and sampling settings
func NewChatResponder(name string, client ChatClient, model string, temperature float64, maxTokens int64) *ChatResponder {
	return &ChatResponder{
		name:        name,
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Name returns the backend name
func (r *ChatResponder) Name() string {
	return r.name
}

// Model returns the default model
func (r *ChatResponder) Model() string {
	return r.model
}

func (r *ChatResponder) chatParams(params pipeline.ResponderParams) openai.ChatCompletionNewParams {
	model := params.Model
	if model == "" {
		model = r.model
	}

	chatParams := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    params.Messages,
		Temperature: openai.Float(r.temperature),
	}
	if params.Temperature != nil {
		chatParams.Temperature = openai.Float(*params.Temperature)
	}
	if params.MaxTokens != nil {
		chatParams.MaxTokens = openai.Int(*params.MaxTokens)
	} else if r.maxTokens > 0 {
		chatParams.MaxTokens = openai.Int(r.maxTokens)
	}
	return chatParams
}

// Complete makes a non-streaming completion call
func (r *ChatResponder) Complete(ctx context.Context, params pipeline.ResponderParams, opts ...option.RequestOption) (*pipeline.ResponderResultData, error) {
	chatParams := r.chatParams(params)

	resp, err := r.client.New(ctx, chatParams, opts...)
	if err != nil {
		return nil, err
	}

	var content, finishReason string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		finishReason = resp.Choices[0].FinishReason
	}

	return &pipeline.ResponderResultData{
		ID:           resp.ID,
		Provider:     r.name,
		Model:        resp.Model,
		Created:      resp.Created,
		Content:      content,
		Split:        sections.Classify(content),
		FinishReason: finishReason,
		Usage:        resp.Usage,
	}, nil
}

// Stream makes a streaming completion call. Each content delta is classified
// and emitted as it arrives. An upstream error before anything was emitted
// returns a nil result; a later one returns the partial result with it and
// leaves the error event to the caller.
func (r *ChatResponder) Stream(ctx context.Context, params pipeline.ResponderParams, emitter pipeline.EventEmitter, opts ...option.RequestOption) (*pipeline.ResponderResultData, error) {
	chatParams := r.chatParams(params)
	log.Debugf("[Responder.Stream] Starting stream: provider=%s, model=%s, messages=%d",
		r.name, chatParams.Model, len(params.Messages))

	stream := r.client.NewStreaming(ctx, chatParams, opts...)
	defer stream.Close()

	result := &pipeline.ResponderResultData{Provider: r.name, Model: string(chatParams.Model)}
	tracker := sections.NewTracker()
	emitted := false
	chunkCount := 0

	for stream.Next() {
		chunk := stream.Current()
		chunkCount++
		if chunkCount == 1 {
			log.Debug("[Responder.Stream] Received first chunk from upstream")
		}

		if chunk.ID != "" {
			result.ID = chunk.ID
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.Created != 0 {
			result.Created = chunk.Created
		}
		if chunk.Usage.TotalTokens > 0 {
			result.Usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if reason := chunk.Choices[0].FinishReason; reason != "" {
			result.FinishReason = reason
		}

		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		emitted = true
		if err := emitUpdate(emitter, tracker, tracker.Append(text), text); err != nil {
			log.Errorf("[Responder.Stream] emit failed: %v", err)
			return finish(result, tracker), err
		}
	}

	log.Debugf("[Responder.Stream] Stream loop ended after %d chunks", chunkCount)

	if err := stream.Err(); err != nil {
		if !emitted {
			return nil, err
		}
		log.Errorf("[Responder.Stream] Stream error after %d chunks: %v", chunkCount, err)
		result.FinishReason = "error"
		return finish(result, tracker), err
	}

	if err := emitUpdate(emitter, tracker, tracker.Flush(), ""); err != nil {
		return finish(result, tracker), err
	}

	finish(result, tracker)
	if err := emitter.EmitAnswer(result); err != nil {
		return result, err
	}

	log.Debug("[Responder.Stream] Stream completed successfully, emitting done")
	return result, emitter.EmitDone()
}

func finish(result *pipeline.ResponderResultData, tracker *sections.Tracker) *pipeline.ResponderResultData {
	result.Content = tracker.Buffer()
	result.Split = tracker.Result()
	return result
}

// emitUpdate forwards one tracker update. Empty flushes emit nothing.
func emitUpdate(emitter pipeline.EventEmitter, tracker *sections.Tracker, up sections.Update, raw string) error {
	if up.SectionChanged {
		if err := emitter.EmitSection(up.Section); err != nil {
			return err
		}
	}

	delta := pipeline.Delta{
		Content:   raw,
		Section:   up.Section,
		Reasoning: up.ReasoningDelta,
		Answer:    up.AnswerDelta,
	}
	if up.Reset {
		snapshot := tracker.Reported()
		delta.Snapshot = &snapshot
	}
	if delta.Content == "" && delta.Reasoning == "" && delta.Answer == "" && delta.Snapshot == nil {
		return nil
	}
	return emitter.EmitDelta(delta)
}

// Verify ChatResponder implements Responder
var _ pipeline.Responder = (*ChatResponder)(nil)
