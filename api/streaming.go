package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/tinfoilsh/reasoning-search/pipeline"
	"github.com/tinfoilsh/reasoning-search/search"
	"github.com/tinfoilsh/reasoning-search/sections"
)

// Ask stream event types
const (
	EventSearchResults   = "search.results"
	EventAnswerDelta     = "answer.delta"
	EventAnswerSection   = "answer.section"
	EventAnswerCompleted = "answer.completed"
	EventError           = "error"
)

// SSEEmitter implements pipeline.EventEmitter for Server-Sent Events.
// Headers are written with the first event, so a request that fails before
// anything was emitted can still be answered with a JSON error.
type SSEEmitter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	requestID string
	query     string
	seqNum    atomic.Int64

	mu      sync.Mutex
	started bool
	results []search.Result
}

// NewSSEEmitter creates a new SSE emitter from a response writer
func NewSSEEmitter(w http.ResponseWriter, requestID, query string) (*SSEEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &SSEEmitter{w: w, flusher: flusher, requestID: requestID, query: query}, nil
}

// Started reports whether any event has been written
func (e *SSEEmitter) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *SSEEmitter) nextSeq() int64 {
	return e.seqNum.Add(1)
}

// write sends one raw SSE frame, writing the stream headers first if needed
func (e *SSEEmitter) write(frame string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		e.w.Header().Set("Content-Type", "text/event-stream")
		e.w.Header().Set("Cache-Control", "no-cache")
		e.w.Header().Set("Connection", "keep-alive")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}

	if _, err := fmt.Fprint(e.w, frame); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// emit writes an SSE event with type and data
func (e *SSEEmitter) emit(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return e.write(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData))
}

// EmitSearchResults emits the results the answer is grounded on
func (e *SSEEmitter) EmitSearchResults(results []search.Result) error {
	if results == nil {
		results = []search.Result{}
	}
	e.mu.Lock()
	e.results = results
	e.mu.Unlock()
	return e.emit(EventSearchResults, SearchResultsEvent{
		Type:           EventSearchResults,
		SequenceNumber: e.nextSeq(),
		Results:        results,
	})
}

// EmitDelta emits a classified chunk of model output
func (e *SSEEmitter) EmitDelta(delta pipeline.Delta) error {
	return e.emit(EventAnswerDelta, DeltaEvent{
		Type:           EventAnswerDelta,
		SequenceNumber: e.nextSeq(),
		Delta:          delta,
	})
}

// EmitSection emits a change of the live section indicator
func (e *SSEEmitter) EmitSection(section sections.Section) error {
	return e.emit(EventAnswerSection, SectionEvent{
		Type:           EventAnswerSection,
		SequenceNumber: e.nextSeq(),
		Section:        section,
	})
}

// EmitAnswer emits the completed answer together with the results it was grounded on
func (e *SSEEmitter) EmitAnswer(result *pipeline.ResponderResultData) error {
	e.mu.Lock()
	results := e.results
	e.mu.Unlock()
	return e.emit(EventAnswerCompleted, CompletedEvent{
		Type:           EventAnswerCompleted,
		SequenceNumber: e.nextSeq(),
		AskResponse:    newAskResponse(e.requestID, e.query, results, result),
	})
}

// EmitError emits an error event
func (e *SSEEmitter) EmitError(err error) error {
	_, body := pipeline.ErrorResponse(err)
	errObj, _ := body["error"].(map[string]string)
	if errObj != nil && errObj["type"] == "api_error" {
		// Mid-stream upstream failures carry their own message
		errObj["message"] = err.Error()
	}
	body["type"] = EventError
	body["sequence_number"] = e.nextSeq()
	return e.emit(EventError, body)
}

// EmitDone emits the final done signal
func (e *SSEEmitter) EmitDone() error {
	return e.write("data: [DONE]\n\n")
}

// TextEmitter implements pipeline.EventEmitter for plain-text streaming.
// Only raw model output is written; everything else is dropped.
type TextEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewTextEmitter creates a plain-text emitter from a response writer
func NewTextEmitter(w http.ResponseWriter) (*TextEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &TextEmitter{w: w, flusher: flusher}, nil
}

// Started reports whether any output has been written
func (e *TextEmitter) Started() bool {
	return e.started
}

func (e *TextEmitter) EmitSearchResults([]search.Result) error { return nil }

// EmitDelta writes the raw content of the delta
func (e *TextEmitter) EmitDelta(delta pipeline.Delta) error {
	if delta.Content == "" {
		return nil
	}
	if !e.started {
		e.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		e.w.Header().Set("Cache-Control", "no-cache")
		e.w.WriteHeader(http.StatusOK)
		e.started = true
	}
	if _, err := fmt.Fprint(e.w, delta.Content); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

func (e *TextEmitter) EmitSection(sections.Section) error { return nil }

func (e *TextEmitter) EmitAnswer(*pipeline.ResponderResultData) error { return nil }

// EmitError logs the error; a plain-text stream has no way to signal it
func (e *TextEmitter) EmitError(err error) error {
	log.Errorf("text stream interrupted: %v", err)
	return nil
}

func (e *TextEmitter) EmitDone() error { return nil }

// Verify emitters implement EventEmitter
var (
	_ pipeline.EventEmitter = (*SSEEmitter)(nil)
	_ pipeline.EventEmitter = (*TextEmitter)(nil)
)
