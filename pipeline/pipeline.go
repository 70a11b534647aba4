package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2/option"
	log "github.com/sirupsen/logrus"
)

// Pipeline runs the ask stages in order under a shared deadline
type Pipeline struct {
	stages  []Stage
	timeout time.Duration
}

func NewPipeline(stages []Stage, timeout time.Duration) *Pipeline {
	return &Pipeline{stages: stages, timeout: timeout}
}

// Execute runs each stage until one fails. The returned Context is always
// non-nil so callers can inspect partial state, and its Cancel must be
// called once the caller is done with it.
func (p *Pipeline) Execute(ctx context.Context, req *Request, emitter EventEmitter, reqOpts ...option.RequestOption) (*Context, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.timeout)

	id := uuid.NewString()
	if req != nil && req.ID != "" {
		id = req.ID
	}

	pctx := NewContext(stageCtx, id, req)
	pctx.Emitter = emitter
	pctx.ReqOpts = reqOpts
	pctx.Cancel = cancel

	for _, stage := range p.stages {
		err := stage.Execute(pctx)
		if err == nil {
			continue
		}
		pctx.State.Transition(StateFailed, map[string]any{
			"stage": stage.Name(),
			"error": err.Error(),
		})
		log.Debugf("[%s] failed in %s: %s", id, stage.Name(), pctx.State.Summary())
		return pctx, &PipelineError{Stage: stage.Name(), Err: err}
	}

	log.Debugf("[%s] %s", id, pctx.State.Summary())
	return pctx, nil
}

func (p *Pipeline) Stages() []Stage { return p.stages }

func (p *Pipeline) Timeout() time.Duration { return p.timeout }
