// Package pipeline runs the gateway's request path as an explicit ordered
// sequence of stages. Each stage either lets the request continue or ends it,
// and the loop in Pipeline.ServeHTTP is the only place that decides which.
package pipeline

import (
	"net/http"
	"time"

	"github.com/jamesprial/storegate/internal/interfaces"
	"github.com/jamesprial/storegate/internal/routing"
)

// RequestIDHeader carries the request ID set by the request ID middleware.
const RequestIDHeader = "X-Request-ID"

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeDone
	outcomeFail
)

// Result is what a stage hands back to the pipeline loop.
type Result struct {
	outcome outcome
	err     *Error
}

// Continue passes the request to the next stage.
func Continue() Result { return Result{outcome: outcomeContinue} }

// Done ends the request; the stage already wrote the response.
func Done() Result { return Result{outcome: outcomeDone} }

// Fail ends the request; the pipeline renders err.
func Fail(err *Error) Result { return Result{outcome: outcomeFail, err: err} }

// Err returns the error carried by a failed result.
func (r Result) Err() *Error { return r.err }

// IsContinue reports whether the result lets the request proceed.
func (r Result) IsContinue() bool { return r.outcome == outcomeContinue }

// Stage is one step of the request path.
type Stage interface {
	Name() string
	Process(w http.ResponseWriter, rc *RequestContext) Result
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	StageName string
	Fn        func(w http.ResponseWriter, rc *RequestContext) Result
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Process(w http.ResponseWriter, rc *RequestContext) Result {
	return s.Fn(w, rc)
}

// Observer is told about every request once it completes.
type Observer interface {
	ObserveRequest(rc *RequestContext, status int, duration time.Duration)
}

// Pipeline is an http.Handler running its stages in order.
type Pipeline struct {
	table     *routing.Table
	stages    []Stage
	observers []Observer
	logger    interfaces.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithLogger sets the logger used for pipeline diagnostics.
func WithLogger(l interfaces.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline over table running stages in the given order.
// Paths the table does not cover are answered with NotFound before any stage.
func New(table *routing.Table, stages []Stage, opts ...Option) *Pipeline {
	p := &Pipeline{
		table:  table,
		stages: append([]Stage(nil), stages...),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// ServeHTTP implements http.Handler.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := NewStatusRecorder(w)
	rc := NewRequestContext(r, r.Header.Get(RequestIDHeader))

	p.run(rec, rc)

	AddLogField(r.Context(), "route", rc.RouteName())
	duration := time.Since(start)
	for _, o := range p.observers {
		o.ObserveRequest(rc, rec.Status(), duration)
	}
}

func (p *Pipeline) run(w *StatusRecorder, rc *RequestContext) {
	if !p.table.Covers(rc.Path) {
		WriteError(w, NotFound())
		return
	}

	for _, stage := range p.stages {
		res := stage.Process(w, rc)
		switch res.outcome {
		case outcomeContinue:
			continue
		case outcomeDone:
			return
		case outcomeFail:
			p.fail(w, rc, stage, res.err)
			return
		}
	}

	p.logger.Error("Pipeline finished without a response", map[string]any{
		"path":       rc.Path,
		"request_id": rc.RequestID,
	})
	WriteError(w, NewError(KindInternal, "Internal Server Error"))
}

func (p *Pipeline) fail(w *StatusRecorder, rc *RequestContext, stage Stage, err *Error) {
	if err == nil {
		err = NewError(KindInternal, "Internal Server Error")
	}
	p.logger.Debug("Request terminated", map[string]any{
		"stage":      stage.Name(),
		"kind":       err.Kind.String(),
		"method":     rc.Method,
		"path":       rc.Path,
		"request_id": rc.RequestID,
	})
	if w.WroteHeader() {
		// Too late to change the status; the stage already started a response.
		return
	}
	WriteError(w, err)
}

type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}
