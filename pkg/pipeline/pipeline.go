// Package pipeline provides an ordered, named-stage deployment pipeline.
// Stages are registered once and executed sequentially, either all of them
// or a subset selected by name.
package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sgogulapati/gherkins/internal/lg"
)

// Body is a single unit of deployment work. A non-nil error aborts the
// remaining run.
type Body func() error

// Stage is a named, ordered unit of deployment work. Identity is by name.
type Stage struct {
	Name string
	Body Body
}

// DuplicateStageError reports a second registration under an already
// registered stage name.
type DuplicateStageError struct {
	Name string
}

func (e *DuplicateStageError) Error() string {
	return fmt.Sprintf("stage %q is already registered", e.Name)
}

// UnknownStageError reports requested stage names that were never
// registered. Available lists the registered names to help the caller.
type UnknownStageError struct {
	Names     []string
	Available []string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage(s): %s (available: %s)",
		strings.Join(e.Names, ", "), strings.Join(e.Available, ", "))
}

// Pipeline owns an ordered sequence of stages. Insertion order is
// execution order. A Pipeline is not safe for concurrent use.
type Pipeline struct {
	stages []Stage
	out    io.Writer
	log    lg.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOutput redirects stage-boundary markers away from stdout.
func WithOutput(w io.Writer) Option {
	return func(p *Pipeline) { p.out = w }
}

// WithLogger attaches a structured logger for per-stage progress events.
func WithLogger(l lg.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New returns an empty Pipeline writing stage boundaries to stdout.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{out: os.Stdout, log: lg.Discard}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register appends a stage to the pipeline. Registering a name twice
// fails with *DuplicateStageError.
func (p *Pipeline) Register(name string, body Body) error {
	for _, s := range p.stages {
		if s.Name == name {
			return &DuplicateStageError{Name: name}
		}
	}
	p.stages = append(p.stages, Stage{Name: name, Body: body})
	return nil
}

// Stages returns the registered stage names in registration order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes every registered stage in registration order. The first
// stage error aborts the run and is returned; later stages do not run.
func (p *Pipeline) Run() error {
	return p.run(p.stages)
}

// RunNamed executes only the named stages, in REGISTRATION order, not the
// order of names. All names are validated before any stage body runs; an
// unregistered name fails with *UnknownStageError and executes nothing.
// An empty selection executes nothing.
func (p *Pipeline) RunNamed(names []string) error {
	registered := make(map[string]bool, len(p.stages))
	for _, s := range p.stages {
		registered[s.Name] = true
	}

	var unknown []string
	selected := make(map[string]bool, len(names))
	for _, name := range names {
		if !registered[name] {
			unknown = append(unknown, name)
		}
		selected[name] = true
	}
	if len(unknown) > 0 {
		return &UnknownStageError{Names: unknown, Available: p.Stages()}
	}

	var stages []Stage
	for _, s := range p.stages {
		if selected[s.Name] {
			stages = append(stages, s)
		}
	}
	return p.run(stages)
}

func (p *Pipeline) run(stages []Stage) error {
	total := len(stages)
	for i, s := range stages {
		fmt.Fprintf(p.out, "=== [%d/%d] %s ===\n", i+1, total, s.Name)
		p.log.Info("stage started", lg.String("stage", s.Name), lg.Int("ordinal", i+1))
		if err := s.Body(); err != nil {
			p.log.Error("stage failed", lg.String("stage", s.Name), lg.Err(err))
			return fmt.Errorf("stage %q: %w", s.Name, err)
		}
		p.log.Info("stage finished", lg.String("stage", s.Name))
	}
	return nil
}
