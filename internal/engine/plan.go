package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Plan is a set of requests resolved together.
type Plan struct {
	engine   *Engine
	requests map[string]Request
	order    []string
	resolved map[string][]Dep
}

// NewPlan creates an empty plan bound to e.
func (e *Engine) NewPlan() *Plan {
	return &Plan{
		engine:   e,
		requests: make(map[string]Request),
	}
}

// Add appends a request. Each output may be added once.
func (p *Plan) Add(reqs ...Request) error {
	for _, req := range reqs {
		if req.Output == "" {
			return fmt.Errorf("engine: request has no output path")
		}
		if _, dup := p.requests[req.Output]; dup {
			return fmt.Errorf("engine: output %s added twice", req.Output)
		}
		p.requests[req.Output] = req
		p.order = append(p.order, req.Output)
		p.resolved = nil
	}
	return nil
}

// Len returns the number of requests.
func (p *Plan) Len() int { return len(p.order) }

// Validate classifies every dependency and declares every request in the
// engine graph. It fails with *DependencyCycleError if the requests form a
// cycle. No generator runs.
func (p *Plan) Validate() error {
	if p.resolved != nil {
		return nil
	}

	known := func(path string) bool {
		_, ok := p.requests[path]
		return ok || p.engine.graph.Has(path)
	}
	resolved := make(map[string][]Dep, len(p.order))
	for _, out := range p.order {
		resolved[out] = p.engine.classify(p.requests[out].Deps, known)
	}
	for _, out := range p.order {
		if err := p.engine.declare(out, resolved[out]); err != nil {
			return err
		}
	}
	p.resolved = resolved
	return nil
}

// Run resolves every request, dependencies first. With jobs > 1 up to jobs
// generators run at once. The first failure cancels the remaining work and
// is returned. Artifacts are returned in the order requests were added.
func (p *Plan) Run(ctx context.Context, jobs int) ([]*Artifact, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var err error
	if jobs <= 1 {
		err = p.runSerial(ctx)
	} else {
		err = p.runParallel(ctx, jobs)
	}
	if err != nil {
		return nil, err
	}

	out := make([]*Artifact, 0, len(p.order))
	for _, name := range p.order {
		a, _ := p.engine.Lookup(name)
		out = append(out, a)
	}
	return out, nil
}

func (p *Plan) runSerial(ctx context.Context) error {
	order, err := p.engine.graph.Order()
	if err != nil {
		return err
	}
	for _, name := range order {
		req, ok := p.requests[name]
		if !ok {
			continue
		}
		if _, err := p.engine.Build(ctx, p.request(req)); err != nil {
			return err
		}
	}
	return nil
}

// runParallel schedules a request once every in-plan output it depends on
// has finished.
func (p *Plan) runParallel(ctx context.Context, jobs int) error {
	indegree := make(map[string]int, len(p.order))
	dependents := make(map[string][]string, len(p.order))
	for _, name := range p.order {
		for _, d := range p.resolved[name] {
			if _, inPlan := p.requests[d.Path]; !inPlan || d.Kind != DepOutput {
				continue
			}
			indegree[name]++
			dependents[d.Path] = append(dependents[d.Path], name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	done := make(chan string, len(p.order))
	launch := func(name string) {
		req := p.request(p.requests[name])
		g.Go(func() error {
			if _, err := p.engine.Build(gctx, req); err != nil {
				return err
			}
			done <- name
			return nil
		})
	}

	for _, name := range p.order {
		if indegree[name] == 0 {
			launch(name)
		}
	}

	remaining := len(p.order)
loop:
	for remaining > 0 {
		select {
		case name := <-done:
			remaining--
			for _, next := range dependents[name] {
				indegree[next]--
				if indegree[next] == 0 {
					launch(next)
				}
			}
		case <-gctx.Done():
			break loop
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// request returns req with its dependency kinds fixed by Validate.
func (p *Plan) request(req Request) Request {
	req.Deps = p.resolved[req.Output]
	return req
}
