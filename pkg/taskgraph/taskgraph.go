// Package taskgraph runs a set of named steps whose ordering is given by
// declared dependencies. Independent steps run concurrently; a step starts
// once every dependency has succeeded.
//
// A failed step never interrupts steps that are already running. It only
// prevents its transitive dependents from starting, which are then reported
// as skipped. Run returns the first error observed.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Step func(ctx context.Context) error

type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateSkipped   State = "skipped"
)

var ErrCycle = errors.New("taskgraph: dependency cycle")

type node struct {
	name string
	deps []string
	run  Step
	done chan struct{}
}

type Graph struct {
	nodes map[string]*node
	order []string
	err   error
}

func New() *Graph {
	return &Graph{nodes: map[string]*node{}}
}

// Add registers a step. Registration errors surface from Run.
func (g *Graph) Add(name string, run Step, deps ...string) {
	if g.err != nil {
		return
	}
	if name == "" || run == nil {
		g.err = fmt.Errorf("taskgraph: step %q needs a name and a function", name)
		return
	}
	if _, dup := g.nodes[name]; dup {
		g.err = fmt.Errorf("taskgraph: duplicate step %q", name)
		return
	}
	g.nodes[name] = &node{name: name, deps: append([]string(nil), deps...), run: run}
	g.order = append(g.order, name)
}

type Report struct {
	mu     sync.Mutex
	states map[string]State
	errs   map[string]error
}

func (r *Report) State(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[name]; ok {
		return s
	}
	return StatePending
}

func (r *Report) Err(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[name]
}

// Names returns every step in the given state, sorted.
func (r *Report) Names(state State) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, s := range r.states {
		if s == state {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Report) set(name string, s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[name] = s
	if err != nil {
		r.errs[name] = err
	}
}

func (g *Graph) Run(ctx context.Context) (*Report, error) {
	report := &Report{states: map[string]State{}, errs: map[string]error{}}
	if g.err != nil {
		return report, g.err
	}
	if err := g.validate(); err != nil {
		return report, err
	}
	for _, name := range g.order {
		g.nodes[name].done = make(chan struct{})
		report.states[name] = StatePending
	}

	var eg errgroup.Group
	for _, name := range g.order {
		n := g.nodes[name]
		eg.Go(func() error {
			defer close(n.done)
			for _, dep := range n.deps {
				<-g.nodes[dep].done
				if report.State(dep) != StateSucceeded {
					report.set(n.name, StateSkipped, nil)
					return nil
				}
			}
			if err := n.run(ctx); err != nil {
				wrapped := fmt.Errorf("%s: %w", n.name, err)
				report.set(n.name, StateFailed, wrapped)
				return wrapped
			}
			report.set(n.name, StateSucceeded, nil)
			return nil
		})
	}
	return report, eg.Wait()
}

func (g *Graph) validate() error {
	for _, name := range g.order {
		for _, dep := range g.nodes[name].deps {
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("taskgraph: step %q depends on unknown step %q", name, dep)
			}
		}
	}
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.nodes))
	var visit func(string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			return fmt.Errorf("%w at %q", ErrCycle, name)
		case black:
			return nil
		}
		color[name] = grey
		for _, dep := range g.nodes[name].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range g.order {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
