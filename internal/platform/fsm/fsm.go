// Package fsm provides a small, immutable transition graph used by the
// triage status and case lifecycle state machines.
package fsm

import (
	"fmt"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
)

// TransitionError identifies the current and requested state of a rejected
// status change. It matches apperr.ErrInvalidTransition with errors.Is.
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move %s from %q to %q", apperr.ErrInvalidTransition, e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return apperr.ErrInvalidTransition }

// Graph is a directed set of allowed edges between states of type S.
type Graph[S ~string] struct {
	entity   string
	edges    map[S]map[S]struct{}
	terminal map[S]struct{}
}

// Edge is a single allowed transition.
type Edge[S ~string] struct {
	From S
	To   S
}

// New builds a graph for the named entity. States without outgoing edges
// listed in terminal are reported by IsTerminal.
func New[S ~string](entity string, edges []Edge[S], terminal ...S) *Graph[S] {
	g := &Graph[S]{
		entity:   entity,
		edges:    make(map[S]map[S]struct{}),
		terminal: make(map[S]struct{}, len(terminal)),
	}
	for _, e := range edges {
		if g.edges[e.From] == nil {
			g.edges[e.From] = make(map[S]struct{})
		}
		g.edges[e.From][e.To] = struct{}{}
	}
	for _, s := range terminal {
		g.terminal[s] = struct{}{}
	}
	return g
}

// Allowed reports whether from -> to is an edge of the graph.
func (g *Graph[S]) Allowed(from, to S) bool {
	_, ok := g.edges[from][to]
	return ok
}

// Check returns a *TransitionError when from -> to is not an edge.
func (g *Graph[S]) Check(from, to S) error {
	if g.Allowed(from, to) {
		return nil
	}
	return &TransitionError{Entity: g.entity, From: string(from), To: string(to)}
}

// IsTerminal reports whether s has been declared terminal.
func (g *Graph[S]) IsTerminal(s S) bool {
	_, ok := g.terminal[s]
	return ok
}

// Next lists the states reachable from s in one step, in no particular order.
func (g *Graph[S]) Next(s S) []S {
	out := make([]S, 0, len(g.edges[s]))
	for to := range g.edges[s] {
		out = append(out, to)
	}
	return out
}
