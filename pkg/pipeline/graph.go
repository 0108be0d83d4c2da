package pipeline

import (
	"fmt"
	"strings"

	"github.com/twinforge/twinforge/pkg/scenario"
)

// Graph is the static, validated step catalog with its dependency relation.
// Built once at process start; selection against a scenario snapshot is a
// pure function, so identical snapshots always yield identical sequences.
type Graph struct {
	steps []StepDefinition
	index map[StepID]int
}

// NewGraph validates a step catalog and builds the graph: unique
// identifiers, dependencies that exist, no cycles.
func NewGraph(catalog []StepDefinition) (*Graph, error) {
	g := &Graph{
		steps: catalog,
		index: make(map[StepID]int, len(catalog)),
	}

	for i, step := range catalog {
		if step.ID == "" {
			return nil, NewValidationError("step definition has empty ID", nil)
		}
		if _, exists := g.index[step.ID]; exists {
			return nil, NewValidationError(fmt.Sprintf("duplicate step ID: %s", step.ID), nil)
		}
		g.index[step.ID] = i
	}

	for _, step := range catalog {
		for _, dep := range step.DependsOn {
			if _, exists := g.index[dep]; !exists {
				return nil, NewValidationError(
					fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep), nil)
			}
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, NewValidationError(
			fmt.Sprintf("dependency cycle: %s", formatCycle(cycle)), nil)
	}

	return g, nil
}

// Steps returns the full catalog backing the graph.
func (g *Graph) Steps() []StepDefinition {
	return g.steps
}

// Lookup returns a step definition by identifier.
func (g *Graph) Lookup(id StepID) (StepDefinition, bool) {
	i, ok := g.index[id]
	if !ok {
		return StepDefinition{}, false
	}
	return g.steps[i], true
}

// Select returns the ordered step sequence active for a scenario snapshot:
// every returned step's predicate holds, the order is a valid topological
// order of the dependency relation restricted to selected steps, and a step
// whose dependency is not selected is itself excluded (a dependency is a
// hard precondition, not an ordering hint).
func (g *Graph) Select(cfg *scenario.Config) []StepDefinition {
	active := make(map[StepID]bool, len(g.steps))
	for _, step := range g.steps {
		if step.When == nil || step.When(cfg) {
			active[step.ID] = true
		}
	}

	// Exclusion cascades: dropping a step drops everything that depends on
	// it, transitively.
	for changed := true; changed; {
		changed = false
		for _, step := range g.steps {
			if !active[step.ID] {
				continue
			}
			for _, dep := range step.DependsOn {
				if !active[dep] {
					delete(active, step.ID)
					changed = true
					break
				}
			}
		}
	}

	// Kahn's algorithm over the restricted relation. Ready steps are taken
	// in catalog order, which keeps selection deterministic.
	inDegree := make(map[StepID]int, len(active))
	for _, step := range g.steps {
		if !active[step.ID] {
			continue
		}
		for _, dep := range step.DependsOn {
			if active[dep] {
				inDegree[step.ID]++
			}
		}
	}

	selected := make([]StepDefinition, 0, len(active))
	done := make(map[StepID]bool, len(active))
	for len(selected) < len(active) {
		progressed := false
		for _, step := range g.steps {
			if !active[step.ID] || done[step.ID] || inDegree[step.ID] > 0 {
				continue
			}
			selected = append(selected, step)
			done[step.ID] = true
			progressed = true
			for _, other := range g.steps {
				if !active[other.ID] || done[other.ID] {
					continue
				}
				for _, dep := range other.DependsOn {
					if dep == step.ID {
						inDegree[other.ID]--
					}
				}
			}
		}
		if !progressed {
			// Unreachable: NewGraph rejects cycles.
			break
		}
	}

	return selected
}

// SelectIDs is Select reduced to the identifier sequence.
func (g *Graph) SelectIDs(cfg *scenario.Config) []StepID {
	steps := g.Select(cfg)
	ids := make([]StepID, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

// findCycle runs a DFS over the dependency relation and returns the first
// cycle found, or nil.
func (g *Graph) findCycle() []StepID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[StepID]int, len(g.steps))

	var path []StepID
	var visit func(id StepID) []StepID
	visit = func(id StepID) []StepID {
		color[id] = gray
		path = append(path, id)
		step := g.steps[g.index[id]]
		for _, dep := range step.DependsOn {
			switch color[dep] {
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			case gray:
				for i, p := range path {
					if p == dep {
						return append(append([]StepID(nil), path[i:]...), dep)
					}
				}
			}
		}
		color[id] = black
		path = path[:len(path)-1]
		return nil
	}

	for _, step := range g.steps {
		if color[step.ID] == white {
			path = path[:0]
			if cycle := visit(step.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func formatCycle(cycle []StepID) string {
	parts := make([]string, len(cycle))
	for i, id := range cycle {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
