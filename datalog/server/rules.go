package server

import (
	"fmt"

	"github.com/wbrown/janus-dataflow/datalog/plan"
)

// stratum is a set of mutually dependent rules. Strata are ordered so
// that every rule only refers to rules of its own or earlier strata.
type stratum struct {
	rules     []plan.Rule
	recursive bool
}

// stratify orders rules by their dependencies within the registration.
// Rules that are not part of it are left to validation to reject.
func stratify(rules []plan.Rule) ([]stratum, error) {
	index := make(map[string]int, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
		if r.Plan == nil {
			return nil, fmt.Errorf("rule %s has no plan", r.Name)
		}
		if _, dup := index[r.Name]; dup {
			return nil, fmt.Errorf("rule %s is defined twice", r.Name)
		}
		index[r.Name] = i
	}

	deps := make([][]int, len(rules))
	self := make([]bool, len(rules))
	for i, r := range rules {
		for _, name := range plan.Dependencies(r.Plan) {
			j, ok := index[name]
			if !ok {
				continue
			}
			if j == i {
				self[i] = true
			}
			deps[i] = append(deps[i], j)
		}
	}

	var out []stratum
	for _, comp := range components(deps) {
		s := stratum{recursive: len(comp) > 1 || self[comp[0]]}
		for _, i := range comp {
			s.rules = append(s.rules, rules[i])
		}
		out = append(out, s)
	}
	return out, nil
}

// components returns the strongly connected components of a dependency
// graph, dependencies first. Members keep their input order.
func components(deps [][]int) [][]int {
	n := len(deps)
	var (
		index   = make([]int, n)
		low     = make([]int, n)
		onStack = make([]bool, n)
		stack   []int
		next    = 1
		out     [][]int
	)

	var visit func(v int)
	visit = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range deps[v] {
			if index[w] == 0 {
				visit(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && index[w] < low[v] {
				low[v] = index[w]
			}
		}

		if low[v] == index[v] {
			member := make([]bool, n)
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				member[w] = true
				if w == v {
					break
				}
			}
			var comp []int
			for i := range member {
				if member[i] {
					comp = append(comp, i)
				}
			}
			out = append(out, comp)
		}
	}

	for v := 0; v < n; v++ {
		if index[v] == 0 {
			visit(v)
		}
	}
	return out
}
