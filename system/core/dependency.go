package engine

import (
	"sort"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

// ResolveOrder computes a boot ordering over ids that satisfies the declared
// dependency edges (dependency before dependent) using Kahn's algorithm.
// Ties between ready nodes break by insertion order so resolution is
// reproducible. A dependency naming an unregistered id fails immediately;
// a nonempty residual after exhaustion is a cycle error naming every member.
func ResolveOrder(ids []string, deps map[string][]string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	registered := make(map[string]bool, len(ids))
	for _, id := range ids {
		registered[id] = true
	}

	indegree := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))

	for _, id := range ids {
		for _, dep := range deps[id] {
			if !registered[dep] {
				return nil, coreerr.UnknownDependency(id, dep)
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	resolved := make([]string, 0, len(ids))
	done := make(map[string]bool, len(ids))

	for len(resolved) < len(ids) {
		progressed := false

		for _, id := range ids {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			resolved = append(resolved, id)
			for _, dependent := range dependents[id] {
				indegree[dependent]--
			}
			progressed = true
		}

		if !progressed {
			var residual []string
			for _, id := range ids {
				if !done[id] {
					residual = append(residual, id)
				}
			}
			sort.Strings(residual)
			return nil, coreerr.DependencyCycle(residual)
		}
	}

	return resolved, nil
}
