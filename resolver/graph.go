package resolver

import (
	"sort"

	"github.com/bibin-skaria/rpmimg/internal/types"
)

// candidate is a package together with the metadata needed to rank it
type candidate struct {
	pkg      types.Package
	size     uint64
	requires []string
	provides []string
}

// rank orders candidates by popularity and returns at most req.MaxLayers of
// those whose installed size reaches req.SizeThreshold.
//
// A package's popularity is the number of packages whose dependency closure,
// itself included, contains it. Ties are broken by name.
func rank(cands []candidate, req Request) []types.Package {
	if req.MaxLayers <= 0 || len(cands) == 0 {
		return nil
	}

	deps := dependencyGraph(cands)
	score := make([]int, len(cands))
	seen := make([]int, len(cands))
	for i := range seen {
		seen[i] = -1
	}
	stack := make([]int, 0, len(cands))
	for root := range cands {
		stack = append(stack[:0], root)
		seen[root] = root
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			score[n]++
			for _, d := range deps[n] {
				if seen[d] != root {
					seen[d] = root
					stack = append(stack, d)
				}
			}
		}
	}

	order := make([]int, len(cands))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if score[ia] != score[ib] {
			return score[ia] > score[ib]
		}
		return cands[ia].pkg.Name < cands[ib].pkg.Name
	})

	var out []types.Package
	for _, i := range order {
		if len(out) == req.MaxLayers {
			break
		}
		if cands[i].size < req.SizeThreshold {
			continue
		}
		out = append(out, cands[i].pkg)
	}
	return out
}

// dependencyGraph links each candidate to the candidates providing its
// requirements. File paths count as provides. Edges between packages of the
// same name are dropped.
func dependencyGraph(cands []candidate) [][]int {
	providers := make(map[string][]int)
	add := func(name string, i int) {
		p := providers[name]
		if len(p) > 0 && p[len(p)-1] == i {
			return
		}
		providers[name] = append(p, i)
	}
	for i, c := range cands {
		add(c.pkg.Name, i)
		for _, p := range c.provides {
			add(p, i)
		}
		for _, f := range c.pkg.Files {
			add(f, i)
		}
	}

	deps := make([][]int, len(cands))
	for i, c := range cands {
		linked := make(map[int]bool)
		for _, r := range c.requires {
			for _, p := range providers[r] {
				if cands[p].pkg.Name == c.pkg.Name || linked[p] {
					continue
				}
				linked[p] = true
				deps[i] = append(deps[i], p)
			}
		}
		sort.Ints(deps[i])
	}
	return deps
}
