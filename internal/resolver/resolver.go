// Package resolver chooses a version (or path) for every package
// reachable from a root so that all transitive constraints are
// satisfied. The search itself is a generic backtracking walk over
// (package, candidate) nodes; the candidate sets and dependency edges
// come from a Provider.
package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dub-build/dub/internal/version"
)

// TreeNode is a concrete choice: a package bound to one candidate.
type TreeNode struct {
	Pack   string
	Config version.Dependency
}

// ChildDep is one dependency edge from a concrete node.
type ChildDep struct {
	Pack string
	Dep  version.Dependency
}

// Provider feeds the search with candidates and edges.
type Provider interface {
	// AllConfigs returns the candidate set for a package, ordered most
	// preferred first.
	AllConfigs(pack string) ([]version.Dependency, error)

	// SpecificConfigs returns the candidate set forced by a particular
	// referring edge (path pins), or nil when the edge does not
	// constrain the set beyond matching.
	SpecificConfigs(pack string, dep version.Dependency) []version.Dependency

	// Children returns the dependency edges of a concrete node.
	Children(node TreeNode) ([]ChildDep, error)
}

// DependencyCycleError reports a cycle among packages.
type DependencyCycleError struct {
	Path []string
}

func (e *DependencyCycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Constraint is one edge of a conflict frontier.
type Constraint struct {
	From string
	Dep  version.Dependency
}

// UnresolvableConflictError reports that no candidate of a package
// satisfies all constraints placed on it.
type UnresolvableConflictError struct {
	Pack        string
	Constraints []Constraint
}

func (e *UnresolvableConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unresolvable dependency conflict on %q", e.Pack)
	for _, c := range e.Constraints {
		fmt.Fprintf(&b, "\n  %s requires %s", c.From, c.Dep)
	}
	return b.String()
}

// maxSteps bounds the backtracking search against pathological inputs.
const maxSteps = 1_000_000

// Resolver runs the backtracking search.
type Resolver struct {
	provider Provider
}

// New creates a Resolver over the given provider.
func New(p Provider) *Resolver {
	return &Resolver{provider: p}
}

type solveState struct {
	order       []string                        // discovery order
	candidates  map[string][]version.Dependency // per package
	constraints map[string][]Constraint         // from assigned parents
	chosen      map[string]version.Dependency
	parent      map[string]string // first discoverer, for cycle paths
	children    map[string][]ChildDep
	steps       int
	conflict    *UnresolvableConflictError
}

// Resolve searches for an assignment covering every package reachable
// from root. The returned map excludes the root itself.
func (r *Resolver) Resolve(root TreeNode) (map[string]version.Dependency, error) {
	st := &solveState{
		candidates:  make(map[string][]version.Dependency),
		constraints: make(map[string][]Constraint),
		chosen:      make(map[string]version.Dependency),
		parent:      make(map[string]string),
		children:    make(map[string][]ChildDep),
	}
	st.chosen[root.Pack] = root.Config

	if err := r.expand(st, root); err != nil {
		return nil, err
	}
	ok, err := r.assign(st, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		if st.conflict != nil {
			return nil, st.conflict
		}
		return nil, &UnresolvableConflictError{Pack: root.Pack}
	}

	out := make(map[string]version.Dependency, len(st.chosen)-1)
	for name, dep := range st.chosen {
		if name == root.Pack {
			continue
		}
		out[name] = dep
	}
	return out, nil
}

// errEdgeConflict signals that a tentative choice contradicts an edge to
// an already-assigned package; the caller tries the next candidate.
var errEdgeConflict = errors.New("edge conflicts with assigned package")

// expand records the children of a freshly chosen node: new packages
// join the agenda, every edge adds a constraint, and an edge back to an
// ancestor is a cycle. Validation happens before any state is touched so
// a rejected expansion needs no rollback.
func (r *Resolver) expand(st *solveState, node TreeNode) error {
	kids, err := r.provider.Children(node)
	if err != nil {
		return err
	}
	sort.Slice(kids, func(i, j int) bool { return kids[i].Pack < kids[j].Pack })

	for _, kid := range kids {
		if r.isAncestor(st, kid.Pack, node.Pack) {
			return &DependencyCycleError{Path: r.cyclePath(st, kid.Pack, node.Pack)}
		}
		if chosen, done := st.chosen[kid.Pack]; done && !satisfies(kid.Dep, chosen) {
			return errEdgeConflict
		}
	}

	st.children[node.Pack] = kids
	for _, kid := range kids {
		if _, known := st.constraints[kid.Pack]; !known {
			st.parent[kid.Pack] = node.Pack
			st.order = append(st.order, kid.Pack)
		}
		st.constraints[kid.Pack] = append(st.constraints[kid.Pack], Constraint{From: node.Pack, Dep: kid.Dep})
	}
	return nil
}

// unexpand rolls back the bookkeeping of expand.
func (r *Resolver) unexpand(st *solveState, node TreeNode) {
	for _, kid := range st.children[node.Pack] {
		cs := st.constraints[kid.Pack]
		for i := len(cs) - 1; i >= 0; i-- {
			if cs[i].From == node.Pack {
				cs = append(cs[:i], cs[i+1:]...)
				break
			}
		}
		if len(cs) == 0 {
			delete(st.constraints, kid.Pack)
			delete(st.parent, kid.Pack)
			for i := len(st.order) - 1; i >= 0; i-- {
				if st.order[i] == kid.Pack {
					st.order = append(st.order[:i], st.order[i+1:]...)
					break
				}
			}
		} else {
			st.constraints[kid.Pack] = cs
		}
	}
	delete(st.children, node.Pack)
}

func (r *Resolver) isAncestor(st *solveState, candidate, of string) bool {
	for cur := of; ; {
		if cur == candidate {
			return true
		}
		next, ok := st.parent[cur]
		if !ok {
			return false
		}
		cur = next
	}
}

func (r *Resolver) cyclePath(st *solveState, from, to string) []string {
	var rev []string
	for cur := to; ; {
		rev = append(rev, cur)
		if cur == from {
			break
		}
		next, ok := st.parent[cur]
		if !ok {
			break
		}
		cur = next
	}
	path := make([]string, 0, len(rev)+1)
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, from)
}

// assign picks a candidate for the idx-th discovered package and
// recurses. Exhausting all candidates records the conflict frontier and
// backtracks.
func (r *Resolver) assign(st *solveState, idx int) (bool, error) {
	if idx >= len(st.order) {
		return true, nil
	}
	st.steps++
	if st.steps > maxSteps {
		return false, fmt.Errorf("dependency resolution exceeded %d steps", maxSteps)
	}

	pkg := st.order[idx]
	if _, done := st.chosen[pkg]; done {
		return r.assign(st, idx+1)
	}

	cands, err := r.candidatesFor(st, pkg)
	if err != nil {
		return false, err
	}

	tried := false
	for _, cand := range cands {
		if !r.satisfiesAll(st, pkg, cand) {
			continue
		}
		tried = true
		st.chosen[pkg] = cand
		node := TreeNode{Pack: pkg, Config: cand}
		if err := r.expand(st, node); err != nil {
			delete(st.chosen, pkg)
			if errors.Is(err, errEdgeConflict) {
				continue
			}
			return false, err
		}
		ok, err := r.assign(st, idx+1)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		r.unexpand(st, node)
		delete(st.chosen, pkg)
	}

	if st.conflict == nil || !tried {
		st.conflict = &UnresolvableConflictError{
			Pack:        pkg,
			Constraints: append([]Constraint(nil), st.constraints[pkg]...),
		}
	}
	return false, nil
}

// candidatesFor computes and caches the candidate set of a package. A
// path-pinned edge narrows the set to what the path yields.
func (r *Resolver) candidatesFor(st *solveState, pkg string) ([]version.Dependency, error) {
	if cands, ok := st.candidates[pkg]; ok {
		return cands, nil
	}
	for _, c := range st.constraints[pkg] {
		if c.Dep.IsPath() {
			cands := r.provider.SpecificConfigs(pkg, c.Dep)
			st.candidates[pkg] = cands
			return cands, nil
		}
	}
	cands, err := r.provider.AllConfigs(pkg)
	if err != nil {
		return nil, err
	}
	st.candidates[pkg] = cands
	return cands, nil
}

// satisfiesAll checks a candidate against every constraint placed by
// currently assigned parents. A path candidate satisfies any version
// constraint: path pins win.
func (r *Resolver) satisfiesAll(st *solveState, pkg string, cand version.Dependency) bool {
	for _, c := range st.constraints[pkg] {
		if !satisfies(c.Dep, cand) {
			return false
		}
	}
	return true
}

func satisfies(edge, cand version.Dependency) bool {
	if cand.IsPath() {
		return !edge.IsPath() || edge.Path == cand.Path
	}
	if edge.IsPath() {
		return false
	}
	return edge.Matches(cand.ExactVersion())
}
