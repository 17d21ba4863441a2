package bean

import (
	"context"

	"github.com/Plawn/r2e-sub001/pkg/config"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/typelist"
)

const (
	white = iota // unvisited
	grey         // on the current DFS path
	black        // fully visited
)

// Resolve validates the graph and constructs every bean in dependency
// order. On any failure no context is returned.
//
// Registration errors, duplicates and missing dependencies are reported
// together in one aggregate error. Cycles, declared configuration keys and
// construction are checked afterwards, in that order.
func (r *Registry) Resolve(ctx context.Context) (*Context, error) {
	r.mu.Lock()
	descriptors := make([]*Descriptor, len(r.descriptors))
	copy(descriptors, r.descriptors)
	index := make(map[typelist.Fingerprint]*Descriptor, len(r.index))
	for k, v := range r.index {
		index[k] = v
	}
	errs := append([]error(nil), r.errs...)
	r.mu.Unlock()

	problems := apperrors.NewCollector("bean graph is invalid")
	for _, err := range errs {
		problems.Add(err)
	}
	for _, d := range descriptors {
		for _, dep := range d.Dependencies {
			if _, ok := index[dep.Fingerprint]; !ok {
				problems.Add(&MissingDependencyError{Bean: d.Name, Dependency: dep.Name})
			}
		}
	}
	if err := problems.Err(); err != nil {
		return nil, err
	}

	order, err := topoSort(descriptors, index)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(descriptors, index); err != nil {
		return nil, err
	}

	bc := newContext(len(order))
	for _, d := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.Flavor == FlavorProvided {
			bc.put(d, d.instance)
			continue
		}
		v, err := d.build(ctx, bc)
		if err != nil {
			return nil, &BuildError{Bean: d.Name, Chain: dependents(d, descriptors), Err: err}
		}
		bc.put(d, v)
	}
	return bc, nil
}

// topoSort runs a three-color DFS over dependencies in insertion order and
// returns beans in post-order, so every bean follows its dependencies.
func topoSort(descriptors []*Descriptor, index map[typelist.Fingerprint]*Descriptor) ([]*Descriptor, error) {
	color := make(map[typelist.Fingerprint]int, len(descriptors))
	order := make([]*Descriptor, 0, len(descriptors))
	var path []*Descriptor

	var visit func(d *Descriptor) error
	visit = func(d *Descriptor) error {
		switch color[d.Fingerprint] {
		case black:
			return nil
		case grey:
			// d is on the current path: the cycle runs from d back to d.
			start := 0
			for i, p := range path {
				if p.Fingerprint == d.Fingerprint {
					start = i
					break
				}
			}
			cycle := make([]string, 0, len(path)-start+1)
			for _, p := range path[start:] {
				cycle = append(cycle, p.Name)
			}
			cycle = append(cycle, d.Name)
			return &CyclicDependencyError{Cycle: cycle}
		}

		color[d.Fingerprint] = grey
		path = append(path, d)
		for _, dep := range d.Dependencies {
			if err := visit(index[dep.Fingerprint]); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[d.Fingerprint] = black
		order = append(order, d)
		return nil
	}

	for _, d := range descriptors {
		if color[d.Fingerprint] == white {
			if err := visit(d); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// validateConfig checks every declared configuration key against the
// provided *config.Store, collecting all failures. When the store is itself
// constructed, keys are checked as beans are built instead.
func validateConfig(descriptors []*Descriptor, index map[typelist.Fingerprint]*Descriptor) error {
	var reqs []config.Requirement
	for _, d := range descriptors {
		reqs = append(reqs, d.ConfigKeys...)
	}
	if len(reqs) == 0 {
		return nil
	}

	storeDesc, ok := index[storeFingerprint]
	if !ok {
		collector := apperrors.NewCollector("configuration validation failed")
		for _, req := range reqs {
			collector.Add(&config.RequirementError{Owner: req.Owner, Err: &config.NotFoundError{Key: req.Key}})
		}
		return collector.Err()
	}
	if storeDesc.Flavor != FlavorProvided {
		return nil
	}
	store, _ := storeDesc.instance.(*config.Store)
	if store == nil {
		return nil
	}
	return store.Validate(reqs)
}

// dependents returns the chain of beans waiting on d: its first dependent
// in insertion order, that bean's first dependent, and so on.
func dependents(d *Descriptor, descriptors []*Descriptor) []string {
	var chain []string
	seen := map[typelist.Fingerprint]bool{d.Fingerprint: true}
	current := d
	for {
		var next *Descriptor
		for _, candidate := range descriptors {
			if seen[candidate.Fingerprint] {
				continue
			}
			for _, dep := range candidate.Dependencies {
				if dep.Fingerprint == current.Fingerprint {
					next = candidate
					break
				}
			}
			if next != nil {
				break
			}
		}
		if next == nil {
			return chain
		}
		chain = append(chain, next.Name)
		seen[next.Fingerprint] = true
		current = next
	}
}
