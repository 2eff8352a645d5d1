package engine

import (
	"fmt"
	"sort"
)

// Registry holds the step descriptors for a run and resolves their execution
// order. Registration order is remembered so that batches are deterministic:
// ties within an order value are broken by registration sequence.
type Registry struct {
	descriptors []Descriptor
	byKey       map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[string]int),
	}
}

// Register adds a descriptor to the registry. A duplicate key or malformed
// descriptor is a configuration error, detected here at build time rather
// than at run time.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, exists := r.byKey[d.Key]; exists {
		return NewConfigError(fmt.Sprintf("duplicate step key %q", d.Key), nil)
	}
	r.byKey[d.Key] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	return nil
}

// RegisterAll registers a list of descriptors, stopping at the first fault.
func (r *Registry) RegisterAll(ds ...Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the descriptor registered under key.
func (r *Registry) Get(key string) (Descriptor, bool) {
	i, ok := r.byKey[key]
	if !ok {
		return Descriptor{}, false
	}
	return r.descriptors[i], true
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		keys[i] = d.Key
	}
	return keys
}

// Batch is the set of steps sharing one order value, scheduled together.
// Within a batch the parallel-safe steps have no defined relative order;
// serial steps keep registration order.
type Batch struct {
	// Order is the shared order value of the steps in this batch.
	Order int

	// Steps are the batch members in registration order.
	Steps []Descriptor
}

// OrderedBatches resolves the execution order: batches sorted by order value
// ascending, each batch holding the descriptors that share that value in
// registration order. The result is a pure function of the registered
// descriptors, so re-deriving it for the same registry yields an identical
// sequence.
func (r *Registry) OrderedBatches() []Batch {
	grouped := make(map[int][]Descriptor)
	orders := make([]int, 0)
	for _, d := range r.descriptors {
		if _, seen := grouped[d.Order]; !seen {
			orders = append(orders, d.Order)
		}
		grouped[d.Order] = append(grouped[d.Order], d)
	}
	sort.Ints(orders)

	batches := make([]Batch, 0, len(orders))
	for _, o := range orders {
		batches = append(batches, Batch{Order: o, Steps: grouped[o]})
	}
	return batches
}

// Select returns a new registry containing only the steps whose keys are
// listed, preserving this registry's registration order. Unknown keys are a
// configuration error.
func (r *Registry) Select(keys []string) (*Registry, error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := r.byKey[k]; !ok {
			return nil, NewConfigError(fmt.Sprintf("unknown step key %q", k), nil)
		}
		want[k] = true
	}

	sub := NewRegistry()
	for _, d := range r.descriptors {
		if want[d.Key] {
			if err := sub.Register(d); err != nil {
				return nil, err
			}
		}
	}
	return sub, nil
}
