package engine

import (
	"context"
	"reflect"
	"testing"
)

func noopExecute(ctx context.Context, rc *RunContext) (*Outcome, error) {
	return &Outcome{}, nil
}

func testStep(key string, order int) Descriptor {
	return Descriptor{
		Key:     key,
		Name:    "Step " + key,
		Order:   order,
		Execute: noopExecute,
	}
}

func TestRegistryRejectsDuplicateKey(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(testStep("a", 1)); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}

	err := reg.Register(testStep("a", 2))
	if err == nil {
		t.Fatal("expected error for duplicate key")
	}
	if !IsConfigError(err) {
		t.Errorf("expected config error, got %T", err)
	}
}

func TestRegistryRejectsMalformedDescriptor(t *testing.T) {
	reg := NewRegistry()

	cases := []Descriptor{
		{Name: "no key", Execute: noopExecute},
		{Key: "nokey", Execute: noopExecute},
		{Key: "noexec", Name: "No execute"},
	}
	for _, d := range cases {
		if err := reg.Register(d); err == nil {
			t.Errorf("expected error registering %+v", d)
		}
	}
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d steps", reg.Len())
	}
}

func TestOrderedBatchesGroupsAndSorts(t *testing.T) {
	reg := NewRegistry()
	for _, d := range []Descriptor{
		testStep("c", 10),
		testStep("a", 5),
		testStep("d", 10),
		testStep("e", 20),
	} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Key, err)
		}
	}

	batches := reg.OrderedBatches()
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}

	var got [][]string
	for _, b := range batches {
		keys := make([]string, len(b.Steps))
		for i, d := range b.Steps {
			keys[i] = d.Key
		}
		got = append(got, keys)
	}
	want := [][]string{{"a"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("batches = %v, want %v", got, want)
	}
	if batches[0].Order != 5 || batches[1].Order != 10 || batches[2].Order != 20 {
		t.Errorf("unexpected batch orders: %v %v %v",
			batches[0].Order, batches[1].Order, batches[2].Order)
	}
}

func TestOrderedBatchesDeterministic(t *testing.T) {
	reg := NewRegistry()
	for _, d := range []Descriptor{
		testStep("x", 7), testStep("y", 3), testStep("z", 7), testStep("w", 3),
	} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Key, err)
		}
	}

	first := reg.OrderedBatches()
	for i := 0; i < 10; i++ {
		if !reflect.DeepEqual(keysOf(reg.OrderedBatches()), keysOf(first)) {
			t.Fatal("OrderedBatches is not deterministic")
		}
	}
}

func keysOf(batches []Batch) []string {
	var keys []string
	for _, b := range batches {
		for _, d := range b.Steps {
			keys = append(keys, d.Key)
		}
	}
	return keys
}

func TestRegistrySelect(t *testing.T) {
	reg := NewRegistry()
	for _, d := range []Descriptor{
		testStep("a", 1), testStep("b", 2), testStep("c", 3),
	} {
		if err := reg.Register(d); err != nil {
			t.Fatalf("register %s: %v", d.Key, err)
		}
	}

	sub, err := reg.Select([]string{"c", "a"})
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if !reflect.DeepEqual(sub.Keys(), []string{"a", "c"}) {
		t.Errorf("sub keys = %v, want [a c]", sub.Keys())
	}

	if _, err := reg.Select([]string{"nope"}); err == nil {
		t.Error("expected error for unknown key")
	}
}
