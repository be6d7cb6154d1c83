package engine

import (
	"errors"
	"testing"
)

func folder(uuid, parent string) Album {
	return Album{UUID: uuid, Label: uuid, Kind: KindFolder, ParentUUID: parent}
}

func leafAlbum(uuid, parent string) Album {
	return Album{UUID: uuid, Label: uuid, Kind: KindAlbum, ParentUUID: parent}
}

func localMap(albums ...Album) map[string]Album {
	m := map[string]Album{"": {UUID: "", Kind: KindFolder}}
	for _, b := range albums {
		m[b.UUID] = b
	}
	return m
}

func addOrder(q Queue[Album]) map[string]int {
	order := make(map[string]int, len(q.ToAdd))
	for i, b := range q.ToAdd {
		order[b.UUID] = i
	}
	return order
}

func TestResolver_AddsAreParentFirst(t *testing.T) {
	r := NewResolver()

	q := Queue[Album]{ToAdd: []Album{
		leafAlbum("c", "b"),
		folder("b", "a"),
		folder("a", ""),
	}}
	resolved, err := r.Resolve(q, localMap())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	order := addOrder(resolved)
	if order["a"] > order["b"] || order["b"] > order["c"] {
		t.Errorf("adds not parent-first: %v", resolved.ToAdd)
	}
}

func TestResolver_AddSiblingsAreOrderedByUUID(t *testing.T) {
	r := NewResolver()

	q := Queue[Album]{ToAdd: []Album{
		folder("z", ""),
		folder("m", ""),
		folder("a", ""),
	}}
	resolved, err := r.Resolve(q, localMap())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	got := []string{resolved.ToAdd[0].UUID, resolved.ToAdd[1].UUID, resolved.ToAdd[2].UUID}
	if got[0] != "a" || got[1] != "m" || got[2] != "z" {
		t.Errorf("sibling order = %v, want [a m z]", got)
	}
}

func TestResolver_DeletesAreChildFirst(t *testing.T) {
	r := NewResolver()

	a := folder("a", "")
	b := folder("b", "a")
	c := leafAlbum("c", "b")
	local := localMap(a, b, c)

	q := Queue[Album]{ToDelete: []Album{a, c, b}}
	resolved, err := r.Resolve(q, local)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	pos := make(map[string]int)
	for i, d := range resolved.ToDelete {
		pos[d.UUID] = i
	}
	if pos["c"] > pos["b"] || pos["b"] > pos["a"] {
		t.Errorf("deletes not child-first: %v", resolved.ToDelete)
	}
}

func TestResolver_LiftsKeptDescendantOfDeletedAncestor(t *testing.T) {
	r := NewResolver()

	f1 := folder("f1", "")
	a1 := leafAlbum("a1", "f1")
	local := localMap(f1, a1)

	// f1 was renamed: the differ put it in both lists. a1 is untouched
	// remotely, but its on-disk form lives under f1 and must be rebuilt.
	f1renamed := f1
	f1renamed.Label = "renamed"
	q := Queue[Album]{
		ToKeep:   []Album{a1},
		ToAdd:    []Album{f1renamed},
		ToDelete: []Album{f1},
	}
	resolved, err := r.Resolve(q, local)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(resolved.ToKeep) != 0 {
		t.Errorf("ToKeep = %v, want a1 lifted out", resolved.ToKeep)
	}
	// a1 is deleted before f1 and added after it.
	if len(resolved.ToDelete) != 2 || resolved.ToDelete[0].UUID != "a1" {
		t.Errorf("ToDelete = %v, want [a1 f1]", resolved.ToDelete)
	}
	order := addOrder(resolved)
	if order["f1"] > order["a1"] {
		t.Errorf("lifted album added before its parent: %v", resolved.ToAdd)
	}
}

func TestResolver_LiftCascadesThroughKeptChain(t *testing.T) {
	r := NewResolver()

	top := folder("top", "")
	mid := folder("mid", "top")
	leaf := leafAlbum("leaf", "mid")
	local := localMap(top, mid, leaf)

	renamed := top
	renamed.Label = "renamed"
	q := Queue[Album]{
		ToKeep:   []Album{mid, leaf},
		ToAdd:    []Album{renamed},
		ToDelete: []Album{top},
	}
	resolved, err := r.Resolve(q, local)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(resolved.ToDelete) != 3 || len(resolved.ToAdd) != 3 {
		t.Fatalf("lift did not cascade: delete=%v add=%v", resolved.ToDelete, resolved.ToAdd)
	}
	if resolved.ToDelete[0].UUID != "leaf" || resolved.ToDelete[2].UUID != "top" {
		t.Errorf("ToDelete order = %v, want leaf first, top last", resolved.ToDelete)
	}
	order := addOrder(resolved)
	if order["top"] > order["mid"] || order["mid"] > order["leaf"] {
		t.Errorf("ToAdd order = %v, want top before mid before leaf", resolved.ToAdd)
	}
}

func TestResolver_DanglingParentIsInvariantViolation(t *testing.T) {
	r := NewResolver()

	q := Queue[Album]{ToAdd: []Album{leafAlbum("a1", "gone")}}
	_, err := r.Resolve(q, localMap())

	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("Resolve() error = %v, want InvariantError", err)
	}
	if inv.UUID != "a1" {
		t.Errorf("InvariantError.UUID = %q, want a1", inv.UUID)
	}
}

func TestResolver_CycleAmongAddsIsInvariantViolation(t *testing.T) {
	r := NewResolver()

	q := Queue[Album]{ToAdd: []Album{
		folder("a", "b"),
		folder("b", "a"),
	}}
	_, err := r.Resolve(q, localMap())

	var inv *InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("Resolve() error = %v, want InvariantError", err)
	}
}

func TestResolver_AddUnderKeptParentNeedsNoOrdering(t *testing.T) {
	r := NewResolver()

	f1 := folder("f1", "")
	local := localMap(f1)

	q := Queue[Album]{
		ToKeep: []Album{f1},
		ToAdd:  []Album{leafAlbum("a1", "f1")},
	}
	resolved, err := r.Resolve(q, local)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(resolved.ToAdd) != 1 || resolved.ToAdd[0].UUID != "a1" {
		t.Errorf("ToAdd = %v, want [a1]", resolved.ToAdd)
	}
}
