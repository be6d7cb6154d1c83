package engine

import "sort"

// Entity is the contract the differ requires: a stable key and an equality
// check against another instance of the same concrete type.
type Entity[T any] interface {
	Key() string
	Equal(T) bool
}

// Queue is the processing queue produced by diffing a remote entity list
// against a local entity map. Applying ToDelete in order and then ToAdd in
// order transforms the local state into the remote state.
type Queue[T Entity[T]] struct {
	ToKeep   []T
	ToAdd    []T
	ToDelete []T
}

// Diff reconciles the remote entity list against the local entity map.
//
// A remote entity with no local counterpart, or whose local counterpart
// compares unequal, goes to ToAdd; an unequal local counterpart additionally
// stays in ToDelete, so a changed entity is removed and re-added. Local
// entities never mentioned remotely end up in ToDelete.
//
// The result depends only on the inputs. ToDelete is ordered by key so the
// operation stream is deterministic regardless of map iteration order.
func Diff[T Entity[T]](remote []T, local map[string]T) Queue[T] {
	var q Queue[T]
	deleted := make(map[string]T, len(local))
	for k, v := range local {
		deleted[k] = v
	}

	for _, r := range remote {
		l, ok := deleted[r.Key()]
		if !ok || !r.Equal(l) {
			q.ToAdd = append(q.ToAdd, r)
			continue
		}
		q.ToKeep = append(q.ToKeep, l)
		delete(deleted, r.Key())
	}

	keys := make([]string, 0, len(deleted))
	for k := range deleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.ToDelete = append(q.ToDelete, deleted[k])
	}
	return q
}
