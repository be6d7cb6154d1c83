package engine

import "sort"

// Resolver rewrites an album processing queue so that applying deletions in
// list order and then additions in list order keeps the hierarchy valid at
// every intermediate step.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve post-processes the album queue against the current local album map.
//
// Additions are ordered parent-first, deletions child-first. A kept album
// whose ancestor is being deleted is lifted: its on-disk form is destroyed
// with the ancestor, so it moves to both ToDelete and ToAdd and is recreated
// once its parent is materialized again. Re-parented albums arrive from the
// differ already present in both lists and need no extra handling here.
//
// Parent pointers are resolved through a UUID-keyed index built for this
// pass; no parent-pointer graph is materialized.
func (r *Resolver) Resolve(q Queue[Album], local map[string]Album) (Queue[Album], error) {
	q = r.liftSurvivors(q, local)

	toDelete, err := orderDeletes(q.ToDelete, local)
	if err != nil {
		return Queue[Album]{}, err
	}
	q.ToDelete = toDelete

	keep := make(map[string]bool, len(q.ToKeep))
	for _, b := range q.ToKeep {
		keep[b.UUID] = true
	}
	toAdd, err := orderAdds(q.ToAdd, keep)
	if err != nil {
		return Queue[Album]{}, err
	}
	q.ToAdd = toAdd

	return q, nil
}

// liftSurvivors reclassifies every kept album that is a descendant of a
// deleted album: it joins both ToDelete and ToAdd.
func (r *Resolver) liftSurvivors(q Queue[Album], local map[string]Album) Queue[Album] {
	children := make(map[string][]string, len(local))
	for _, b := range local {
		children[b.ParentUUID] = append(children[b.ParentUUID], b.UUID)
	}

	doomed := make(map[string]bool, len(q.ToDelete))
	frontier := make([]string, 0, len(q.ToDelete))
	for _, b := range q.ToDelete {
		doomed[b.UUID] = true
		frontier = append(frontier, b.UUID)
	}
	for len(frontier) > 0 {
		uuid := frontier[0]
		frontier = frontier[1:]
		for _, child := range children[uuid] {
			if !doomed[child] {
				doomed[child] = true
				frontier = append(frontier, child)
			}
		}
	}

	var kept []Album
	for _, b := range q.ToKeep {
		if !doomed[b.UUID] {
			kept = append(kept, b)
			continue
		}
		q.ToDelete = append(q.ToDelete, local[b.UUID])
		q.ToAdd = append(q.ToAdd, b)
	}
	q.ToKeep = kept
	return q
}

// orderDeletes sorts deletions child-first: deeper albums in the local tree
// come out before their ancestors. Siblings at the same depth are ordered
// lexicographically by UUID.
func orderDeletes(toDelete []Album, local map[string]Album) ([]Album, error) {
	depths := make(map[string]int, len(toDelete))
	for _, b := range toDelete {
		d, err := localDepth(b.UUID, local)
		if err != nil {
			return nil, err
		}
		depths[b.UUID] = d
	}

	out := append([]Album(nil), toDelete...)
	sort.Slice(out, func(i, j int) bool {
		di, dj := depths[out[i].UUID], depths[out[j].UUID]
		if di != dj {
			return di > dj
		}
		return out[i].UUID < out[j].UUID
	})
	return out, nil
}

// localDepth counts the parent chain of an album within the local map. The
// root album (empty UUID) has depth zero.
func localDepth(uuid string, local map[string]Album) (int, error) {
	depth := 0
	for uuid != "" {
		b, ok := local[uuid]
		if !ok {
			return 0, &InvariantError{UUID: uuid, Reason: "parent chain leaves the local album set"}
		}
		uuid = b.ParentUUID
		depth++
		if depth > len(local) {
			return 0, &InvariantError{UUID: b.UUID, Reason: "cycle in local album parents"}
		}
	}
	return depth, nil
}

// orderAdds topologically sorts additions parent-first. An addition's parent
// must be another addition, a kept album, or the root. Ready albums are
// emitted in lexicographic UUID order so the stream is deterministic.
func orderAdds(toAdd []Album, keep map[string]bool) ([]Album, error) {
	pending := make(map[string]Album, len(toAdd))
	for _, b := range toAdd {
		pending[b.UUID] = b
	}

	for _, b := range toAdd {
		if b.UUID == "" {
			continue
		}
		if _, inAdd := pending[b.ParentUUID]; inAdd {
			continue
		}
		if b.ParentUUID != "" && !keep[b.ParentUUID] {
			return nil, &InvariantError{UUID: b.UUID, Reason: "parent album " + b.ParentUUID + " does not exist"}
		}
	}

	out := make([]Album, 0, len(toAdd))
	for len(pending) > 0 {
		var ready []string
		for uuid, b := range pending {
			if _, blocked := pending[b.ParentUUID]; !blocked || b.UUID == "" {
				ready = append(ready, uuid)
			}
		}
		if len(ready) == 0 {
			var stuck string
			for uuid := range pending {
				stuck = uuid
				break
			}
			return nil, &InvariantError{UUID: stuck, Reason: "cycle among album additions"}
		}
		sort.Strings(ready)
		for _, uuid := range ready {
			out = append(out, pending[uuid])
			delete(pending, uuid)
		}
	}
	return out, nil
}
