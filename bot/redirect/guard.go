package redirect

import "sort"

// GuardSet is the set of channel ids a guard cog is allowed to act in. An
// empty set disables the cog.
type GuardSet map[int64]struct{}

// NewGuardSet builds a set from ids, dropping non-positive values.
func NewGuardSet(ids ...int64) GuardSet {
	set := make(GuardSet, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// Contains reports whether id is guarded.
func (g GuardSet) Contains(id int64) bool {
	_, ok := g[id]
	return ok
}

// Empty reports whether no channels are guarded.
func (g GuardSet) Empty() bool {
	return len(g) == 0
}

// IDs returns the guarded ids in ascending order.
func (g GuardSet) IDs() []int64 {
	if len(g) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
