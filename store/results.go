package store

// Results is a finite, non-restartable sequence of entities. Once Next
// returns Done the sequence is exhausted for good; callers that need
// the results twice must collect them into a slice.
type Results struct {
	entities []*Entity
	pos      int
}

func newResults(entities []*Entity) *Results {
	return &Results{entities: entities}
}

// Next returns the next entity, or Done when the sequence is
// exhausted.
func (r *Results) Next() (*Entity, error) {
	if r.pos >= len(r.entities) {
		return nil, Done
	}
	e := r.entities[r.pos]
	r.pos++
	return e, nil
}

// All drains the remaining entities into a slice.
func (r *Results) All() []*Entity {
	out := r.entities[r.pos:]
	r.pos = len(r.entities)
	return out
}
