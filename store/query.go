package store

// Op is a property predicate operator.
type Op string

const (
	OpEqual        Op = "="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Filter is a single property predicate.
type Filter struct {
	Name  string
	Op    Op
	Value Value
}

// Query is a declarative filter over entities of one kind, optionally
// restricted to the descendants of an ancestor key. Builder methods
// return a derived copy; a Query value is never mutated after
// construction and may be shared.
type Query struct {
	kind     string
	ancestor *Key
	filters  []Filter
	limit    int
}

// NewQuery creates a query for the given kind.
func NewQuery(kind string) *Query {
	return &Query{kind: kind}
}

func (q *Query) clone() *Query {
	c := *q
	c.filters = append([]Filter(nil), q.filters...)
	return &c
}

// Ancestor restricts the query to entities whose key path descends
// from (or equals) the given key.
func (q *Query) Ancestor(k *Key) *Query {
	c := q.clone()
	c.ancestor = k
	return c
}

// FilterField adds a property predicate.
func (q *Query) FilterField(name string, op Op, v Value) *Query {
	c := q.clone()
	c.filters = append(c.filters, Filter{Name: name, Op: op, Value: v})
	return c
}

// Limit caps the number of results. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	c.limit = n
	return c
}

// Kind returns the query's kind.
func (q *Query) Kind() string { return q.kind }

// AncestorKey returns the ancestor restriction, or nil.
func (q *Query) AncestorKey() *Key { return q.ancestor }

// Filters returns the property predicates in the order added.
func (q *Query) Filters() []Filter {
	return append([]Filter(nil), q.filters...)
}

// ResultLimit returns the result cap, zero meaning unlimited.
func (q *Query) ResultLimit() int { return q.limit }

// Matches reports whether an entity satisfies the query's kind,
// ancestor and property predicates. Limit is not applied here.
func (q *Query) Matches(e *Entity) bool {
	if e == nil || e.Key() == nil {
		return false
	}
	if e.Key().Kind != q.kind {
		return false
	}
	if q.ancestor != nil && !e.Key().HasAncestor(q.ancestor) {
		return false
	}
	for _, f := range q.filters {
		v, ok := e.Value(f.Name)
		if !ok {
			return false
		}
		if !matchFilter(f, v) {
			return false
		}
	}
	return true
}

func matchFilter(f Filter, v Value) bool {
	switch f.Op {
	case OpEqual:
		return valuesEqual(v, f.Value)
	case OpNotEqual:
		return !valuesEqual(v, f.Value)
	}
	c, ok := compareValues(v, f.Value)
	if !ok {
		return false
	}
	switch f.Op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	}
	return false
}
