package store

// Property is a single named value on an entity.
type Property struct {
	Name  string
	Value Value
}

// Entity is a key paired with an ordered list of properties. Entities
// are immutable value objects; construct them with [NewEntity].
type Entity struct {
	key   *Key
	props []Property
	index map[string]int
}

// Key returns the entity's key.
func (e *Entity) Key() *Key {
	return e.key
}

// Properties returns the entity's properties in insertion order. The
// returned slice is a copy.
func (e *Entity) Properties() []Property {
	out := make([]Property, len(e.props))
	copy(out, e.props)
	return out
}

// Value returns the property with the given name.
func (e *Entity) Value(name string) (Value, bool) {
	i, ok := e.index[name]
	if !ok {
		return nil, false
	}
	return e.props[i].Value, true
}

// String returns the named property as a string. It returns "" when
// the property is absent or not a StringValue.
func (e *Entity) String(name string) string {
	if v, ok := e.Value(name); ok {
		if s, ok := v.(StringValue); ok {
			return string(s)
		}
	}
	return ""
}

// Int returns the named property as an int64, or 0 when absent or not
// an IntValue.
func (e *Entity) Int(name string) int64 {
	if v, ok := e.Value(name); ok {
		if n, ok := v.(IntValue); ok {
			return int64(n)
		}
	}
	return 0
}

// Equal reports whether two entities have equal keys and equal
// properties in the same order.
func (e *Entity) Equal(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	if !e.key.Equal(o.key) || len(e.props) != len(o.props) {
		return false
	}
	for i, p := range e.props {
		if p.Name != o.props[i].Name || !valuesEqual(p.Value, o.props[i].Value) {
			return false
		}
	}
	return true
}

// EntityBuilder accumulates properties for an immutable Entity.
// Setting a name that is already present replaces the value in place,
// preserving the original position.
type EntityBuilder struct {
	key   *Key
	props []Property
	index map[string]int
}

// NewEntity starts building an entity for the given key.
func NewEntity(key *Key) *EntityBuilder {
	return &EntityBuilder{
		key:   key,
		index: make(map[string]int),
	}
}

// Set adds or replaces a property.
func (b *EntityBuilder) Set(name string, v Value) *EntityBuilder {
	if i, ok := b.index[name]; ok {
		b.props[i].Value = v
		return b
	}
	b.index[name] = len(b.props)
	b.props = append(b.props, Property{Name: name, Value: v})
	return b
}

// SetString adds or replaces a string property.
func (b *EntityBuilder) SetString(name, v string) *EntityBuilder {
	return b.Set(name, StringValue(v))
}

// SetInt adds or replaces an integer property.
func (b *EntityBuilder) SetInt(name string, v int64) *EntityBuilder {
	return b.Set(name, IntValue(v))
}

// SetBool adds or replaces a boolean property.
func (b *EntityBuilder) SetBool(name string, v bool) *EntityBuilder {
	return b.Set(name, BoolValue(v))
}

// Build returns the immutable entity. The builder may be reused; the
// entity does not share state with it.
func (b *EntityBuilder) Build() *Entity {
	props := make([]Property, len(b.props))
	copy(props, b.props)
	index := make(map[string]int, len(b.index))
	for k, v := range b.index {
		index[k] = v
	}
	return &Entity{key: b.key, props: props, index: index}
}

// RebindKey returns an entity with the same properties bound to a new
// key. Used after id allocation for entities built on incomplete keys.
func (e *Entity) RebindKey(key *Key) *Entity {
	return &Entity{key: key, props: e.props, index: e.index}
}
