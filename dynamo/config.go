package dynamo

// Config holds the table layout for the driver.
type Config struct {
	// Table is the entities table. Schema: pk (S, hash of the key
	// path's root element), sk (S, encoded key path).
	// Default: "lattice_entities"
	Table string

	// KindIndex is the GSI used for queries without an ancestor.
	// Schema: kind (S), sk (S).
	// Default: "kind-index"
	KindIndex string
}

// DefaultConfig returns the default table layout.
func DefaultConfig() Config {
	return Config{
		Table:     "lattice_entities",
		KindIndex: "kind-index",
	}
}

// validate fills in defaults for zero fields.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "lattice_entities"
	}
	if c.KindIndex == "" {
		c.KindIndex = "kind-index"
	}
}
