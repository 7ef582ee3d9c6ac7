package store

import "testing"

func TestQueryBuilder_Derives(t *testing.T) {
	base := NewQuery("Ledger")
	derived := base.FilterField("balance", OpGreater, IntValue(10)).Limit(5)

	if len(base.Filters()) != 0 || base.ResultLimit() != 0 {
		t.Error("builder methods must not mutate the receiver")
	}
	if len(derived.Filters()) != 1 || derived.ResultLimit() != 5 {
		t.Errorf("derived query lost state: %+v", derived)
	}
}

func TestQueryMatches_Kind(t *testing.T) {
	e := NewEntity(NameKey("Ledger", "l1", nil)).Build()
	if !NewQuery("Ledger").Matches(e) {
		t.Error("matching kind rejected")
	}
	if NewQuery("Account").Matches(e) {
		t.Error("wrong kind accepted")
	}
}

func TestQueryMatches_Ancestor(t *testing.T) {
	alice := NameKey("Account", "alice", nil)
	bob := NameKey("Account", "bob", nil)
	e := NewEntity(IDKey("Ledger", 1, alice)).Build()

	if !NewQuery("Ledger").Ancestor(alice).Matches(e) {
		t.Error("descendant rejected")
	}
	if NewQuery("Ledger").Ancestor(bob).Matches(e) {
		t.Error("unrelated ancestor accepted")
	}
}

func TestQueryMatches_Filters(t *testing.T) {
	e := NewEntity(NameKey("Ledger", "l1", nil)).
		SetString("owner", "alice").
		SetInt("balance", 50).
		Build()

	tests := []struct {
		name string
		q    *Query
		want bool
	}{
		{"equal hit", NewQuery("Ledger").FilterField("owner", OpEqual, StringValue("alice")), true},
		{"equal miss", NewQuery("Ledger").FilterField("owner", OpEqual, StringValue("bob")), false},
		{"not equal", NewQuery("Ledger").FilterField("owner", OpNotEqual, StringValue("bob")), true},
		{"greater hit", NewQuery("Ledger").FilterField("balance", OpGreater, IntValue(10)), true},
		{"greater miss", NewQuery("Ledger").FilterField("balance", OpGreater, IntValue(50)), false},
		{"greater equal", NewQuery("Ledger").FilterField("balance", OpGreaterEqual, IntValue(50)), true},
		{"less", NewQuery("Ledger").FilterField("balance", OpLess, IntValue(51)), true},
		{"less equal miss", NewQuery("Ledger").FilterField("balance", OpLessEqual, IntValue(49)), false},
		{"missing property", NewQuery("Ledger").FilterField("absent", OpEqual, IntValue(1)), false},
		{"type mismatch ordering", NewQuery("Ledger").FilterField("owner", OpGreater, IntValue(1)), false},
		{"conjunction", NewQuery("Ledger").
			FilterField("owner", OpEqual, StringValue("alice")).
			FilterField("balance", OpLess, IntValue(10)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Matches(e); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResults_NonRestartable(t *testing.T) {
	e1 := NewEntity(NameKey("A", "1", nil)).Build()
	e2 := NewEntity(NameKey("A", "2", nil)).Build()
	r := newResults([]*Entity{e1, e2})

	got1, err := r.Next()
	if err != nil || got1 != e1 {
		t.Fatalf("first Next = %v, %v", got1, err)
	}
	got2, err := r.Next()
	if err != nil || got2 != e2 {
		t.Fatalf("second Next = %v, %v", got2, err)
	}
	if _, err := r.Next(); err != Done {
		t.Errorf("expected Done, got %v", err)
	}
	if _, err := r.Next(); err != Done {
		t.Error("exhausted results must stay exhausted")
	}
}

func TestResults_All(t *testing.T) {
	e1 := NewEntity(NameKey("A", "1", nil)).Build()
	e2 := NewEntity(NameKey("A", "2", nil)).Build()
	r := newResults([]*Entity{e1, e2})

	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	rest := r.All()
	if len(rest) != 1 || rest[0] != e2 {
		t.Errorf("All after one Next = %v", rest)
	}
	if _, err := r.Next(); err != Done {
		t.Error("All must exhaust the sequence")
	}
}
