package memory

import "testing"

func TestNamespaceKey(t *testing.T) {
	tests := []struct {
		name string
		ns   Namespace
		want string
	}{
		{"empty", NS(), "default"},
		{"single", NS("chat"), "chat"},
		{"hierarchical", NS("agent-1", "episodic", "2024-12-14"), "agent-1__episodic__2024-12-14"},
		{"trims elements", NS(" agent-1 ", "task"), "agent-1__task"},
		{"escapes inner separator", NS("a__b", "c"), "a_b__c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ns.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNamespaceKey_Deterministic(t *testing.T) {
	ns := NS("agent", "semantic", "2025-01-02")
	if ns.Key() != ns.Key() {
		t.Fatal("Key() is not stable across calls")
	}
}

func TestNamespaceKey_DistinctAfterEscape(t *testing.T) {
	// Namespaces whose elements differ after the escape must key differently.
	a := NS("x", "y")
	b := NS("x", "z")
	if a.Key() == b.Key() {
		t.Errorf("distinct namespaces share key %q", a.Key())
	}
}

func TestNamespaceEqual(t *testing.T) {
	if !NS("a", "b").Equal(NS("a", "b")) {
		t.Error("equal namespaces reported unequal")
	}
	if NS("a", "b").Equal(NS("a")) {
		t.Error("different lengths reported equal")
	}
	if NS("a", "b").Equal(NS("a", "c")) {
		t.Error("different elements reported equal")
	}
}
