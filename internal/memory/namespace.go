package memory

import "strings"

// Logical namespace tags used to route memories. A full namespace is a
// hierarchical tuple such as (agentID, NamespaceEpisodic, "2024-12-14").
const (
	NamespaceDefault    = "default"
	NamespaceChat       = "chat"
	NamespaceTask       = "task"
	NamespaceEpisodic   = "episodic"
	NamespaceProcedural = "procedural"
	NamespaceSemantic   = "semantic"
	NamespaceReflection = "reflection"
)

// Namespace is a hierarchical tuple partitioning vector collections.
// Equality is element-wise.
type Namespace []string

// NS is a convenience constructor for namespace literals.
func NS(elems ...string) Namespace { return Namespace(elems) }

// Key returns a stable string key for the namespace, identical across
// processes. Each element is trimmed and has internal "__" collapsed to
// "_" so that the "__" join separator stays unambiguous. The empty
// namespace maps to "default".
func (n Namespace) Key() string {
	if len(n) == 0 {
		return NamespaceDefault
	}
	parts := make([]string, len(n))
	for i, p := range n {
		parts[i] = strings.ReplaceAll(strings.TrimSpace(p), "__", "_")
	}
	return strings.Join(parts, "__")
}

// String renders the namespace for metadata and logs.
func (n Namespace) String() string {
	return "(" + strings.Join(n, ", ") + ")"
}

// Equal reports element-wise equality.
func (n Namespace) Equal(other Namespace) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}
