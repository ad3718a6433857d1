// Package graph is a typed state-graph workflow engine: nodes are
// functions from state to partial state, edges route by name, and every
// step is checkpointed so an interrupted workflow resumes where it
// stopped.
package graph

// State is the heterogeneous workflow state shared between nodes. Nodes
// return partial states; the engine merges them shallowly, last writer
// wins per key.
type State map[string]any

// Clone returns a shallow copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge applies a partial update, overwriting existing keys. The receiver
// is mutated and returned.
func (s State) Merge(update State) State {
	for k, v := range update {
		s[k] = v
	}
	return s
}

// GetString returns the string at key, or "" when absent or not a string.
func (s State) GetString(key string) string {
	v, _ := s[key].(string)
	return v
}

// GetInt returns the int at key. JSON round-trips store numbers as
// float64, so both are accepted.
func (s State) GetInt(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// GetBool returns the bool at key, or false when absent.
func (s State) GetBool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// GetStrings returns the string slice at key, tolerating []any from JSON
// round-trips.
func (s State) GetStrings(key string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
