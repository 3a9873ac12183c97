package tools

// Filter keeps the definitions named in allowed, in their original order.
// An empty allowed list keeps everything. Names in allowed that match no
// definition are returned as unknown.
func Filter(defs []ToolDefinition, allowed []string) (kept []ToolDefinition, unknown []string) {
	if len(allowed) == 0 {
		return defs, nil
	}

	want := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		want[name] = true
	}
	for _, d := range defs {
		if want[d.Name] {
			kept = append(kept, d)
			delete(want, d.Name)
		}
	}
	for _, name := range allowed {
		if want[name] {
			unknown = append(unknown, name)
			delete(want, name)
		}
	}
	return kept, unknown
}
