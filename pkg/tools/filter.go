package tools

import "fmt"

// Filter returns the tools named in enabled, keeping the order of all.
// An empty enabled list keeps every tool. A name that matches no tool is
// a configuration error.
func Filter(all []*Tool, enabled []string) ([]*Tool, error) {
	if len(enabled) == 0 {
		return all, nil
	}

	// Build lookup set.
	want := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		want[name] = true
	}

	var out []*Tool
	for _, t := range all {
		if want[t.Name] {
			out = append(out, t)
			delete(want, t.Name)
		}
	}
	for name := range want {
		return nil, fmt.Errorf("tool %q is not a known tool", name)
	}
	return out, nil
}
