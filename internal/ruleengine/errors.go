package ruleengine

import (
	"fmt"
	"sort"
	"strings"
)

// FlagErrors lists flags that exist but could not be loaded, keyed by name.
// Bulk lookups return it next to the flags that did load.
type FlagErrors map[string]error

func (e FlagErrors) Error() string {
	names := make([]string, 0, len(e))
	for name := range e {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s: %v", name, e[name])
	}
	return fmt.Sprintf("failed to load %d flags: %s", len(e), strings.Join(parts, "; "))
}
