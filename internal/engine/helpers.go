package engine

import (
	"sort"
	"strings"
)

func sortedFailures(failures map[string]bool) []string {
	names := make([]string, 0, len(failures))
	for name := range failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	return strings.Join(errs, "; ")
}
