package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseFields turns key=value arguments into decision data. A value that is
// valid JSON is used as decoded; a comma separated value becomes a list;
// anything else stays a string.
func parseFields(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("field %q: want key=value", arg)
		}
		data[key] = parseValue(value)
	}
	return data, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	if strings.Contains(s, ",") {
		return splitList(s)
	}
	return s
}

// splitList splits a comma separated answer, dropping blanks.
func splitList(s string) []any {
	var out []any
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
