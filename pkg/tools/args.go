package tools

import (
	"fmt"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/errors"
)

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func requiredStringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", errors.NewValidationError(fmt.Sprintf("%s is required", key), nil)
	}
	return v, nil
}

// intArg tolerates the float64 that JSON decoding produces for numbers.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

func boolArg(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

func listArg(args map[string]any, key string) ([]any, error) {
	v, ok := args[key]
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("%s is required", key), nil)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, errors.NewValidationError(fmt.Sprintf("%s must be an array", key), nil)
	}
	return list, nil
}

func clampLimit(limit, max int) int {
	if limit <= 0 {
		return 10
	}
	if limit > max {
		return max
	}
	return limit
}
