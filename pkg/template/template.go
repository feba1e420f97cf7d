// Package template renders text/template strings against instance context
// data for step configuration values.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}

		return string(data), nil
	},
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}

		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// NeedsTemplating reports whether s contains template actions.
func NeedsTemplating(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderString executes templateStr against data and returns the raw text.
// Missing keys render as empty strings.
func RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.New("value").Option("missingkey=zero").Funcs(funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Render executes templateStr and converts the result into a JSON value, a
// number or a boolean when it looks like one; otherwise it returns the string.
func Render(templateStr string, data any) (any, error) {
	rendered, err := RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderValue walks maps and slices and renders every string that contains a
// template. Other values are returned unchanged.
func RenderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !NeedsTemplating(v) {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("failed to render %s: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := RenderValue(item, data)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

// RenderMap is RenderValue for the common map case.
func RenderMap(values map[string]any, data any) (map[string]any, error) {
	if values == nil {
		return map[string]any{}, nil
	}

	rendered, err := RenderValue(values, data)
	if err != nil {
		return nil, err
	}

	return rendered.(map[string]any), nil
}
