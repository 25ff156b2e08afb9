package tools

import (
	"fmt"
	"strings"
)

// ValidateArgs checks an argument map against a tool parameter schema (the
// object/string/number/integer/boolean/array subset of JSON Schema, with enum,
// minimum, maximum, minLength, required and nested objects/arrays). It returns
// one message per violation; an empty slice means the arguments are valid.
func ValidateArgs(schema map[string]interface{}, args map[string]interface{}) []string {
	if schema == nil {
		return nil
	}
	return validateObject(schema, args, "")
}

// FormatValidationErrors renders violations as the bullet list handed back to
// the model in place of a tool result.
func FormatValidationErrors(violations []string) string {
	if len(violations) == 0 {
		return ""
	}
	lines := make([]string, 0, len(violations)+1)
	lines = append(lines, "Invalid parameters:")
	for _, v := range violations {
		lines = append(lines, "- "+v)
	}
	return strings.Join(lines, "\n")
}

func validateObject(schema map[string]interface{}, value map[string]interface{}, path string) []string {
	var violations []string

	properties, _ := schema["properties"].(map[string]interface{})

	if required, ok := schema["required"].([]string); ok {
		violations = append(violations, checkRequired(required, value, path)...)
	} else if requiredRaw, ok := schema["required"].([]interface{}); ok {
		required := make([]string, 0, len(requiredRaw))
		for _, r := range requiredRaw {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
		violations = append(violations, checkRequired(required, value, path)...)
	}

	for name, raw := range value {
		propSchema, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		violations = append(violations, validateValue(propSchema, raw, joinPath(path, name))...)
	}

	return violations
}

func checkRequired(required []string, value map[string]interface{}, path string) []string {
	var violations []string
	for _, name := range required {
		if _, present := value[name]; !present {
			violations = append(violations, fmt.Sprintf("%s is required", joinPath(path, name)))
		}
	}
	return violations
}

func validateValue(schema map[string]interface{}, value interface{}, path string) []string {
	schemaType, _ := schema["type"].(string)

	if value == nil {
		return []string{fmt.Sprintf("%s must not be null", path)}
	}

	switch schemaType {
	case "string":
		s, ok := value.(string)
		if !ok {
			return []string{fmt.Sprintf("%s must be a string", path)}
		}
		var violations []string
		if minLen, ok := numberValue(schema["minLength"]); ok && float64(len(s)) < minLen {
			violations = append(violations, fmt.Sprintf("%s must be at least %d characters", path, int(minLen)))
		}
		violations = append(violations, checkEnum(schema, s, path)...)
		return violations

	case "number", "integer":
		n, ok := numberValue(value)
		if !ok {
			return []string{fmt.Sprintf("%s must be a number", path)}
		}
		var violations []string
		if schemaType == "integer" && n != float64(int64(n)) {
			violations = append(violations, fmt.Sprintf("%s must be an integer", path))
		}
		if min, ok := numberValue(schema["minimum"]); ok && n < min {
			violations = append(violations, fmt.Sprintf("%s must be >= %v", path, min))
		}
		if max, ok := numberValue(schema["maximum"]); ok && n > max {
			violations = append(violations, fmt.Sprintf("%s must be <= %v", path, max))
		}
		return violations

	case "boolean":
		if _, ok := value.(bool); !ok {
			return []string{fmt.Sprintf("%s must be a boolean", path)}
		}
		return nil

	case "array":
		items, ok := value.([]interface{})
		if !ok {
			return []string{fmt.Sprintf("%s must be an array", path)}
		}
		itemSchema, hasItems := schema["items"].(map[string]interface{})
		if !hasItems {
			return nil
		}
		var violations []string
		for i, item := range items {
			violations = append(violations, validateValue(itemSchema, item, fmt.Sprintf("%s[%d]", path, i))...)
		}
		return violations

	case "object":
		obj, ok := value.(map[string]interface{})
		if !ok {
			return []string{fmt.Sprintf("%s must be an object", path)}
		}
		return validateObject(schema, obj, path)

	default:
		// Unknown or absent type: only enum applies.
		if s, ok := value.(string); ok {
			return checkEnum(schema, s, path)
		}
		return nil
	}
}

func checkEnum(schema map[string]interface{}, value string, path string) []string {
	allowed := enumValues(schema["enum"])
	if len(allowed) == 0 {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return []string{fmt.Sprintf("%s must be one of: %s", path, strings.Join(allowed, ", "))}
}

func enumValues(raw interface{}) []string {
	switch typed := raw.(type) {
	case []string:
		return typed
	case []interface{}:
		values := make([]string, 0, len(typed))
		for _, v := range typed {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		return values
	default:
		return nil
	}
}

func numberValue(raw interface{}) (float64, bool) {
	switch typed := raw.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
