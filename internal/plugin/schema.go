package plugin

import (
	"fmt"
	"math"
)

// FieldType enumerates the value types a schema field may declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeBoolean FieldType = "boolean"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// SchemaField declares one config key: its type, whether it is required,
// an optional default, and an optional closed value set. Secret fields are
// never echoed in validation errors.
type SchemaField struct {
	Type       FieldType
	Required   bool
	Default    any
	Enum       []string
	Secret     bool
	Properties map[string]SchemaField // nested fields for TypeObject
}

// Schema is an adapter's declared configuration shape.
type Schema struct {
	Fields map[string]SchemaField
}

// ConfigurationError reports a config failure for one plugin. The message
// names the plugin and the failing path but never the offending value,
// which may be a secret.
type ConfigurationError struct {
	Plugin string
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("plugin %q: invalid configuration: %s", e.Plugin, e.Reason)
	}
	return fmt.Sprintf("plugin %q: invalid configuration at %q: %s", e.Plugin, e.Path, e.Reason)
}

// Defaults collects every declared default, nested objects included.
func (s Schema) Defaults() map[string]any {
	return collectDefaults(s.Fields)
}

func collectDefaults(fields map[string]SchemaField) map[string]any {
	out := map[string]any{}
	for key, f := range fields {
		if f.Default != nil {
			out[key] = f.Default
		}
		if f.Type == TypeObject && len(f.Properties) > 0 {
			nested := collectDefaults(f.Properties)
			if len(nested) > 0 {
				if existing, ok := out[key].(map[string]any); ok {
					for k, v := range nested {
						if _, taken := existing[k]; !taken {
							existing[k] = v
						}
					}
				} else {
					out[key] = nested
				}
			}
		}
	}
	return out
}

// Validate checks cfg against the schema. Unknown keys are allowed (the
// adapter may carry extras); missing required keys, type mismatches, and
// enum violations fail with a ConfigurationError naming the plugin and path.
func (s Schema) Validate(pluginName string, cfg map[string]any) error {
	return validateFields(pluginName, "", s.Fields, cfg)
}

func validateFields(pluginName, prefix string, fields map[string]SchemaField, cfg map[string]any) error {
	for key, f := range fields {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		val, present := cfg[key]
		if !present || val == nil {
			if f.Required {
				return &ConfigurationError{Plugin: pluginName, Path: path, Reason: "required key is missing"}
			}
			continue
		}
		if err := checkType(pluginName, path, f, val); err != nil {
			return err
		}
		if f.Type == TypeObject && len(f.Properties) > 0 {
			nested, _ := val.(map[string]any)
			if err := validateFields(pluginName, path, f.Properties, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkType(pluginName, path string, f SchemaField, val any) error {
	fail := func(reason string) error {
		return &ConfigurationError{Plugin: pluginName, Path: path, Reason: reason}
	}
	switch f.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return fail("expected a string")
		}
		if len(f.Enum) > 0 && !containsString(f.Enum, s) {
			return fail("value is not one of the allowed options")
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fail("expected a boolean")
		}
	case TypeNumber:
		if _, ok := asFloat(val); !ok {
			return fail("expected a number")
		}
	case TypeInteger:
		n, ok := asFloat(val)
		if !ok || n != math.Trunc(n) {
			return fail("expected an integer")
		}
	case TypeArray:
		if _, ok := val.([]any); !ok {
			return fail("expected an array")
		}
	case TypeObject:
		if _, ok := val.(map[string]any); !ok {
			return fail("expected an object")
		}
	default:
		return fail(fmt.Sprintf("unknown schema type %q", f.Type))
	}
	return nil
}

func asFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
