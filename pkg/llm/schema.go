package llm

// allowedSchemaKeys is the restricted JSON-schema dialect accepted by the
// model providers for function declarations. Everything else a tool server
// reports (e.g., $schema, additionalProperties, examples) is dropped.
var allowedSchemaKeys = map[string]bool{
	"type":        true,
	"properties":  true,
	"required":    true,
	"description": true,
	"title":       true,
	"default":     true,
	"enum":        true,
	"items":       true,
	"minimum":     true,
	"maximum":     true,
}

// CleanSchema reduces a tool-server input schema to the restricted dialect.
// The transform recurses into "properties" values and "items" schemas,
// preserving their structure; it never mutates the input and is idempotent:
// CleanSchema(CleanSchema(x)) == CleanSchema(x).
func CleanSchema(schema map[string]any) map[string]any {
	cleaned := make(map[string]any, len(schema))
	for k, v := range schema {
		if !allowedSchemaKeys[k] {
			continue
		}
		switch k {
		case "properties":
			if props, ok := v.(map[string]any); ok {
				cleanedProps := make(map[string]any, len(props))
				for name, val := range props {
					if sub, ok := val.(map[string]any); ok {
						cleanedProps[name] = CleanSchema(sub)
					} else {
						cleanedProps[name] = val
					}
				}
				cleaned[k] = cleanedProps
				continue
			}
			cleaned[k] = v
		case "items":
			if sub, ok := v.(map[string]any); ok {
				cleaned[k] = CleanSchema(sub)
				continue
			}
			cleaned[k] = v
		default:
			cleaned[k] = v
		}
	}
	return cleaned
}
