package expressions

import "strings"

// Interpolate replaces {{path}} tokens in template with the string form of
// the value found at path in tree. Tokens whose path is missing or null are
// left verbatim so a broken message never goes out with blank sections. An
// unclosed {{ is copied through unchanged.
func Interpolate(template string, tree map[string]any) string {
	if !strings.Contains(template, "{{") {
		return template
	}

	var result strings.Builder
	result.Grow(len(template))

	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "{{")
		if idx == -1 {
			result.WriteString(template[i:])
			break
		}
		result.WriteString(template[i : i+idx])
		start := i + idx + 2

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			result.WriteString(template[i+idx:])
			break
		}
		end += start

		token := template[i+idx : end+2]
		val := Resolve(tree, template[start:end])
		if IsUndefined(val) || val == nil {
			result.WriteString(token)
		} else {
			result.WriteString(Stringify(val))
		}
		i = end + 2
	}

	return result.String()
}

// Placeholders returns the paths referenced by {{...}} tokens in template,
// in order of appearance.
func Placeholders(template string) []string {
	var paths []string
	rest := template
	for {
		idx := strings.Index(rest, "{{")
		if idx == -1 {
			return paths
		}
		rest = rest[idx+2:]
		end := strings.Index(rest, "}}")
		if end == -1 {
			return paths
		}
		if p := strings.TrimSpace(rest[:end]); p != "" {
			paths = append(paths, p)
		}
		rest = rest[end+2:]
	}
}
