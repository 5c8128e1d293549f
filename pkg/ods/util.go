package ods

import "strings"

// snakeToCamel converts snake_case names to camelCase. Caller-facing
// identifiers accept snake_case, but the ODS query surface is camelCase.
func snakeToCamel(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	if len(words) == 0 {
		return name
	}

	var b strings.Builder
	b.WriteString(words[0])
	for _, word := range words[1:] {
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}

// titleCase upper-cases the first letter. Composite collection URLs use
// TitleCased names.
func titleCase(name string) string {
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// urlJoin joins URL components, dropping empties and trailing slashes.
func urlJoin(parts ...string) string {
	trimmed := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimRight(part, "/")
		if part != "" {
			trimmed = append(trimmed, part)
		}
	}
	return strings.Join(trimmed, "/")
}
