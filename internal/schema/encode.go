package schema

import (
	"regexp"
	"strconv"
	"strings"
)

// Encoded is the compact text form of a Description handed to the
// translation engine.
type Encoded string

func (e Encoded) String() string {
	return string(e)
}

const indentWidth = 2

var bareKeyPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_.$-]*$`)

// Encode serializes the description as indented key/value text. Scalar
// arrays are written inline as "key[N]: a,b", arrays of flat objects that
// share one key set become a "key[N]{f1,f2}:" header followed by one row per
// object, and any other array falls back to "- " list items. Output depends
// only on the input tree.
func Encode(desc Description) Encoded {
	var lines []string
	root := desc.Root()
	switch root.Kind {
	case KindMapping:
		lines = encodeFields(root.Fields, 0)
	case KindSequence:
		lines = encodeSequence("", root.Items, 0)
	default:
		lines = []string{formatScalar(root)}
	}
	return Encoded(strings.Join(lines, "\n"))
}

func encodeFields(fields []Field, indent int) []string {
	var lines []string
	for _, field := range fields {
		lines = append(lines, encodeField(formatKey(field.Key), field.Value, indent)...)
	}
	return lines
}

func encodeField(key string, value Node, indent int) []string {
	pad := strings.Repeat(" ", indent)
	switch value.Kind {
	case KindMapping:
		lines := []string{pad + key + ":"}
		return append(lines, encodeFields(value.Fields, indent+indentWidth)...)
	case KindSequence:
		return encodeSequence(key, value.Items, indent)
	default:
		return []string{pad + key + ": " + formatScalar(value)}
	}
}

func encodeSequence(key string, items []Node, indent int) []string {
	pad := strings.Repeat(" ", indent)
	header := key + "[" + strconv.Itoa(len(items)) + "]"

	if len(items) == 0 {
		return []string{pad + header + ":"}
	}

	if allScalars(items) {
		values := make([]string, 0, len(items))
		for _, item := range items {
			values = append(values, formatScalar(item))
		}
		return []string{pad + header + ": " + strings.Join(values, ",")}
	}

	if columns, ok := tabularColumns(items); ok {
		keys := make([]string, 0, len(columns))
		for _, column := range columns {
			keys = append(keys, formatKey(column))
		}
		lines := []string{pad + header + "{" + strings.Join(keys, ",") + "}:"}
		rowPad := strings.Repeat(" ", indent+indentWidth)
		for _, item := range items {
			values := make([]string, 0, len(columns))
			for _, column := range columns {
				cell, _ := item.Lookup(column)
				values = append(values, formatScalar(cell))
			}
			lines = append(lines, rowPad+strings.Join(values, ","))
		}
		return lines
	}

	lines := []string{pad + header + ":"}
	for _, item := range items {
		lines = append(lines, encodeListItem(item, indent+indentWidth)...)
	}
	return lines
}

// encodeListItem writes one "- " entry. Nested content is laid out two
// columns past the dash so it lines up with the first inline field.
func encodeListItem(item Node, indent int) []string {
	pad := strings.Repeat(" ", indent)
	var body []string
	switch item.Kind {
	case KindScalar:
		return []string{pad + "- " + formatScalar(item)}
	case KindMapping:
		if len(item.Fields) == 0 {
			return []string{pad + "-"}
		}
		body = encodeFields(item.Fields, indent+indentWidth)
	case KindSequence:
		body = encodeSequence("", item.Items, indent+indentWidth)
	}
	body[0] = pad + "- " + strings.TrimLeft(body[0], " ")
	return body
}

func allScalars(items []Node) bool {
	for _, item := range items {
		if item.Kind != KindScalar {
			return false
		}
	}
	return true
}

// tabularColumns reports the shared key set when every item is a flat
// object with identical keys in identical order.
func tabularColumns(items []Node) ([]string, bool) {
	first := items[0]
	if first.Kind != KindMapping || len(first.Fields) == 0 {
		return nil, false
	}
	columns := make([]string, 0, len(first.Fields))
	for _, field := range first.Fields {
		if field.Value.Kind != KindScalar {
			return nil, false
		}
		columns = append(columns, field.Key)
	}
	for _, item := range items[1:] {
		if item.Kind != KindMapping || len(item.Fields) != len(columns) {
			return nil, false
		}
		for i, field := range item.Fields {
			if field.Key != columns[i] || field.Value.Kind != KindScalar {
				return nil, false
			}
		}
	}
	return columns, true
}

func formatKey(key string) string {
	if bareKeyPattern.MatchString(key) {
		return key
	}
	return strconv.Quote(key)
}

func formatScalar(n Node) string {
	switch n.Type {
	case ScalarNumber, ScalarBool, ScalarNull:
		return n.Value
	}
	if needsQuotes(n.Value) {
		return strconv.Quote(n.Value)
	}
	return n.Value
}

func needsQuotes(value string) bool {
	if value == "" || strings.TrimSpace(value) != value {
		return true
	}
	switch value {
	case "true", "false", "null":
		return true
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return true
	}
	if strings.ContainsAny(value, ",:\"\\\n\r\t[]{}#") {
		return true
	}
	return strings.HasPrefix(value, "- ") || value == "-"
}
