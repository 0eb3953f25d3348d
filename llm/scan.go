package llm

import "strings"

// maxScanDepth bounds the structural walk so adversarial payloads cannot
// recurse without limit.
const maxScanDepth = 40

// textFieldNames are the JSON keys providers commonly store answer text
// under, in priority order.
var textFieldNames = []string{"text", "content", "delta", "output_text", "value"}

// ScanText walks an arbitrary decoded JSON value and collects the first text
// it can find under well-known field names. This is the best-effort fallback
// for payload shapes the adapter does not recognise; it returns "" when
// nothing plausible is present.
func ScanText(raw map[string]any) string {
	var b strings.Builder
	scanValue(raw, 0, &b)
	return b.String()
}

func scanValue(val any, depth int, b *strings.Builder) {
	if depth > maxScanDepth {
		return
	}
	switch v := val.(type) {
	case map[string]any:
		for _, name := range textFieldNames {
			if s, ok := v[name].(string); ok && s != "" {
				b.WriteString(s)
				return
			}
		}
		for _, name := range textFieldNames {
			if nested, ok := v[name]; ok {
				scanValue(nested, depth+1, b)
				if b.Len() > 0 {
					return
				}
			}
		}
		for _, nested := range v {
			switch nested.(type) {
			case map[string]any, []any:
				scanValue(nested, depth+1, b)
				if b.Len() > 0 {
					return
				}
			}
		}
	case []any:
		for _, item := range v {
			scanValue(item, depth+1, b)
		}
	case string:
		b.WriteString(v)
	}
}
