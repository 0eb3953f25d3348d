package llm

import "testing"

func TestScanTextPriorityFields(t *testing.T) {
	raw := map[string]any{
		"value": "lowest priority",
		"text":  "highest priority",
	}
	if got := ScanText(raw); got != "highest priority" {
		t.Errorf("ScanText = %q", got)
	}
}

func TestScanTextNested(t *testing.T) {
	raw := map[string]any{
		"response": map[string]any{
			"output": []any{
				map[string]any{"content": "nested text"},
			},
		},
	}
	if got := ScanText(raw); got != "nested text" {
		t.Errorf("ScanText = %q", got)
	}
}

func TestScanTextNothingPlausible(t *testing.T) {
	raw := map[string]any{
		"status": 200,
		"usage":  map[string]any{"tokens": 12},
	}
	if got := ScanText(raw); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestScanTextDepthBound(t *testing.T) {
	// Build a chain deeper than maxScanDepth; the walk must stop without
	// finding the buried text.
	leaf := map[string]any{"text": "buried"}
	var cur any = leaf
	for i := 0; i < maxScanDepth+5; i++ {
		cur = map[string]any{"wrapper": cur}
	}
	if got := ScanText(cur.(map[string]any)); got != "" {
		t.Errorf("expected empty past depth bound, got %q", got)
	}
}

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{"delta", Event{Kind: EventDelta, Text: "chunk"}, "chunk"},
		{"completed", Event{Kind: EventCompleted, Text: "full"}, "full"},
		{"reasoning suppressed", Event{Kind: EventReasoning, Text: "thinking"}, ""},
		{"response id suppressed", Event{Kind: EventResponseID, Text: "resp_1"}, ""},
		{"unknown scans raw", Event{Kind: EventUnknown, Raw: map[string]any{"delta": "fallback"}}, "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractText(tc.ev); got != tc.want {
				t.Errorf("ExtractText = %q, want %q", got, tc.want)
			}
		})
	}
}
