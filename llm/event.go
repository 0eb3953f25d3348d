package llm

// EventKind discriminates the stream event union. Completion services emit
// heterogeneous shapes; each known kind has one extractor in ExtractText, and
// EventUnknown falls back to a best-effort shallow scan of the raw payload.
type EventKind string

const (
	// EventDelta carries an incremental text fragment.
	EventDelta EventKind = "delta"
	// EventItemText carries the full text of one output item.
	EventItemText EventKind = "item_text"
	// EventCompleted carries the complete final text payload.
	EventCompleted EventKind = "completed"
	// EventReasoning carries a fragment of a reasoning summary.
	EventReasoning EventKind = "reasoning"
	// EventResponseID announces the provider-assigned response identifier.
	EventResponseID EventKind = "response_id"
	// EventUnknown wraps a payload whose shape the provider adapter did not
	// recognise; Raw holds the decoded JSON object.
	EventUnknown EventKind = "unknown"
)

// Event is one element of a generation stream.
type Event struct {
	Kind       EventKind
	Text       string
	ResponseID string
	Reasoning  *ReasoningFragment
	Raw        map[string]any
}

// ReasoningFragment is a piece of a reasoning summary. Fragments sharing the
// same key reassemble into one snippet.
type ReasoningFragment struct {
	ItemID       string
	OutputIndex  int
	SummaryIndex int
	ContentIndex int
	Text         string
}

// Key identifies the snippet this fragment belongs to.
func (f *ReasoningFragment) Key() ReasoningKey {
	return ReasoningKey{
		ItemID:       f.ItemID,
		OutputIndex:  f.OutputIndex,
		SummaryIndex: f.SummaryIndex,
		ContentIndex: f.ContentIndex,
	}
}

// ReasoningKey orders and groups reasoning fragments.
type ReasoningKey struct {
	ItemID       string
	OutputIndex  int
	SummaryIndex int
	ContentIndex int
}

// ExtractText pulls answer text out of an event. Exactly one case per known
// kind; unknown events go through ScanText as a documented last resort.
func ExtractText(ev Event) string {
	switch ev.Kind {
	case EventDelta, EventItemText, EventCompleted:
		return ev.Text
	case EventReasoning, EventResponseID:
		return ""
	case EventUnknown:
		return ScanText(ev.Raw)
	default:
		return ""
	}
}
