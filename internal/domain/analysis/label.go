package analysis

import "strings"

// ClassifyLabel maps the scoring service's free-form label onto Label.
func ClassifyLabel(raw string) Label {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "real":
		return LabelReal
	case "ai", "ai_generated":
		return LabelAIGenerated
	default:
		return LabelUncertain
	}
}

// ParseLabel reads a stored label back; unknown values become Uncertain.
func ParseLabel(s string) Label {
	switch Label(strings.ToUpper(strings.TrimSpace(s))) {
	case LabelReal:
		return LabelReal
	case LabelAIGenerated:
		return LabelAIGenerated
	default:
		return LabelUncertain
	}
}
