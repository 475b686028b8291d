package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bryanwahyu/realcheck/internal/domain/analysis"
)

// BuildPrompt renders the deterministic narrative prompt for a result.
// Score keys are sorted so identical results always yield identical prompts.
func BuildPrompt(r *analysis.Result) string {
	var b strings.Builder
	b.WriteString("Analyze the following AI face detection result and provide insights:\n\n")
	fmt.Fprintf(&b, "Detection Label: %s\n", r.Label)
	fmt.Fprintf(&b, "Confidence Score: %.2f%%\n", r.Confidence*100)
	fmt.Fprintf(&b, "Processing Time: %dms\n", r.ProcessingTimeMS)

	if len(r.Scores) > 0 {
		keys := make([]string, 0, len(r.Scores))
		for k := range r.Scores {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Detailed Scores:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %.2f%%\n", k, r.Scores[k]*100)
		}
	}

	b.WriteString("\nPlease provide:\n")
	b.WriteString("1. A brief explanation of what this result means\n")
	b.WriteString("2. Factors that might have influenced the detection\n")
	b.WriteString("3. Recommendations for users interpreting this result\n")
	b.WriteString("4. Any limitations or considerations\n")
	return b.String()
}
