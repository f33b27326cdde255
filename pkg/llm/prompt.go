package llm

import (
	"fmt"
	"strings"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// neighborSeparator divides context events inside the analysis prompt.
const neighborSeparator = "\n---\n"

// analysisSystemPrompt instructs the model to answer with the classification
// schema and nothing else.
const analysisSystemPrompt = `You are a Windows security analyst triaging event log records.
Classify the new event using the similar recent events as context.

Respond with a single JSON object and no other text:
{
  "risk": "low" | "medium" | "high" | "critical",
  "mitre": ["MITRE ATT&CK technique ids, e.g. T1078"],
  "confidence": 0-100,
  "summary": "one or two sentences, 10 to 500 characters",
  "recommended_actions": ["short imperative steps"]
}`

// strictSystemPrompt is the retry variant used after a malformed answer.
const strictSystemPrompt = analysisSystemPrompt + `

Your previous answer was not valid JSON. Output ONLY the JSON object.
No markdown fences, no commentary, no trailing text.`

// analysisUserPrompt renders the new event and its neighbours. Each event
// renders as "ISO-8601 [channel/eventId] message".
func analysisUserPrompt(event models.LogEvent, neighbors []models.LogEvent) string {
	var b strings.Builder

	b.WriteString("New event:\n")
	b.WriteString(event.SummaryText())
	if event.Host != "" {
		fmt.Fprintf(&b, "\nHost: %s", event.Host)
	}
	if event.User != "" {
		fmt.Fprintf(&b, "\nUser: %s", event.User)
	}

	if len(neighbors) == 0 {
		b.WriteString("\n\nNo similar recent events.")
		return b.String()
	}

	fmt.Fprintf(&b, "\n\nSimilar recent events (%d):\n", len(neighbors))
	b.WriteString(renderNeighbors(neighbors))
	return b.String()
}

func renderNeighbors(neighbors []models.LogEvent) string {
	lines := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		lines = append(lines, n.SummaryText())
	}
	return strings.Join(lines, neighborSeparator)
}
