package execution

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/troneras/workflow-orchestrator/pkg/models"
)

const chunkPreviewRunes = 50

// Summarize renders a one-line human description of a stream event.
func Summarize(event *models.StreamEvent) string {
	data := event.Payload()

	switch event.Type.Kind {
	case models.EventWorkflowStarted:
		return "Workflow execution started"
	case models.EventNodeStarted:
		return "Started: " + stringOr(data, "title", "Unknown node")
	case models.EventNodeFinished:
		return "Finished: " + stringOr(data, "title", "Unknown node") + " (" + stringOr(data, "status", "unknown") + ")"
	case models.EventWorkflowFinished:
		return "Workflow completed: " + stringOr(data, "status", "unknown")
	case models.EventTextChunk:
		text := stringOr(data, "text", "")
		if utf8.RuneCountInString(text) > chunkPreviewRunes {
			return "Output: " + string([]rune(text)[:chunkPreviewRunes]) + "..."
		}

		return "Output: " + text
	default:
		return humanize(event.Type.String())
	}
}

func stringOr(data map[string]any, key, fallback string) string {
	if value, ok := data[key].(string); ok {
		return value
	}

	return fallback
}

// humanize turns "iteration_started" into "Iteration started".
func humanize(name string) string {
	name = strings.ReplaceAll(name, "_", " ")

	first, size := utf8.DecodeRuneInString(name)
	if first == utf8.RuneError {
		return name
	}

	return string(unicode.ToUpper(first)) + name[size:]
}
