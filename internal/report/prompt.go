package report

import (
	"encoding/json"
	"strings"

	"github.com/kalambet/persona/internal/analysis"
	"github.com/kalambet/persona/internal/storage"
)

const systemPrompt = "You are an expert personality analyst. Generate detailed, insightful reports based on " +
	"the provided template and user data. Be professional, empathetic, and constructive in your analysis."

const closingInstruction = "\nBased on the template and available data, please generate a comprehensive analysis report. " +
	"If some data is missing, note this in the report but proceed with the available information."

// Subject is one person as seen by the prompt: a display name and the
// media records whose analysis succeeded.
type Subject struct {
	Name  string
	Media []storage.Media
}

// ComposePrompt renders the user message for a report. secondary may be nil.
func ComposePrompt(template string, primary Subject, secondary *Subject, selfObserved string) string {
	var sb strings.Builder
	sb.WriteString("Template for analysis:\n")
	sb.WriteString(template)
	sb.WriteString("\n\n")

	writeSubject(&sb, "PRIMARY USER", "primary user", primary)

	if selfObserved != "" {
		sb.WriteString("Self-observed differences: ")
		sb.WriteString(selfObserved)
		sb.WriteString("\n")
	}

	if secondary != nil {
		sb.WriteString("\n")
		writeSubject(&sb, "SECONDARY USER", "secondary user", *secondary)
	}

	sb.WriteString(closingInstruction)
	return sb.String()
}

func writeSubject(sb *strings.Builder, heading, role string, s Subject) {
	sb.WriteString(heading + ": " + s.Name + "\n")
	if len(s.Media) == 0 {
		sb.WriteString("Note: No media analysis available for " + role + ".\n")
		return
	}
	sb.WriteString("Available analysis data:\n")
	for _, m := range s.Media {
		sb.WriteString("- " + strings.ToUpper(string(m.Type)) + " analysis (" + m.Provider + "): ")
		sb.Write(promptPayload(m.Payload))
		sb.WriteString("\n")
	}
}

// promptPayload drops the raw provider document, which is kept on the record
// for diagnostics but only costs tokens here.
func promptPayload(stored []byte) []byte {
	var p analysis.Payload
	if err := json.Unmarshal(stored, &p); err != nil {
		return stored
	}
	if p.Voice != nil {
		p.Voice.Raw = nil
	}
	out, err := json.Marshal(p)
	if err != nil {
		return stored
	}
	return out
}
