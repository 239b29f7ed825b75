// Package collab implements the LLM-backed collaborators the engine can
// consult: assignment classification, new-line group proposal, merge
// tie-breaking, and canonical content synthesis. Every collaborator is
// advisory: malformed or missing answers are reported as errors and the
// engine's deterministic path proceeds.
package collab

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	collabTemperature = 0.1
	collabMaxTokens   = 2048
)

// parseJSON unmarshals an LLM answer after stripping markdown code fences,
// which some models wrap around JSON no matter what the prompt says.
func parseJSON(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)

	if strings.HasPrefix(cleaned, "```") {
		lines := strings.Split(cleaned, "\n")
		start, end := 0, len(lines)
		for i, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if start == 0 {
					start = i + 1
				} else {
					end = i
					break
				}
			}
		}
		if start > 0 && end > start {
			cleaned = strings.Join(lines[start:end], "\n")
		}
	}

	cleaned = strings.TrimSpace(cleaned)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("invalid JSON from collaborator: %w\nraw: %s", err, truncate(raw, 300))
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "…"
}
