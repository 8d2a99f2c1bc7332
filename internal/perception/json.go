package perception

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// CleanJSONResponse strips markdown code fences LLMs wrap around JSON.
func CleanJSONResponse(resp string) string {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	return strings.TrimSpace(resp)
}

// DecodeJSON cleans fences and unmarshals into v. A schema mismatch is an
// ordinary error callers may skip past; malformed UTF-8 is unrecoverable
// and reported distinctly.
func DecodeJSON(resp string, v interface{}) error {
	if !utf8.ValidString(resp) {
		return fmt.Errorf("LLM response contains invalid UTF-8")
	}
	cleaned := CleanJSONResponse(resp)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("failed to parse LLM JSON: %w", err)
	}
	return nil
}
