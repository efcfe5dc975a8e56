package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// responsePreviewLen bounds how much of a bad response lands in errors.
const responsePreviewLen = 500

// ExtractJSONArray pulls the first top-level JSON array out of model
// output, tolerating prose around it and minor syntax damage. Models
// asked for bare JSON still wrap it in commentary or markdown fences
// often enough that callers should never unmarshal raw output.
func ExtractJSONArray(text string) (string, error) {
	return extractJSON(text, "[", "]")
}

// ExtractJSONObject is ExtractJSONArray for a single object.
func ExtractJSONObject(text string) (string, error) {
	return extractJSON(text, "{", "}")
}

func extractJSON(text, opening, closing string) (string, error) {
	start := strings.Index(text, opening)
	end := strings.LastIndex(text, closing)
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON delimited by %s%s in response (%d chars): %q",
			opening, closing, len(text), preview(text))
	}
	raw := text[start : end+1]
	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return "", fmt.Errorf("malformed JSON in response: %w", err)
	}
	return repaired, nil
}

func preview(text string) string {
	if len(text) > responsePreviewLen {
		return text[:responsePreviewLen] + "... (truncated)"
	}
	return text
}
