package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedAnswer means the assistant answer was not the JSON the
// adapter asked for.
var ErrMalformedAnswer = errors.New("malformed assistant answer")

// StripFences removes markdown code fences (``` and ```json) around an
// answer.
func StripFences(answer string) string {
	s := strings.ReplaceAll(answer, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// DecodeAnswer strips fences and decodes the answer into out.
func DecodeAnswer(answer string, out any) error {
	clean := StripFences(answer)
	if clean == "" {
		return fmt.Errorf("%w: empty", ErrMalformedAnswer)
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedAnswer, err)
	}
	return nil
}

// IsJSON reports whether the stripped answer is valid JSON.
func IsJSON(answer string) bool {
	clean := StripFences(answer)
	return clean != "" && json.Valid([]byte(clean))
}

// Decision is the analyzer's verdict on a job.
type Decision struct {
	Match  bool   `json:"match"`
	Reason string `json:"reason"`
}
