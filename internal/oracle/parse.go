package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxSelectedFiles bounds a file selection.
const MaxSelectedFiles = 5

// NoChangeSentinel is a placeholder some models emit instead of content.
const NoChangeSentinel = "NO_CHANGE"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Selection is the structured answer to a file selection request.
type Selection struct {
	Files      []string `json:"files" validate:"required,min=1,max=5,dive,required"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Rationale  string   `json:"rationale" validate:"required"`
}

// FileUpdate replaces one file's full content.
type FileUpdate struct {
	Path    string  `json:"path" validate:"required"`
	Content *string `json:"content" validate:"required"`
}

// PatchSet is the structured answer to a synthesis request.
type PatchSet struct {
	Updates    []FileUpdate `json:"updates" validate:"required,dive"`
	Summary    string       `json:"summary"`
	Confidence *float64     `json:"confidence" validate:"omitempty,gte=0,lte=1"`
}

// ExtractJSON strips code fences and returns the first JSON object in text.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		var kept []string
		for _, ln := range strings.Split(text, "\n") {
			if !strings.HasPrefix(strings.TrimSpace(ln), "```") {
				kept = append(kept, ln)
			}
		}
		text = strings.TrimSpace(strings.Join(kept, "\n"))
	}
	start := strings.Index(text, "{")
	if start < 0 {
		return text
	}
	if end := matchingBrace(text, start); end > 0 {
		return text[start : end+1]
	}
	if end := strings.LastIndex(text, "}"); end > start {
		return text[start : end+1]
	}
	return text
}

// matchingBrace finds the brace closing the object at start, honoring JSON strings.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseSelection decodes and validates a selection response.
func ParseSelection(raw string) (*Selection, error) {
	var sel Selection
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &sel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&sel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &sel, nil
}

// ParseUpdates decodes and validates a synthesis response, including each file's content.
func ParseUpdates(raw string) (*PatchSet, error) {
	var ps PatchSet
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &ps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(&ps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, u := range ps.Updates {
		if err := CheckContent(*u.Content); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, u.Path, err)
		}
	}
	return &ps, nil
}

// CheckContent rejects content wrapped in markdown fences or replaced by a sentinel.
func CheckContent(content string) error {
	if strings.Contains(content, "```") {
		return fmt.Errorf("content contains a code fence")
	}
	lines := strings.SplitN(content, "\n", 4)
	if len(lines) > 3 {
		lines = lines[:3]
	}
	for _, ln := range lines {
		if strings.Contains(ln, NoChangeSentinel) {
			return fmt.Errorf("content starts with %s sentinel", NoChangeSentinel)
		}
	}
	return nil
}
