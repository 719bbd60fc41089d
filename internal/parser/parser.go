// Package parser turns raw model completions into typed loop decisions.
// Models wrap JSON in prose and code fences and emit near-JSON often enough
// that a repair pass is part of the contract, not a nicety.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/inquest-ai/orchestrator/internal/metrics"
	"github.com/inquest-ai/orchestrator/internal/models"
)

// DecisionKind discriminates the parsed intent of a model response.
type DecisionKind string

const (
	// DecisionToolCall asks the loop to execute a tool and continue.
	DecisionToolCall DecisionKind = "tool_call"
	// DecisionFinal carries the final answer; the loop moves to synthesis.
	DecisionFinal DecisionKind = "final_answer"
	// DecisionNone is a parseable response that neither acts nor finalizes.
	// The loop re-prompts with a synthetic observation instead of crashing.
	DecisionNone DecisionKind = "none"
)

// Decision is the typed outcome of parsing one model completion.
type Decision struct {
	Kind       DecisionKind
	Thought    string
	Tool       string
	ToolInput  map[string]interface{}
	Answer     string
	Confidence float64
	Citations  []models.Citation
}

// ParseError reports that a completion could not be decoded even after the
// repair pass. The raw text is kept for the re-prompt and for audit logs.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable model output: %s", e.Reason)
}

// DefaultConfidence is assumed when a final decision omits its confidence.
const DefaultConfidence = 0.5

type wireAction struct {
	Tool  string                 `json:"tool"`
	Input map[string]interface{} `json:"input"`
}

type wireCitation struct {
	Source  string `json:"source"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type wireFinal struct {
	Answer     string         `json:"answer"`
	Confidence *float64       `json:"confidence"`
	Citations  []wireCitation `json:"citations"`
}

type wireDecision struct {
	Type        string      `json:"type"`
	Thought     string      `json:"thought"`
	Action      *wireAction `json:"action"`
	FinalAnswer *wireFinal  `json:"finalAnswer"`
}

// Parse decodes raw model output into a Decision. It extracts the first
// balanced {...} span, attempts a strict decode, and on failure runs one
// repair pass before giving up with a *ParseError. Parsing is pure: the same
// input always yields the same Decision or the same error.
func Parse(raw string) (*Decision, error) {
	span, ok := extractJSON(raw)
	if !ok {
		return nil, &ParseError{Raw: raw, Reason: "no JSON object found"}
	}

	var wire wireDecision
	if err := json.Unmarshal([]byte(span), &wire); err != nil {
		repaired, repairErr := repair(span)
		if repairErr != nil {
			return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("decode: %v; repair: %v", err, repairErr)}
		}
		if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
			return nil, &ParseError{Raw: raw, Reason: fmt.Sprintf("decode after repair: %v", err)}
		}
		metrics.ParseRepairs.Inc()
	}

	return fromWire(wire)
}

func fromWire(wire wireDecision) (*Decision, error) {
	switch wire.Type {
	case "final_answer":
		d := &Decision{
			Kind:       DecisionFinal,
			Thought:    wire.Thought,
			Confidence: DefaultConfidence,
			Citations:  []models.Citation{},
		}
		if wire.FinalAnswer != nil {
			d.Answer = wire.FinalAnswer.Answer
			if wire.FinalAnswer.Confidence != nil {
				d.Confidence = *wire.FinalAnswer.Confidence
			}
			for _, c := range wire.FinalAnswer.Citations {
				d.Citations = append(d.Citations, models.Citation{
					Source:  c.Source,
					URL:     c.URL,
					Snippet: c.Snippet,
				})
			}
		}
		return d, nil

	case "tool_call":
		if wire.Action == nil || wire.Action.Tool == "" {
			// A tool_call with no action is not an error: the loop feeds back
			// a synthetic observation and asks the model to act or finalize.
			return &Decision{Kind: DecisionNone, Thought: wire.Thought}, nil
		}
		return &Decision{
			Kind:      DecisionToolCall,
			Thought:   wire.Thought,
			Tool:      wire.Action.Tool,
			ToolInput: wire.Action.Input,
		}, nil

	default:
		return &Decision{Kind: DecisionNone, Thought: wire.Thought}, nil
	}
}

// extractJSON returns the first balanced top-level {...} span in text,
// skipping over string literals and escapes so braces inside values do not
// unbalance the scan.
func extractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	// Unbalanced: hand the tail to the repair pass.
	return text[start:], true
}

// repair applies the lenient pass: strip code-fence markers, trim to the
// outermost brace pair, drop trailing commas, then let jsonrepair fix the
// rest (unquoted keys, single quotes, truncation).
func repair(span string) (string, error) {
	s := stripFences(span)
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if j := strings.LastIndexByte(s, '}'); j > i {
			s = s[i : j+1]
		}
	}
	s = removeTrailingCommas(s)
	return jsonrepair.JSONRepair(s)
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line (```json).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// removeTrailingCommas deletes commas that directly precede a closing bracket
// or brace, outside of string literals.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case ',':
			if !inString {
				j := i + 1
				for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
					j++
				}
				if j < len(s) && (s[j] == '}' || s[j] == ']') {
					continue
				}
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
