// Package extractor pulls typed fields out of a raw answer payload.
//
// Payloads are decoded JSON and untrusted: any key may be missing or carry an
// unexpected type. Extraction never fails; absent values degrade to defaults.
package extractor

import "strings"

// NoAnswer is the answer text used when the payload carries none.
const NoAnswer = "No answer provided"

// Payload is a decoded question response from the bot service.
type Payload map[string]any

// Fields are the values a reviewer needs from a completed answer.
type Fields struct {
	AnswerText     string `json:"answer_text"`
	Interpretation string `json:"interpretation"`
	SQL            string `json:"sql"`
	Insights       string `json:"insights"`
}

// Extract resolves every field of a payload.
func Extract(p Payload) Fields {
	answer := firstAnswer(p)

	f := Fields{AnswerText: NoAnswer}
	if text, ok := answer["text"].(string); ok {
		f.AnswerText = text
	}
	if sql, ok := firstElem(answer["sqlQueries"]).(string); ok {
		f.SQL = sql
	}
	if q, ok := firstElem(answer["queries"]).(map[string]any); ok {
		if expl, ok := q["explanation"].(string); ok {
			f.Interpretation = expl
		}
	}
	f.Insights = insights(answer["insights"])
	return f
}

// AnswerText returns the first answer's text and whether it is non-empty.
func AnswerText(p Payload) (string, bool) {
	text, _ := firstAnswer(p)["text"].(string)
	return text, strings.TrimSpace(text) != ""
}

func firstAnswer(p Payload) map[string]any {
	answer, _ := firstElem(p["answers"]).(map[string]any)
	return answer
}

func firstElem(v any) any {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	return list[0]
}

// insights accepts a plain string, or a list whose elements are strings or
// objects with a text field. Anything else is empty.
func insights(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var parts []string
		for _, item := range val {
			switch it := item.(type) {
			case string:
				parts = append(parts, it)
			case map[string]any:
				if text, ok := it["text"].(string); ok {
					parts = append(parts, text)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
