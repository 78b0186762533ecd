// Package completion recognises the terminal answers payload and records it.
package completion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/capitalize-ai/voice-survey/internal/model"
)

// StatusComplete is the status value that marks a terminal payload.
const StatusComplete = "complete"

type payload struct {
	Status  *string                    `json:"status"`
	Answers map[string]json.RawMessage `json:"answers"`
}

// Detect reports whether raw is the terminal JSON signal and, if so, returns
// its answers. Anything that is not exactly the expected shape is treated as
// ordinary conversation. Detect is pure.
func Detect(raw string) (model.AnswerSet, bool) {
	body := stripFences(raw)
	if !strings.HasPrefix(body, "{") {
		return nil, false
	}

	var p payload
	if err := decodeStrict([]byte(body), &p); err != nil {
		return nil, false
	}
	if p.Status == nil || *p.Status != StatusComplete || len(p.Answers) == 0 {
		return nil, false
	}

	answers := make(model.AnswerSet, len(p.Answers))
	for key, value := range p.Answers {
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || strconv.Itoa(idx) != key {
			return nil, false
		}
		text, ok := answerText(value)
		if !ok {
			return nil, false
		}
		answers[key] = text
	}
	return answers, true
}

// stripFences removes a surrounding ``` or ```json code fence.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		tag := strings.TrimSpace(s[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

// answerText accepts scalars and flat arrays of scalars.
func answerText(raw json.RawMessage) (string, bool) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", false
	}

	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return "", false
		}
		parts := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := scalarText(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), true
	}
	return scalarText(v)
}

func scalarText(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
