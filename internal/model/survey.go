// Package model defines data structures for the voice survey engine.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// QuestionType is the answer shape a survey question expects.
type QuestionType string

const (
	QuestionText           QuestionType = "text"
	QuestionSingleChoice   QuestionType = "single_choice"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionRating         QuestionType = "rating"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionText, QuestionSingleChoice, QuestionMultipleChoice, QuestionRating:
		return true
	}
	return false
}

// Question is one survey question.
type Question struct {
	Prompt  string       `json:"prompt" yaml:"prompt"`
	Type    QuestionType `json:"type" yaml:"type"`
	Choices []string     `json:"choices,omitempty" yaml:"choices,omitempty"`
	Min     *int         `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *int         `json:"max,omitempty" yaml:"max,omitempty"`
}

// SurveyDefinition is the survey a call is conducting. It is never mutated
// while a call is in flight; ConversationState holds its own snapshot.
type SurveyDefinition struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Validate checks a definition loaded from an external repository.
func (s *SurveyDefinition) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("survey id is required")
	}
	if len(s.Questions) == 0 {
		return errors.New("survey must have at least one question")
	}
	for i, q := range s.Questions {
		if strings.TrimSpace(q.Prompt) == "" {
			return fmt.Errorf("question %d: prompt is required", i)
		}
		if q.Type == "" {
			continue
		}
		if !q.Type.Valid() {
			return fmt.Errorf("question %d: unknown type %q", i, q.Type)
		}
		if (q.Type == QuestionSingleChoice || q.Type == QuestionMultipleChoice) && len(q.Choices) == 0 {
			return fmt.Errorf("question %d: choices are required for %s", i, q.Type)
		}
		if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
			return fmt.Errorf("question %d: min exceeds max", i)
		}
	}
	return nil
}

// Topic returns the title, or the id when no title is set.
func (s *SurveyDefinition) Topic() string {
	if t := strings.TrimSpace(s.Title); t != "" {
		return t
	}
	return s.ID
}

// QuestionTexts returns the prompts in survey order.
func (s *SurveyDefinition) QuestionTexts() []string {
	texts := make([]string, len(s.Questions))
	for i, q := range s.Questions {
		texts[i] = q.Prompt
	}
	return texts
}

// Clone returns a deep copy.
func (s *SurveyDefinition) Clone() *SurveyDefinition {
	if s == nil {
		return nil
	}
	out := &SurveyDefinition{
		ID:        s.ID,
		Title:     s.Title,
		Questions: make([]Question, len(s.Questions)),
	}
	for i, q := range s.Questions {
		cp := q
		if q.Choices != nil {
			cp.Choices = append([]string(nil), q.Choices...)
		}
		if q.Min != nil {
			v := *q.Min
			cp.Min = &v
		}
		if q.Max != nil {
			v := *q.Max
			cp.Max = &v
		}
		out.Questions[i] = cp
	}
	return out
}
