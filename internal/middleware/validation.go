package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"
)

// MaxUtteranceLength bounds a single transcribed caller utterance.
const MaxUtteranceLength = 4000

var (
	surveyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	callIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

// ValidateSurveyID validates a survey ID.
func ValidateSurveyID(id string) error {
	if id == "" {
		return errors.New("survey ID cannot be empty")
	}
	if !surveyIDPattern.MatchString(id) {
		return errors.New("invalid survey ID format")
	}
	return nil
}

// ValidateCallID validates a carrier call ID.
func ValidateCallID(id string) error {
	if id == "" {
		return errors.New("call ID cannot be empty")
	}
	if !callIDPattern.MatchString(id) {
		return errors.New("invalid call ID format")
	}
	return nil
}

// ValidateUtterance validates a transcribed caller utterance. Empty is valid
// and means the caller stayed silent.
func ValidateUtterance(text string) error {
	if len(text) > MaxUtteranceLength {
		return errors.New("utterance exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("utterance must be valid UTF-8")
	}
	return nil
}
