// Package twiml renders voice-response documents for the telephony carrier.
package twiml

import (
	"encoding/xml"
	"fmt"
)

// ContentType is the media type carriers expect for TwiML.
const ContentType = "application/xml"

// Response is the root <Response> element.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks text with the carrier's built-in voice.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Play plays hosted audio.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

// Gather collects caller speech and posts it to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr,omitempty"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Language      string   `xml:"language,attr,omitempty"`
	Verbs         []any
}

// Redirect sends the carrier to another URL.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// New creates a response with the given verbs.
func New(verbs ...any) *Response {
	return &Response{Verbs: verbs}
}

// Render encodes the document with an XML declaration.
func (r *Response) Render() ([]byte, error) {
	out, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// SpeechGather gathers one speech utterance, posting to action. A caller who
// says nothing falls through to the next verb after the Gather.
func SpeechGather(action, language string, prompt ...any) *Gather {
	return &Gather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		SpeechTimeout: "auto",
		Language:      language,
		Verbs:         prompt,
	}
}
