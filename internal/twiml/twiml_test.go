package twiml

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		doc  *Response
		want string
	}{
		{
			name: "gather with redirect",
			doc: New(
				SpeechGather("https://x.test/voice/calls/turn?surveyId=s1", "en-US",
					&Play{URL: "https://x.test/audio/a.mp3"},
				),
				&Redirect{Method: "POST", URL: "https://x.test/voice/calls/turn?surveyId=s1"},
			),
			want: `<Response>` +
				`<Gather input="speech" action="https://x.test/voice/calls/turn?surveyId=s1" method="POST" speechTimeout="auto" language="en-US">` +
				`<Play>https://x.test/audio/a.mp3</Play>` +
				`</Gather>` +
				`<Redirect method="POST">https://x.test/voice/calls/turn?surveyId=s1</Redirect>` +
				`</Response>`,
		},
		{
			name: "say then hangup",
			doc:  New(&Say{Voice: "Polly.Joanna", Language: "en-US", Text: "Thanks & goodbye <3"}, &Hangup{}),
			want: `<Response>` +
				`<Say voice="Polly.Joanna" language="en-US">Thanks &amp; goodbye &lt;3</Say>` +
				`<Hangup></Hangup>` +
				`</Response>`,
		},
		{
			name: "empty",
			doc:  New(),
			want: `<Response></Response>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.doc.Render()
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			got := string(out)
			if !strings.HasPrefix(got, `<?xml version="1.0" encoding="UTF-8"?>`) {
				t.Errorf("missing XML declaration: %s", got)
			}
			if body := strings.TrimSpace(strings.TrimPrefix(got, `<?xml version="1.0" encoding="UTF-8"?>`)); body != tt.want {
				t.Errorf("got  %s\nwant %s", body, tt.want)
			}
		})
	}
}
