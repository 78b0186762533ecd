package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string, scopes ...string) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Scopes: scopes,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestAuth(t *testing.T) {
	var seenOperator string
	var seenScopes []string
	h := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenOperator = GetOperator(r.Context())
		seenScopes = GetScopes(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", "ops"), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, "ops", ScopeCallsRead), http.StatusOK},
		{"lowercase scheme", "bearer " + signToken(t, testSecret, "ops"), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if seenOperator != "ops" {
		t.Errorf("operator = %q", seenOperator)
	}
	if len(seenScopes) != 0 {
		t.Errorf("last request carried no scopes, got %v", seenScopes)
	}
}

func TestRequireScope(t *testing.T) {
	h := Auth(testSecret)(RequireScope(ScopeCallsWrite)(http.HandlerFunc(okHandler)))

	for _, tc := range []struct {
		scopes []string
		want   int
	}{
		{[]string{ScopeCallsRead}, http.StatusForbidden},
		{[]string{ScopeCallsRead, ScopeCallsWrite}, http.StatusOK},
		{nil, http.StatusForbidden},
	} {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/calls/c1", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "ops", tc.scopes...))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("scopes %v: status = %d, want %d", tc.scopes, rec.Code, tc.want)
		}
	}
}

func TestLoggingCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc-123" || rec.Header().Get(CorrelationIDHeader) != "abc-123" {
		t.Errorf("correlation id not propagated: ctx=%q header=%q", seen, rec.Header().Get(CorrelationIDHeader))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen == "" || seen == "abc-123" || rec.Header().Get(CorrelationIDHeader) != seen {
		t.Errorf("expected a generated correlation id, got ctx=%q header=%q", seen, rec.Header().Get(CorrelationIDHeader))
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(okHandler))

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/calls", nil))
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
}

func TestCarrierRateLimit(t *testing.T) {
	shed := 0
	h := CarrierRateLimit(1, time.Minute, func(w http.ResponseWriter, r *http.Request) {
		shed++
		w.WriteHeader(http.StatusOK)
	})(http.HandlerFunc(okHandler))

	post := func(callSid string) int {
		form := url.Values{}
		if callSid != "" {
			form.Set("CallSid", callSid)
		}
		req := httptest.NewRequest(http.MethodPost, "/voice/calls/turn", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "54.172.60.1:443"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Concurrent calls share the carrier's address but not a budget.
	post("CA1")
	post("CA2")
	if shed != 0 {
		t.Fatalf("distinct calls from one address were limited")
	}
	post("CA1")
	if shed != 1 {
		t.Fatalf("second request for CA1 should reach the limit handler, shed=%d", shed)
	}

	post("")
	post("")
	if shed != 2 {
		t.Fatalf("requests without a CallSid should fall back to the address, shed=%d", shed)
	}
}

func TestValidation(t *testing.T) {
	for _, id := range []string{"customer-sat", "s1", "Q4_2025"} {
		if err := ValidateSurveyID(id); err != nil {
			t.Errorf("survey %q: %v", id, err)
		}
	}
	for _, id := range []string{"", "../etc/passwd", "a b", strings.Repeat("x", 65)} {
		if err := ValidateSurveyID(id); err == nil {
			t.Errorf("survey %q should be rejected", id)
		}
	}

	if err := ValidateCallID("CA0123456789abcdef0123456789abcdef"); err != nil {
		t.Errorf("call sid: %v", err)
	}
	for _, id := range []string{"", "c/1", strings.Repeat("x", 129)} {
		if err := ValidateCallID(id); err == nil {
			t.Errorf("call %q should be rejected", id)
		}
	}

	if err := ValidateUtterance(""); err != nil {
		t.Errorf("silence must be valid: %v", err)
	}
	if err := ValidateUtterance("\xff\xfe"); err == nil {
		t.Error("invalid UTF-8 should be rejected")
	}
	if err := ValidateUtterance(strings.Repeat("a", MaxUtteranceLength+1)); err == nil {
		t.Error("oversized utterance should be rejected")
	}
}

func TestSignTwilioRequest(t *testing.T) {
	// Example from the carrier's webhook security documentation.
	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	got := SignTwilioRequest("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params)
	if got != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatalf("signature = %q", got)
	}
}

func TestTwilioSignature(t *testing.T) {
	const token = "auth-token"
	const base = "https://survey.example.com"
	h := TwilioSignature(token, base, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("CallSid") != "CA1" {
			t.Errorf("form not readable downstream")
		}
		w.WriteHeader(http.StatusOK)
	}))

	form := url.Values{"CallSid": {"CA1"}, "SpeechResult": {"ten"}}
	newReq := func(sig string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/voice/calls/turn?surveyId=s1", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(TwilioSignatureHeader, sig)
		}
		return req
	}

	valid := SignTwilioRequest(token, base+"/voice/calls/turn?surveyId=s1", form)
	tests := []struct {
		name string
		sig  string
		want int
	}{
		{"valid", valid, http.StatusOK},
		{"missing", "", http.StatusForbidden},
		{"tampered", SignTwilioRequest(token, base+"/voice/calls/turn?surveyId=s2", form), http.StatusForbidden},
		{"wrong token", SignTwilioRequest("other", base+"/voice/calls/turn?surveyId=s1", form), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, newReq(tt.sig))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	disabled := TwilioSignature("", base, logger.NewNop())(http.HandlerFunc(okHandler))
	rec := httptest.NewRecorder()
	disabled.ServeHTTP(rec, newReq(""))
	if rec.Code != http.StatusOK {
		t.Errorf("verification should be off without a token, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(okHandler)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff")
	}
}
