package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-survey/pkg/logger"
)

// TwilioSignatureHeader carries the carrier's request signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignature rejects webhook requests whose X-Twilio-Signature does not
// match the HMAC-SHA1 of the public request URL and sorted form parameters.
// An empty authToken disables verification.
func TwilioSignature(authToken, publicBaseURL string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if authToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "malformed form body", http.StatusBadRequest)
				return
			}

			got := r.Header.Get(TwilioSignatureHeader)
			want := SignTwilioRequest(authToken, requestURL(r, publicBaseURL), r.PostForm)
			if got == "" || !hmac.Equal([]byte(got), []byte(want)) {
				log.Warn("rejected unsigned webhook",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Bool("signature_present", got != ""),
				)
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SignTwilioRequest computes the signature the carrier sends for a request to
// fullURL with the given POST parameters.
func SignTwilioRequest(authToken, fullURL string, params map[string][]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// requestURL rebuilds the URL the carrier called. Behind a proxy the request
// host is not the public one, so the configured base URL wins when set.
func requestURL(r *http.Request, publicBaseURL string) string {
	if publicBaseURL != "" {
		return strings.TrimRight(publicBaseURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
