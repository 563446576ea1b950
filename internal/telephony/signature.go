package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// ErrInvalidSignature is returned for callbacks that fail verification.
var ErrInvalidSignature = errors.New("telephony: invalid request signature")

// SignatureVerifier checks that a callback came from the provider.
type SignatureVerifier interface {
	Verify(fullURL string, params url.Values, signature string) error
}

// HMACVerifier validates Twilio request signatures.
type HMACVerifier struct {
	AuthToken string
}

// Verify implements SignatureVerifier.
func (v HMACVerifier) Verify(fullURL string, params url.Values, signature string) error {
	if signature == "" || v.AuthToken == "" {
		return ErrInvalidSignature
	}
	want := ComputeSignature(v.AuthToken, fullURL, params)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ComputeSignature returns base64(HMAC-SHA1(token, url + sorted params)).
func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
