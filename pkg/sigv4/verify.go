package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// Algorithm is the only signing algorithm this verifier accepts.
const Algorithm = "AWS4-HMAC-SHA256"

// ErrMalformed is returned when the Authorization header cannot be
// parsed into its required fields. ErrUnknownAccessKey and
// ErrSignatureMismatch are returned for the later verification steps.
// All three are authentication failures and must be reported to
// callers as a single undifferentiated 403 — the verifier never
// reveals which step failed.
var (
	ErrMalformed         = errors.New("sigv4: malformed authorization header")
	ErrUnknownAccessKey  = errors.New("sigv4: unknown access key")
	ErrSignatureMismatch = errors.New("sigv4: signature mismatch")
)

// Credential is the parsed Authorization header credential scope.
type Credential struct {
	AccessKey string
	DateStamp string
	Region    string
	Service   string
}

// ParsedHeader holds the fields extracted from an Authorization header
// before the caller looks up the corresponding secret key.
type ParsedHeader struct {
	Credential    Credential
	SignedHeaders string
	Signature     string
}

// ParseAuthorizationHeader parses the "AWS4-HMAC-SHA256 <k>=<v>, ..."
// header value into its Credential/SignedHeaders/Signature fields.
func ParseAuthorizationHeader(value string) (ParsedHeader, error) {
	if value == "" || !strings.HasPrefix(value, Algorithm) {
		return ParsedHeader{}, ErrMalformed
	}

	rest := strings.TrimSpace(strings.TrimPrefix(value, Algorithm))
	if rest == "" {
		return ParsedHeader{}, ErrMalformed
	}

	fields := map[string]string{}
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			return ParsedHeader{}, ErrMalformed
		}
		key := strings.TrimSpace(part[:idx])
		val := strings.TrimSpace(part[idx+1:])
		fields[key] = val
	}

	credentialValue, ok := fields["Credential"]
	if !ok {
		return ParsedHeader{}, ErrMalformed
	}
	signedHeaders, ok := fields["SignedHeaders"]
	if !ok {
		return ParsedHeader{}, ErrMalformed
	}
	signature, ok := fields["Signature"]
	if !ok {
		return ParsedHeader{}, ErrMalformed
	}

	credParts := strings.Split(credentialValue, "/")
	if len(credParts) != 5 || credParts[4] != "aws4_request" {
		return ParsedHeader{}, ErrMalformed
	}

	return ParsedHeader{
		Credential: Credential{
			AccessKey: credParts[0],
			DateStamp: credParts[1],
			Region:    credParts[2],
			Service:   credParts[3],
		},
		SignedHeaders: signedHeaders,
		Signature:     signature,
	}, nil
}

// SigningKey derives the final HMAC-SHA256 signing key through the
// standard four-step SigV4 chain.
func SigningKey(secretKey string, cred Credential) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), cred.DateStamp)
	kRegion := hmacSHA256(kDate, cred.Region)
	kService := hmacSHA256(kRegion, cred.Service)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// StringToSign builds the SigV4 string-to-sign given the timestamp
// (x-amz-date header value), credential scope, and the hex-encoded
// SHA-256 of the canonical request.
func StringToSign(timestamp string, cred Credential, canonicalRequestHash string) string {
	scope := strings.Join([]string{cred.DateStamp, cred.Region, cred.Service, "aws4_request"}, "/")
	return strings.Join([]string{Algorithm, timestamp, scope, canonicalRequestHash}, "\n")
}

// Sign computes the hex-encoded signature for a request given the
// already-built canonical request and the caller's secret key.
func Sign(secretKey, timestamp, canonicalReq string, cred Credential) string {
	hash := sha256.Sum256([]byte(canonicalReq))
	sts := StringToSign(timestamp, cred, hex.EncodeToString(hash[:]))
	signingKey := SigningKey(secretKey, cred)
	return hex.EncodeToString(hmacSHA256(signingKey, sts))
}

// SignRequest signs r in place: it sets the Authorization header using
// secretKey, cred, and signedHeaders (which must include every header
// Verify is expected to check, typically at least host,
// x-amz-content-sha256, and x-amz-date). r's x-amz-date and
// x-amz-content-sha256 headers must already be set before calling.
// This is the client-side counterpart to Verify.
func SignRequest(r *http.Request, secretKey string, cred Credential, signedHeaders []string) {
	signedHeadersStr := strings.Join(signedHeaders, ";")
	payloadHash := r.Header.Get("x-amz-content-sha256")
	cr := canonicalRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header, signedHeadersStr, payloadHash)
	sig := Sign(secretKey, r.Header.Get("x-amz-date"), cr, cred)

	r.Header.Set("Authorization", Algorithm+
		" Credential="+cred.AccessKey+"/"+cred.DateStamp+"/"+cred.Region+"/"+cred.Service+"/aws4_request"+
		", SignedHeaders="+signedHeadersStr+
		", Signature="+sig)
}

// SecretLookup resolves an access key to its secret key. It returns
// ok=false for an unknown access key.
type SecretLookup func(accessKey string) (secretKey string, ok bool)

// Verify authenticates r against lookup and, on success, returns the
// access key that signed the request. r.Body is not read or
// consumed — PayloadHash is taken verbatim from the
// x-amz-content-sha256 header, exactly as the client computed it.
func Verify(r *http.Request, lookup SecretLookup) (accessKey string, err error) {
	parsed, err := ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return "", err
	}

	secretKey, ok := lookup(parsed.Credential.AccessKey)
	if !ok {
		return "", ErrUnknownAccessKey
	}

	timestamp := r.Header.Get("x-amz-date")
	payloadHash := r.Header.Get("x-amz-content-sha256")

	canonicalReq := canonicalRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header, parsed.SignedHeaders, payloadHash)
	expected := Sign(secretKey, timestamp, canonicalReq, parsed.Credential)

	if subtle.ConstantTimeCompare([]byte(expected), []byte(parsed.Signature)) != 1 {
		return "", ErrSignatureMismatch
	}

	return parsed.Credential.AccessKey, nil
}
