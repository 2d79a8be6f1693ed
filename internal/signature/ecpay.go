package signature

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Algorithm selects the ECPay check-value digest. New merchant setups use
// SHA-256 (EncryptType=1); MD5 remains for legacy profiles.
type Algorithm int

const (
	SHA256 Algorithm = iota
	MD5
)

// ECPaySigner computes and verifies ECPay CheckMacValue digests. The provider
// recomputes the exact same canonical string server-side and compares the
// digest, so every byte of the transformation matters.
type ECPaySigner struct {
	hashKey string
	hashIV  string
	algo    Algorithm
}

// NewECPaySigner creates a signer from the merchant's shared secret material.
// Missing secrets are a configuration error, not a per-request failure.
func NewECPaySigner(hashKey, hashIV string, algo Algorithm) (*ECPaySigner, error) {
	if hashKey == "" || hashIV == "" {
		return nil, fmt.Errorf("ecpay signer: hash key and hash IV are required")
	}

	return &ECPaySigner{
		hashKey: hashKey,
		hashIV:  hashIV,
		algo:    algo,
	}, nil
}

// BuildCanonicalString sorts params by key, joins them as key=value pairs,
// frames them with HashKey/HashIV, percent-encodes the whole string and
// lower-cases it.
func (s *ECPaySigner) BuildCanonicalString(params map[string]string) string {
	keys := make([]string, 0, len(params))

	for k := range params {
		if k == "CheckMacValue" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(s.hashKey)

	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}

	b.WriteString("&HashIV=")
	b.WriteString(s.hashIV)

	return strings.ToLower(urlEncode(b.String()))
}

// CheckMacValue signs the parameter set, returning the uppercase hex digest
// ECPay expects in the CheckMacValue field.
func (s *ECPaySigner) CheckMacValue(params map[string]string) string {
	canonical := s.BuildCanonicalString(params)

	var digest []byte

	switch s.algo {
	case MD5:
		sum := md5.Sum([]byte(canonical))
		digest = sum[:]
	default:
		sum := sha256.Sum256([]byte(canonical))
		digest = sum[:]
	}

	return strings.ToUpper(hex.EncodeToString(digest))
}

// Verify recomputes the check value over a callback payload and compares it
// against the CheckMacValue field the provider sent. The comparison is
// constant-time; a forged settlement notification must not leak anything.
func (s *ECPaySigner) Verify(params map[string]string) bool {
	received, ok := params["CheckMacValue"]

	if !ok || received == "" {
		return false
	}

	expected := s.CheckMacValue(params)

	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(received)), []byte(expected)) == 1
}

// urlEncode applies the .NET-flavoured percent-encoding ECPay specifies:
// spaces become '+' and the characters - _ . ! * ( ) stay literal.
func urlEncode(raw string) string {
	encoded := url.QueryEscape(raw)

	replacer := strings.NewReplacer(
		"%21", "!",
		"%28", "(",
		"%29", ")",
		"%2A", "*",
	)

	return replacer.Replace(encoded)
}
