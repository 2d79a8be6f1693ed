package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// LinePaySigner produces the X-LINE-Authorization header value for LINE Pay
// v3 API calls. The signed message is channelSecret + uri + body + nonce,
// keyed with the channel secret, where body is the exact compact-serialized
// JSON that goes on the wire. Re-serializing the body (reordered keys,
// inserted whitespace) invalidates the signature.
type LinePaySigner struct {
	channelID     string
	channelSecret string
}

// NewLinePaySigner creates a signer from the channel credentials. Missing
// credentials are a configuration error, not a per-request failure.
func NewLinePaySigner(channelID, channelSecret string) (*LinePaySigner, error) {
	if channelID == "" || channelSecret == "" {
		return nil, fmt.Errorf("line pay signer: channel id and channel secret are required")
	}

	return &LinePaySigner{
		channelID:     channelID,
		channelSecret: channelSecret,
	}, nil
}

// ChannelID returns the channel identifier sent in X-LINE-ChannelId
func (s *LinePaySigner) ChannelID() string {
	return s.channelID
}

// Nonce returns a fresh single-use random value. Nonces are never reused.
func (s *LinePaySigner) Nonce() string {
	return uuid.NewString()
}

// Sign computes base64(HMAC-SHA256(secret, secret + uri + body + nonce))
func (s *LinePaySigner) Sign(uri, body, nonce string) string {
	mac := hmac.New(sha256.New, []byte(s.channelSecret))
	mac.Write([]byte(s.channelSecret + uri + body + nonce))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
