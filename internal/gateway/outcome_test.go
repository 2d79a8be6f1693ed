package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeECPay(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Normalize(ProviderECPay, "1"))
	assert.Equal(t, OutcomePendingRetry, Normalize(ProviderECPay, "800"))
	assert.Equal(t, OutcomeFail, Normalize(ProviderECPay, "10100058"))
	assert.Equal(t, OutcomeFail, Normalize(ProviderECPay, "0"))
}

func TestNormalizeLinePay(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Normalize(ProviderLinePay, "0000"))
	assert.Equal(t, OutcomePendingRetry, Normalize(ProviderLinePay, "1198"))
	assert.Equal(t, OutcomeFail, Normalize(ProviderLinePay, "1142"))

	// "order id already exists" is a terminal rejection of this request,
	// not an in-flight trade; it must not leave the order waiting.
	assert.Equal(t, OutcomeFail, Normalize(ProviderLinePay, "1172"))
}

func TestNormalizeUnknownCodesFailClosed(t *testing.T) {
	// Unrecognized codes must never normalize to success.
	unknown := []string{"", "OK", "9999", "success", "00", "  1", "1 "}

	for _, code := range unknown {
		assert.Equal(t, OutcomeFail, Normalize(ProviderECPay, code), "ecpay code %q", code)
		assert.Equal(t, OutcomeFail, Normalize(ProviderLinePay, code), "linepay code %q", code)
	}

	assert.Equal(t, OutcomeFail, Normalize(Provider("stripe"), "1"))
}
