package gateway

// Provider identifies a payment gateway
type Provider string

const (
	ProviderECPay   Provider = "ecpay"
	ProviderLinePay Provider = "linepay"
)

// Outcome is the common taxonomy provider return codes collapse into
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomePendingRetry Outcome = "pending-retry"
	OutcomeFail         Outcome = "fail"
)

// ecpayReturnCodes maps ECPay RtnCode values onto the common taxonomy.
// RtnCode 1 is the only settlement success; a handful of codes mean the
// trade is still in flight and the provider will notify again.
var ecpayReturnCodes = map[string]Outcome{
	"1":        OutcomeSuccess,
	"2":        OutcomePendingRetry, // trade processing
	"800":      OutcomePendingRetry, // ATM virtual account issued, awaiting transfer
	"10100073": OutcomePendingRetry, // awaiting payment confirmation
	"0":        OutcomeFail,
	"10100058": OutcomeFail, // payment failed
	"10100252": OutcomeFail, // card authorization declined
	"10200047": OutcomeFail, // trade cancelled
	"10200095": OutcomeFail, // trade failed
}

// linePayReturnCodes maps LINE Pay returnCode values onto the common taxonomy
var linePayReturnCodes = map[string]Outcome{
	"0000": OutcomeSuccess,
	"1198": OutcomePendingRetry, // duplicated request, still processing
	"1104": OutcomeFail,         // merchant not found
	"1105": OutcomeFail,         // merchant cannot use LINE Pay
	"1106": OutcomeFail,         // header error
	"1124": OutcomeFail,         // amount error
	"1141": OutcomeFail,         // payment account status error
	"1142": OutcomeFail,         // insufficient balance
	"1150": OutcomeFail,         // transaction not found
	"1152": OutcomeFail,         // transaction already processed
	"1172": OutcomeFail,         // order id already exists
	"1284": OutcomeFail,         // payment temporarily blocked
	"9000": OutcomeFail,         // provider internal error
}

// Normalize collapses a provider-specific return code into the common
// outcome taxonomy. Unknown codes are failures: a settlement signal we do
// not recognize must never be trusted as success.
func Normalize(provider Provider, code string) Outcome {
	var table map[string]Outcome

	switch provider {
	case ProviderECPay:
		table = ecpayReturnCodes
	case ProviderLinePay:
		table = linePayReturnCodes
	default:
		return OutcomeFail
	}

	if outcome, ok := table[code]; ok {
		return outcome
	}

	return OutcomeFail
}
