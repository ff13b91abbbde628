// Package gateway defines the port to the mobile-money payment provider: push
// prompt initiation, status queries, and the mapping from provider result
// codes to card-network decline vocabulary.
//
// Everything downstream of this package speaks decline codes, never raw
// provider codes. MapResult is total: any code it has never seen maps to a
// system-malfunction decline rather than leaking upstream.
package gateway

import (
	"context"

	"github.com/okwareddevnest/Pesa-Bridge/internal/idgen"
)

// Decline codes in card-network vocabulary.
const (
	DeclineDoNotHonor        = "05" // holder cancelled or provider refused
	DeclineInvalidCard       = "14" // unknown or expired card
	DeclineInactiveAccount   = "15" // cardholder or card not active
	DeclineLimitExceeded     = "51" // insufficient funds / limit breach
	DeclineSystemMalfunction = "96" // provider or internal fault
)

// Provider result codes.
const (
	// ResultSuccess means the holder approved and payment completed.
	ResultSuccess = "0"
	// ResultPending is the sentinel returned by status queries while the
	// holder has not yet acted on the prompt. It is not a terminal result.
	ResultPending = "500.001.1001"
)

// PushResult is the synchronous acknowledgement of a push initiation. Accepted
// means the provider queued the prompt, not that the holder approved.
type PushResult struct {
	Accepted          bool
	MerchantRequestID string
	CheckoutRequestID string
	Description       string
	Error             string
}

// StatusResult is the provider's answer to a status query.
type StatusResult struct {
	ResultCode        string
	ResultDescription string
}

// CallbackPayload is the asynchronous result delivered by the provider once
// the holder acts (or the prompt times out on the provider side).
type CallbackPayload struct {
	MerchantRequestID string  `json:"merchantRequestId"`
	CheckoutRequestID string  `json:"checkoutRequestId" binding:"required"`
	ResultCode        string  `json:"resultCode"`
	ResultDescription string  `json:"resultDescription"`
	Amount            float64 `json:"amount,omitempty"`
	ReceiptID         string  `json:"receiptId,omitempty"`
	Phone             string  `json:"phone,omitempty"`
}

// Port is the outbound interface to the payment provider.
type Port interface {
	// InitiatePush asks the provider to display a payment prompt on the
	// holder's phone. A nil error with Accepted=false means the provider
	// answered and refused; a non-nil error means we could not reach it.
	InitiatePush(ctx context.Context, phone string, amount float64, reference, description string) (*PushResult, error)

	// QueryStatus polls the provider for the outcome of an earlier push.
	QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error)
}

// Decision is a provider result translated into authorization terms.
type Decision struct {
	Approved          bool
	AuthorizationCode string
	DeclineCode       string
	DeclineReason     string
}

// resultDeclines maps known non-success provider codes to decline vocabulary.
var resultDeclines = map[string]Decision{
	"1":    {DeclineCode: DeclineLimitExceeded, DeclineReason: "insufficient funds"},
	"17":   {DeclineCode: DeclineDoNotHonor, DeclineReason: "cancelled by user"},
	"26":   {DeclineCode: DeclineSystemMalfunction, DeclineReason: "system busy"},
	"1001": {DeclineCode: DeclineDoNotHonor, DeclineReason: "another transaction in progress"},
	"1019": {DeclineCode: DeclineSystemMalfunction, DeclineReason: "transaction expired at provider"},
	"1025": {DeclineCode: DeclineSystemMalfunction, DeclineReason: "push delivery error"},
	"1032": {DeclineCode: DeclineDoNotHonor, DeclineReason: "request cancelled by user"},
	"1037": {DeclineCode: DeclineSystemMalfunction, DeclineReason: "holder unreachable"},
	"2001": {DeclineCode: DeclineDoNotHonor, DeclineReason: "wrong PIN"},
}

// MapResult translates a terminal provider result code into an authorization
// decision. Success mints a fresh authorization code. Unknown codes decline
// as system malfunction with the provider's description preserved.
func MapResult(resultCode, resultDescription string) Decision {
	if resultCode == ResultSuccess {
		return Decision{Approved: true, AuthorizationCode: idgen.AuthCode()}
	}
	if d, ok := resultDeclines[resultCode]; ok {
		return d
	}
	reason := resultDescription
	if reason == "" {
		reason = "unrecognized provider result " + resultCode
	}
	return Decision{DeclineCode: DeclineSystemMalfunction, DeclineReason: reason}
}
