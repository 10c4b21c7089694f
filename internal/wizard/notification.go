package wizard

import (
	"context"
	"errors"

	"hybrid-swap/internal/swaperr"
)

// Notification is the single user-facing message describing a failure.
type Notification struct {
	Code           swaperr.Code `json:"code"`
	Kind           swaperr.Kind `json:"kind"`
	Message        string       `json:"message"`
	Retryable      bool         `json:"retryable"`
	Administrative bool         `json:"administrative"`
	// Background marks failures of work the user did not wait for.
	Background bool   `json:"background,omitempty"`
	Signature  string `json:"signature,omitempty"`
}

var messages = map[swaperr.Code]string{
	swaperr.InvalidIdentifier:        "That identifier is not a valid address.",
	swaperr.MissingSelection:         "Make a selection before continuing.",
	swaperr.InvalidTransition:        "That action is not available at this step.",
	swaperr.InvalidAmount:            "That amount is not valid for this token.",
	swaperr.Busy:                     "A swap is already in progress.",
	swaperr.SessionClosed:            "This session has ended. Start a new one.",
	swaperr.ConfigurationMismatch:    "The escrow for this collection is configured differently than requested. It cannot be used for this swap.",
	swaperr.InsufficientBalance:      "Your balance does not cover this swap.",
	swaperr.InsufficientVaultBalance: "The escrow vault cannot pay for this asset right now.",
	swaperr.AssetNotAvailable:        "That asset is no longer available. Pick another one.",
	swaperr.ConfigurationFetchFailed: "Could not load the escrow configuration. Try again.",
	swaperr.DiscoveryFailed:          "Could not load your holdings. Try again.",
	swaperr.InitializationFailed:     "Setting up the escrow failed. Try again.",
	swaperr.FundingFailed:            "Funding the escrow vault failed. Try again.",
	swaperr.SettlementFailed:         "The swap failed. Try again.",
	swaperr.ConfirmationTimedOut:     "The swap was submitted but not confirmed in time. Check its status before trying again.",
	swaperr.EscrowNotDelegated:       "The escrow has no authority over this collection. Contact the collection operator.",
	swaperr.AuthorityMismatch:        "Only the collection authority can set up this escrow. Contact the collection operator.",
}

// Describe maps an error to its notification. Errors outside the swap
// taxonomy are reported as retryable failures.
func Describe(err error) Notification {
	se, ok := swaperr.As(err)
	if !ok {
		n := Notification{
			Kind:      swaperr.Transient,
			Message:   "Something went wrong. Try again.",
			Retryable: true,
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			n.Message = "The request was interrupted. Try again."
		}
		return n
	}

	msg, ok := messages[se.Code]
	if !ok {
		msg = se.Message
	}
	return Notification{
		Code:           se.Code,
		Kind:           se.Kind,
		Message:        msg,
		Retryable:      se.Retryable(),
		Administrative: se.Kind == swaperr.Administrative,
		Signature:      se.Context["signature"],
	}
}
