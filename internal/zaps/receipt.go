// Package zaps decodes NIP-57 zap receipts (kind 9735) into structured
// payment records.
package zaps

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// KindZapReceipt is the Nostr event kind for zap receipts
const KindZapReceipt = 9735

// AnonymousPayer is the sentinel payer identity used when the embedded zap
// request carries no signer.
const AnonymousPayer = "anonymous"

// Receipt contains the decoded zap information. Immutable once decoded.
type Receipt struct {
	ID         string // Receipt event id
	TargetID   string // Event id or addressable coordinate being zapped
	AmountMsat int64  // Amount in millisatoshis
	Payer      string // Pubkey of the zap request signer, or AnonymousPayer
	Message    string // Optional comment from the zap request
	CreatedAt  int64  // Unix seconds
}

// DecodeError indicates a malformed zap receipt. It is always non-fatal:
// callers log it and skip the single event.
type DecodeError struct {
	EventID string
	Reason  string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("zap receipt %s: %s: %v", e.EventID, e.Reason, e.Err)
	}
	return fmt.Sprintf("zap receipt %s: %s", e.EventID, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(event *nostr.Event, reason string, err error) *DecodeError {
	return &DecodeError{EventID: event.ID, Reason: reason, Err: err}
}

// zapRequest is the embedded kind 9734 payment request carried in the
// receipt's description tag.
type zapRequest struct {
	Pubkey  string `json:"pubkey"`
	Content string `json:"content"`
}

// DecodeReceipt extracts zap information from a kind 9735 receipt event.
// A *DecodeError return means the event is undecodable and must be skipped,
// not counted and not retried.
func DecodeReceipt(event *nostr.Event) (*Receipt, error) {
	if event.Kind != KindZapReceipt {
		return nil, decodeErr(event, fmt.Sprintf("expected kind %d, got %d", KindZapReceipt, event.Kind), nil)
	}

	var description, bolt11, targetEvent, targetAddr string
	for _, tag := range event.Tags {
		if len(tag) < 2 {
			continue
		}

		switch tag[0] {
		case "e":
			targetEvent = tag[1]
		case "a":
			targetAddr = tag[1]
		case "description":
			description = tag[1]
		case "bolt11":
			bolt11 = tag[1]
		}
	}

	// The description tag carries the original signed zap request (kind 9734)
	if description == "" {
		return nil, decodeErr(event, "missing description tag", nil)
	}

	var request zapRequest
	if err := json.Unmarshal([]byte(description), &request); err != nil {
		return nil, decodeErr(event, "unparsable zap request", err)
	}

	if bolt11 == "" {
		return nil, decodeErr(event, "missing bolt11 invoice", nil)
	}

	amountMsat, err := parseInvoiceAmountMsat(bolt11)
	if err != nil {
		return nil, decodeErr(event, "unparsable invoice amount", err)
	}

	// Event zaps take precedence over addressable zaps when both tags exist
	targetID := targetEvent
	if targetID == "" {
		targetID = targetAddr
	}
	if targetID == "" {
		return nil, decodeErr(event, "no zap target", nil)
	}

	payer := request.Pubkey
	if payer == "" {
		payer = AnonymousPayer
	}

	return &Receipt{
		ID:         event.ID,
		TargetID:   targetID,
		AmountMsat: amountMsat,
		Payer:      payer,
		Message:    request.Content,
		CreatedAt:  int64(event.CreatedAt),
	}, nil
}

var invoiceAmountRegex = regexp.MustCompile(`^lnbc(\d+)([munp]?)`)

// parseInvoiceAmountMsat extracts the amount in millisatoshis from a bolt11
// invoice. Format: lnbc{amount}{multiplier}... where the multiplier scales
// the amount in bitcoin: m (milli), u (micro), n (nano), p (pico).
func parseInvoiceAmountMsat(invoice string) (int64, error) {
	matches := invoiceAmountRegex.FindStringSubmatch(invoice)
	if len(matches) < 2 {
		return 0, fmt.Errorf("could not parse invoice amount")
	}

	amount, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, err
	}

	multiplier := ""
	if len(matches) >= 3 {
		multiplier = matches[2]
	}

	switch multiplier {
	case "m": // millibitcoin = 100,000 sats
		return amount * 100_000_000, nil
	case "u": // microbitcoin = 100 sats
		return amount * 100_000, nil
	case "n": // nanobitcoin = 0.1 sats
		return amount * 100, nil
	case "p": // picobitcoin = 0.1 msat, rounds down
		return amount / 10, nil
	default: // no multiplier = whole bitcoin
		return amount * 100_000_000_000, nil
	}
}

// FormatSats formats a millisatoshi amount for display
func FormatSats(msat int64) string {
	sats := msat / 1000

	if sats == 0 {
		return "0 sats"
	}

	if sats < 1000 {
		return fmt.Sprintf("%d sats", sats)
	}

	if sats < 1000000 {
		return fmt.Sprintf("%.1fK sats", float64(sats)/1000)
	}

	return fmt.Sprintf("%.2fM sats", float64(sats)/1000000)
}
