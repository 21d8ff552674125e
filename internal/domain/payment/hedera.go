package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/go-faster/errors"
)

// HandlerHederaHBAR is the handler id for non-custodial Hedera HBAR
// transfers. The client signs a transfer locally and submits it as the proof
// of payment; the merchant validates and forwards it to the network.
const HandlerHederaHBAR = "com.hedera.hbar"

// TransferRecord is the decoded form of a pre-signed ledger transfer proof.
// Amounts are minor units of the transfer currency; outgoing legs are
// negative, the merchant leg positive.
type TransferRecord struct {
	Network   string     `json:"network"`
	Memo      string     `json:"memo"`
	Currency  string     `json:"currency"`
	Transfers []Transfer `json:"transfers"`
}

// Transfer is a single leg of a TransferRecord.
type Transfer struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

// Submitter forwards a validated pre-signed transfer to the ledger network
// and returns the network transaction id. Implemented by an external
// collaborator; this package never talks to a network itself.
type Submitter interface {
	Submit(ctx context.Context, raw []byte) (txID string, err error)
}

var _ Verifier = (*TransferVerifier)(nil)

// TransferVerifier validates pre-signed ledger transfers against the
// merchant account and the session's expected total, then hands the raw
// transfer to a Submitter for settlement.
type TransferVerifier struct {
	merchantAccount string
	network         string
	submit          Submitter
}

// NewTransferVerifier creates a TransferVerifier for the given merchant
// account and network.
func NewTransferVerifier(merchantAccount, network string, submit Submitter) *TransferVerifier {
	return &TransferVerifier{
		merchantAccount: merchantAccount,
		network:         network,
		submit:          submit,
	}
}

// Verify decodes and validates the proof, then submits it.
func (v *TransferVerifier) Verify(ctx context.Context, _ Instrument, proof Proof, exp Expectation) error {
	raw, err := base64.StdEncoding.DecodeString(proof.Data)
	if err != nil {
		return errors.Wrap(err, "decode transfer")
	}

	var rec TransferRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return errors.Wrap(err, "parse transfer")
	}

	if rec.Network != v.network {
		return errors.Errorf("transfer targets network %q, want %q", rec.Network, v.network)
	}
	if rec.Memo != exp.SessionID {
		return errors.Errorf("transfer memo %q does not reference the checkout session", rec.Memo)
	}
	if rec.Currency != exp.Currency {
		return errors.Errorf("transfer currency %q, want %q", rec.Currency, exp.Currency)
	}

	var toMerchant int64
	found := false
	for _, t := range rec.Transfers {
		if t.Account == v.merchantAccount {
			toMerchant += t.Amount
			found = true
		}
	}
	if !found {
		return errors.Errorf("no transfer to merchant account %s", v.merchantAccount)
	}
	if toMerchant < exp.Amount {
		return errors.Errorf("insufficient amount: got %d, want %d", toMerchant, exp.Amount)
	}

	if _, err := v.submit.Submit(ctx, raw); err != nil {
		return errors.Wrap(err, "submit transfer")
	}
	return nil
}
