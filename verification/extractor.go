// Package verification checks claimed USDC payments against on-chain
// transaction state and produces verdicts with typed rejection
// reasons. Negative outcomes are verdicts, not errors: an error means
// the chain could not be consulted, never that the payment is bad.
package verification

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Transfer is one qualifying inbound token transfer credited to the
// expected receiver.
type Transfer struct {
	// Amount is the credited value in token units.
	Amount decimal.Decimal

	// AccountIndex is the receiving token account's position in the
	// transaction's account list.
	AccountIndex uint16
}

// ExtractTransfer scans the pre/post token balance snapshots for the
// first entry that credited receiver with the given mint, returning
// the balance delta as the transferred amount. A missing pre-balance
// counts as zero: that is the shape of a token account created inside
// the same transaction. Ties between multiple qualifying entries
// resolve to the first found, a known simplification.
func ExtractTransfer(meta *rpc.TransactionMeta, mint, receiver solana.PublicKey) (Transfer, bool) {
	if meta == nil {
		return Transfer{}, false
	}

	for _, post := range meta.PostTokenBalances {
		if !post.Mint.Equals(mint) {
			continue
		}
		if post.Owner == nil || !post.Owner.Equals(receiver) {
			continue
		}
		postAmt, ok := tokenAmount(post.UiTokenAmount)
		if !ok {
			continue
		}

		preAmt := decimal.Zero
		for _, pre := range meta.PreTokenBalances {
			if pre.AccountIndex == post.AccountIndex && pre.Mint.Equals(mint) {
				if amt, ok := tokenAmount(pre.UiTokenAmount); ok {
					preAmt = amt
				}
				break
			}
		}

		delta := postAmt.Sub(preAmt)
		if delta.IsPositive() {
			return Transfer{Amount: delta, AccountIndex: post.AccountIndex}, true
		}
	}

	return Transfer{}, false
}

// tokenAmount converts a balance snapshot to token units from the raw
// integer amount, which stays exact where the ui float would not.
func tokenAmount(ui *rpc.UiTokenAmount) (decimal.Decimal, bool) {
	if ui == nil || ui.Amount == "" {
		return decimal.Decimal{}, false
	}
	raw, err := decimal.NewFromString(ui.Amount)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return raw.Shift(-int32(ui.Decimals)), true
}
