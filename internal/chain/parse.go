package chain

import (
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var (
	memoProgramV1 = solana.MustPublicKeyFromBase58("Memo1UhkJRfHyvLMcVucJwxXeuD728EqVDDwQDxFMNo")
	memoProgramV2 = solana.MustPublicKeyFromBase58("MemoSq4gqABAXKb96qnH8TysNcWxMyWCqXgDLGmfcHr")

	tokenProgram     = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	tokenProgram2022 = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// SPL token instruction tags carrying a transfer amount.
const (
	tokenInstructionTransfer        = 3
	tokenInstructionTransferChecked = 12
)

// extractMemo returns the first memo-program instruction payload. A memo is
// plain UTF-8 bytes; no further decoding applies.
func extractMemo(tx *solana.Transaction) (string, bool) {
	for _, inst := range tx.Message.Instructions {
		program, ok := programAt(&tx.Message, inst.ProgramIDIndex)
		if !ok {
			continue
		}
		if program.Equals(memoProgramV1) || program.Equals(memoProgramV2) {
			return string(inst.Data), true
		}
	}
	return "", false
}

// extractTransferAmounts decodes the amount field of every token-program
// Transfer/TransferChecked instruction in the transaction. Both encode the
// amount as a little-endian u64 immediately after the one-byte tag.
func extractTransferAmounts(tx *solana.Transaction) []uint64 {
	var amounts []uint64
	for _, inst := range tx.Message.Instructions {
		program, ok := programAt(&tx.Message, inst.ProgramIDIndex)
		if !ok {
			continue
		}
		if !program.Equals(tokenProgram) && !program.Equals(tokenProgram2022) {
			continue
		}
		data := []byte(inst.Data)
		if len(data) < 9 {
			continue
		}
		if data[0] != tokenInstructionTransfer && data[0] != tokenInstructionTransferChecked {
			continue
		}
		var amt uint64
		for i := 8; i >= 1; i-- {
			amt = amt<<8 | uint64(data[i])
		}
		amounts = append(amounts, amt)
	}
	return amounts
}

func programAt(msg *solana.Message, idx uint16) (solana.PublicKey, bool) {
	if int(idx) >= len(msg.AccountKeys) {
		return solana.PublicKey{}, false
	}
	return msg.AccountKeys[idx], true
}

// flattenTokenBalances normalizes RPC token balances to owner-attributed raw
// amounts. Entries without an owner or with an unparsable amount are dropped
// rather than guessed at.
func flattenTokenBalances(balances []rpc.TokenBalance) []TokenBalance {
	out := make([]TokenBalance, 0, len(balances))
	for _, tb := range balances {
		if tb.Owner == nil || tb.UiTokenAmount == nil {
			continue
		}
		amt, err := strconv.ParseUint(tb.UiTokenAmount.Amount, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, TokenBalance{
			Owner:  tb.Owner.String(),
			Mint:   tb.Mint.String(),
			Amount: amt,
		})
	}
	return out
}
