package web3

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestERC20ApproveSelector(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	spender := common.HexToAddress("0x2222222222222222222222222222222222222222")

	call := ERC20Approve(token, spender, big.NewInt(1000))
	if call.To != token {
		t.Fatalf("unexpected target: %s", call.To)
	}
	selector, _ := hex.DecodeString("095ea7b3")
	if !bytes.HasPrefix(call.Data, selector) {
		t.Fatalf("unexpected selector: %x", call.Data[:4])
	}
}

func TestERC20BalanceOfRoundTrip(t *testing.T) {
	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	owner := common.HexToAddress("0x3333333333333333333333333333333333333333")

	call := ERC20BalanceOf(token, owner)
	selector, _ := hex.DecodeString("70a08231")
	if !bytes.HasPrefix(call.Data, selector) {
		t.Fatalf("unexpected selector: %x", call.Data[:4])
	}

	raw := common.LeftPadBytes(big.NewInt(123456).Bytes(), 32)
	value, err := UnpackUint256(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Int64() != 123456 {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestUnpackUint256Empty(t *testing.T) {
	if _, err := UnpackUint256(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}
