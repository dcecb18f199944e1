package web3

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABIJSON = `[
  {"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ABI = MustParseABI(erc20ABIJSON)

// MustParseABI parses an ABI definition at package init time and panics on
// malformed JSON. Only use it with compile-time constants.
func MustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("解析 ABI 失败: %v", err))
	}
	return parsed
}

// ERC20Approve builds the calldata granting spender the given allowance.
func ERC20Approve(token, spender common.Address, amount *big.Int) Call {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		panic(fmt.Sprintf("编码 approve 调用失败: %v", err))
	}
	return Call{To: token, Data: data}
}

// ERC20Transfer builds the calldata moving amount tokens to the recipient.
func ERC20Transfer(token, to common.Address, amount *big.Int) Call {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		panic(fmt.Sprintf("编码 transfer 调用失败: %v", err))
	}
	return Call{To: token, Data: data}
}

// ERC20BalanceOf builds the read call querying the owner balance.
func ERC20BalanceOf(token, owner common.Address) Call {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		panic(fmt.Sprintf("编码 balanceOf 调用失败: %v", err))
	}
	return Call{To: token, Data: data}
}

// ERC20Allowance builds the read call querying the spender allowance.
func ERC20Allowance(token, owner, spender common.Address) Call {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		panic(fmt.Sprintf("编码 allowance 调用失败: %v", err))
	}
	return Call{To: token, Data: data}
}

// UnpackUint256 decodes a single uint256 return value.
func UnpackUint256(raw []byte) (*big.Int, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("合约返回了空数据")
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("解码 uint256 返回值失败: %w", err)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("返回值类型不是 uint256")
	}
	return value, nil
}
