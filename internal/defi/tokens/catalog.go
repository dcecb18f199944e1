package tokens

import (
	"fmt"
	"sort"
	"strings"

	xerrors "ChainPilot/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Token 描述目录中的一种代币。Native 表示链原生币，转账时
// 走 value 字段而不是 ERC-20 合约调用。
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	Aliases  []string
	Native   bool
}

// Catalog 按链名索引代币。同一条链上符号与别名共享一个命名空间，
// 注册冲突视为配置错误。
type Catalog struct {
	chains map[string]map[string]Token
}

// NewCatalog 创建空目录。
func NewCatalog() *Catalog {
	return &Catalog{chains: map[string]map[string]Token{}}
}

// Add 登记一种代币及其全部别名。
func (c *Catalog) Add(chain string, token Token) error {
	chain = normalize(chain)
	if chain == "" {
		return fmt.Errorf("链名不能为空")
	}
	if strings.TrimSpace(token.Symbol) == "" {
		return fmt.Errorf("代币符号不能为空")
	}

	entries, ok := c.chains[chain]
	if !ok {
		entries = map[string]Token{}
		c.chains[chain] = entries
	}

	keys := append([]string{token.Symbol}, token.Aliases...)
	for _, key := range keys {
		key = normalize(key)
		if key == "" {
			continue
		}
		if existing, ok := entries[key]; ok && existing.Symbol != token.Symbol {
			return fmt.Errorf("代币别名 %s 在链 %s 上已被 %s 占用", key, chain, existing.Symbol)
		}
	}
	for _, key := range keys {
		if key = normalize(key); key != "" {
			entries[key] = token
		}
	}
	return nil
}

// MustAdd 在注册冲突时 panic，仅用于静态默认目录。
func (c *Catalog) MustAdd(chain string, token Token) {
	if err := c.Add(chain, token); err != nil {
		panic(err)
	}
}

// Resolve 按符号或显式别名查找代币。找不到时返回 NOT_FOUND，
// 调用方应把它转换成面向用户的失败结果。
func (c *Catalog) Resolve(chain, symbol string) (Token, error) {
	entries, ok := c.chains[normalize(chain)]
	if !ok {
		return Token{}, xerrors.New(xerrors.CodeUnsupportedChain, fmt.Sprintf("链 %s 没有登记代币目录", chain))
	}
	token, ok := entries[normalize(symbol)]
	if !ok {
		return Token{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("链 %s 上没有登记代币 %s", chain, symbol))
	}
	return token, nil
}

// List 返回链上全部代币，按符号排序去重。
func (c *Catalog) List(chain string) []Token {
	entries, ok := c.chains[normalize(chain)]
	if !ok {
		return nil
	}
	seen := map[string]Token{}
	for _, token := range entries {
		seen[token.Symbol] = token
	}
	out := make([]Token, 0, len(seen))
	for _, token := range seen {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Native 返回链的原生币条目。
func (c *Catalog) Native(chain string) (Token, error) {
	entries, ok := c.chains[normalize(chain)]
	if !ok {
		return Token{}, xerrors.New(xerrors.CodeUnsupportedChain, fmt.Sprintf("链 %s 没有登记代币目录", chain))
	}
	for _, token := range entries {
		if token.Native {
			return token, nil
		}
	}
	return Token{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("链 %s 没有登记原生币", chain))
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Default 返回内置目录。目前只覆盖 Sonic 主网上代理常用的代币，
// 其余代币通过配置目录补充。
func Default() *Catalog {
	c := NewCatalog()
	c.MustAdd("sonic", Token{Symbol: "S", Decimals: 18, Native: true, Aliases: []string{"sonic"}})
	c.MustAdd("sonic", Token{
		Symbol:   "wS",
		Address:  common.HexToAddress("0x039e2fB66102314Ce7b64Ce5Ce3E5183bc94aD38"),
		Decimals: 18,
		Aliases:  []string{"wrapped sonic"},
	})
	c.MustAdd("sonic", Token{
		Symbol:   "stS",
		Address:  common.HexToAddress("0xE5DA20F15420aD15DE0fa650600aFc998bbE3955"),
		Decimals: 18,
		Aliases:  []string{"staked sonic", "beets sts"},
	})
	c.MustAdd("sonic", Token{
		Symbol:   "USDC",
		Address:  common.HexToAddress("0x29219dd400f2Bf60E5a23d13Be72B486D4038894"),
		Decimals: 6,
		Aliases:  []string{"usdc.e", "usd coin"},
	})
	c.MustAdd("sonic", Token{
		Symbol:   "WETH",
		Address:  common.HexToAddress("0x50c42dEAcD8Fc9773493ED674b675bE577f2634b"),
		Decimals: 18,
		Aliases:  []string{"eth", "ether"},
	})
	c.MustAdd("sonic", Token{
		Symbol:   "BEETS",
		Address:  common.HexToAddress("0x2D0E0814E62D80056181F5cd932274405966e4f0"),
		Decimals: 18,
	})
	return c
}
