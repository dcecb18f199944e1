package tokens

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount 把人类可读的数量（如 "1.5"）换算成代币最小单位。
// 小数位超过代币精度、负数与非法数字都会被拒绝。
func ParseAmount(amount string, decimals int32) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("无法解析数量 %q: %w", amount, err)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("数量不能为负数: %s", amount)
	}
	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("数量 %s 超过了代币的 %d 位小数精度", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// ParsePositiveAmount 在 ParseAmount 的基础上额外要求数量大于零，
// 所有转账类操作都应使用它。
func ParsePositiveAmount(amount string, decimals int32) (*big.Int, error) {
	value, err := ParseAmount(amount, decimals)
	if err != nil {
		return nil, err
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("数量必须大于零: %s", amount)
	}
	return value, nil
}

// FormatAmount 把最小单位数量格式化为人类可读的十进制字符串。
func FormatAmount(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}
