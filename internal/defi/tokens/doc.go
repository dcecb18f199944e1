// Package tokens 维护按链划分的代币目录。符号解析只接受目录里
// 显式登记的别名，绝不做模糊匹配，避免把用户资金发往猜出来的地址。
package tokens
