// Package config 负责加载并校验 ChainPilot 的启动配置。
// 配置主体来自 JSON 文件，密钥类字段只允许通过环境变量注入，
// 避免把私钥和 API Key 写进配置仓库。
package config
