package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition. Contracts
// maps well-known roles (swap_router, staking, vote_escrow, yield_vault)
// to deployed addresses so adapters stay free of hard-coded constants.
type ChainDefinition struct {
	Type         string            `yaml:"type"`
	ChainID      int64             `yaml:"chain_id"`
	RPCURL       string            `yaml:"rpc_url"`
	NativeSymbol string            `yaml:"native_symbol"`
	Description  string            `yaml:"description"`
	Contracts    map[string]string `yaml:"contracts"`
}

// Contract returns the address registered under the given role.
func (d ChainDefinition) Contract(role string) (string, bool) {
	addr, ok := d.Contracts[role]
	if !ok || strings.TrimSpace(addr) == "" {
		return "", false
	}
	return addr, true
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
