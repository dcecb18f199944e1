package web3

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadChainDefinitions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chains.yaml")
	content := `
chains:
  sonic:
    type: evm
    chain_id: 146
    rpc_url: https://rpc.soniclabs.com
    native_symbol: S
    description: Sonic mainnet
    contracts:
      swap_router: "0x2222222222222222222222222222222222222222"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chain, ok := defs.Chains["sonic"]
	if !ok {
		t.Fatalf("sonic chain missing: %+v", defs)
	}
	if chain.ChainID != 146 || chain.RPCURL != "https://rpc.soniclabs.com" {
		t.Fatalf("unexpected definition: %+v", chain)
	}
	if addr, ok := chain.Contract("swap_router"); !ok || addr == "" {
		t.Fatalf("contract lookup failed: %+v", chain.Contracts)
	}
	if _, ok := chain.Contract("vote_escrow"); ok {
		t.Fatalf("missing role must not resolve")
	}
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v", defs)
	}
}
