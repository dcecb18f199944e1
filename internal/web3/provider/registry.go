package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ChainPilot/internal/config"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	definitions  map[string]web3.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
// All chains share the single wallet key configured for the process.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client)
	definitions := make(map[string]web3.ChainDefinition)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:      name,
				RPCURL:    chain.RPCURL,
				ChainID:   chain.ChainID,
				WalletKey: cfg.WalletKey,
				Notes:     chain.Description,
			})
			if err != nil {
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
			definitions[name] = chain
		default:
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}

	return &Registry{defaultChain: defaultChain, clients: clients, definitions: definitions}, nil
}

// NewStaticRegistry wires pre-built clients, used by tests and tools that
// bypass YAML configuration.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client, definitions map[string]web3.ChainDefinition) *Registry {
	if definitions == nil {
		definitions = map[string]web3.ChainDefinition{}
	}
	return &Registry{defaultChain: defaultChain, clients: clients, definitions: definitions}
}

// DefaultChain returns the name of the chain used when none is requested.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// ClientFor resolves the chain client for the given name, falling back to
// the default chain when name is empty.
func (r *Registry) ClientFor(name string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	if strings.TrimSpace(name) == "" {
		name = r.defaultChain
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeUnsupportedChain, fmt.Sprintf("不支持的链: %s", name))
	}
	return client, nil
}

// Definition returns the configuration block of the given chain.
func (r *Registry) Definition(name string) (web3.ChainDefinition, error) {
	if r == nil {
		return web3.ChainDefinition{}, errors.New("未初始化的链客户端注册表")
	}
	if strings.TrimSpace(name) == "" {
		name = r.defaultChain
	}
	def, ok := r.definitions[name]
	if !ok {
		return web3.ChainDefinition{}, xerrors.New(xerrors.CodeUnsupportedChain, fmt.Sprintf("不支持的链: %s", name))
	}
	return def, nil
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
