package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"ALiFe-Chain/internal/config"
	"ALiFe-Chain/internal/web3"
	"ALiFe-Chain/internal/web3/ethereum"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Client
	definitions  map[string]web3.ChainDefinition
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	if len(defs.Chains) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		defs.Chains["default"] = web3.ChainDefinition{
			Type:    "evm",
			ChainID: cfg.ChainID,
			RPCURL:  cfg.RPCURL,
		}
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	registry := &Registry{
		clients:     make(map[string]web3.Client),
		definitions: make(map[string]web3.ChainDefinition),
	}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:    name,
				RPCURL:  chain.RPCURL,
				ChainID: chain.ChainID,
				Notes:   chain.Description,
			})
			if err != nil {
				registry.Close()
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			registry.clients[name] = client
			registry.definitions[name] = chain
		default:
			registry.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	if len(registry.clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = registry.Chains()[0]
	}
	if _, ok := registry.clients[defaultChain]; !ok {
		registry.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	registry.defaultChain = defaultChain
	return registry, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// DefaultDefinition returns the YAML definition of the default chain.
func (r *Registry) DefaultDefinition() web3.ChainDefinition {
	if r == nil {
		return web3.ChainDefinition{}
	}
	return r.definitions[r.defaultChain]
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// ClientByChainID finds the client whose definition declares chainID.
func (r *Registry) ClientByChainID(chainID int64) (web3.Client, bool) {
	if r == nil {
		return nil, false
	}
	for name, def := range r.definitions {
		if def.ChainID == chainID {
			return r.clients[name], true
		}
	}
	return nil, false
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
