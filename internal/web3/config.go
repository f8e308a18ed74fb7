package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition together with
// the launchpad contracts deployed on it.
type ChainDefinition struct {
	Type        string         `yaml:"type"`
	ChainID     int64          `yaml:"chain_id"`
	RPCURL      string         `yaml:"rpc_url"`
	WSURL       string         `yaml:"ws_url"`
	Description string         `yaml:"description"`
	Contracts   ChainContracts `yaml:"contracts"`
}

// ChainContracts lists contract addresses used on a chain.
type ChainContracts struct {
	Launchpad      string `yaml:"launchpad"`
	RevenueManager string `yaml:"revenue_manager"`
	ManagerFactory string `yaml:"manager_factory"`
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
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes YAML chain definitions.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}
