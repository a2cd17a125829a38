package web3

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainTypeEVM 是目前唯一支持的链类型。
const ChainTypeEVM = "evm"

// ChainDefinitions 对应 configs/chains.yaml，键为执行路由使用的链名称。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition 描述一条结算链的 RPC 端点。
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	ChainID     uint64 `yaml:"chain_id"`
	Description string `yaml:"description"`
}

// Names 返回排序后的链名称。
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadChainDefinitions 读取链配置文件，路径为空时返回空集合。
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

// ParseChainDefinitions 解析 YAML，链名称统一为小写，类型缺省为 evm。
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var raw ChainDefinitions
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	defs := ChainDefinitions{Chains: make(map[string]ChainDefinition, len(raw.Chains))}
	for name, def := range raw.Chains {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return ChainDefinitions{}, errors.New("链配置中存在空名称")
		}
		if _, dup := defs.Chains[key]; dup {
			return ChainDefinitions{}, fmt.Errorf("链 %s 重复定义", key)
		}
		def.Type = strings.ToLower(strings.TrimSpace(def.Type))
		if def.Type == "" {
			def.Type = ChainTypeEVM
		}
		if def.Type != ChainTypeEVM {
			return ChainDefinitions{}, fmt.Errorf("链 %s 使用了不支持的类型 %s", key, def.Type)
		}
		def.RPCURL = strings.TrimSpace(def.RPCURL)
		if def.RPCURL == "" {
			return ChainDefinitions{}, fmt.Errorf("链 %s 未配置 rpc_url", key)
		}
		defs.Chains[key] = def
	}
	return defs, nil
}
