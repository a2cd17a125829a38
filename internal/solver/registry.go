package solver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"ZK-Intent-Fusion/internal/auction"
)

const registrySchemaURL = "https://intent-fusion.local/schemas/solvers.schema.json"

const registrySchema = `{
  "type": "object",
  "required": ["solvers"],
  "properties": {
    "solvers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "pattern": "^0x[0-9A-Za-z]+$"},
          "name": {"type": "string"},
          "qualified": {"type": "boolean"},
          "claim_valid": {"type": "boolean"},
          "over_budget": {"enum": ["trim", "decline"]},
          "latency_ms": {"type": "integer", "minimum": 0},
          "plans": {
            "type": "object",
            "propertyNames": {"enum": ["yield_farm", "swap", "bridge", "liquidity_provision"]},
            "additionalProperties": {"$ref": "#/$defs/plan"}
          },
          "guess": {"$ref": "#/$defs/plan"}
        },
        "additionalProperties": false
      }
    }
  },
  "$defs": {
    "plan": {
      "type": "object",
      "required": ["protocol", "gas_usd"],
      "properties": {
        "protocol": {"type": "string", "minLength": 1},
        "route": {"type": "string"},
        "apy_bps10": {"type": "integer"},
        "gas_usd": {"type": "number", "minimum": 0},
        "duration_seconds": {"type": "integer", "minimum": 0},
        "steps": {"type": "array", "items": {"type": "string"}}
      },
      "additionalProperties": false
    }
  }
}`

type registryFile struct {
	Solvers []Profile `yaml:"solvers"`
}

// Registry 持有本进程内注册的求解者。
type Registry struct {
	agents []*Agent
}

// NewRegistry 根据 Profile 构造注册表。
func NewRegistry(profiles []Profile, prover Prover, now func() time.Time) (*Registry, error) {
	seen := make(map[string]struct{}, len(profiles))
	agents := make([]*Agent, 0, len(profiles))
	for _, profile := range profiles {
		if _, dup := seen[profile.ID]; dup {
			return nil, fmt.Errorf("求解者 %s 重复注册", profile.ID)
		}
		seen[profile.ID] = struct{}{}
		if profile.OverBudget == "" {
			profile.OverBudget = OverBudgetDecline
		}
		agents = append(agents, NewAgent(profile, prover, now))
	}
	return &Registry{agents: agents}, nil
}

// LoadRegistry 读取 YAML 注册表；路径为空时使用内置 Profile。
func LoadRegistry(path string, prover Prover, now func() time.Time) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewRegistry(DefaultProfiles(), prover, now)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取求解者注册表失败: %w", err)
	}
	profiles, err := ParseProfiles(content)
	if err != nil {
		return nil, err
	}
	return NewRegistry(profiles, prover, now)
}

// ParseProfiles 校验并解析 YAML 注册表内容。
func ParseProfiles(content []byte) ([]Profile, error) {
	var doc any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("解析求解者注册表失败: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, err
	}
	var file registryFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("解析求解者注册表失败: %w", err)
	}
	return file.Solvers, nil
}

func validateDocument(doc any) error {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(registrySchemaURL, strings.NewReader(registrySchema)); err != nil {
		return fmt.Errorf("加载注册表 schema 失败: %w", err)
	}
	schema, err := compiler.Compile(registrySchemaURL)
	if err != nil {
		return fmt.Errorf("编译注册表 schema 失败: %w", err)
	}

	// YAML 解码结果先转成 JSON 值，保证数字类型与 schema 校验器一致。
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("转换求解者注册表失败: %w", err)
	}
	var value any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("转换求解者注册表失败: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("求解者注册表不合法: %w", err)
	}
	return nil
}

// Agents 返回可供拍卖使用的求解者列表。
func (r *Registry) Agents() []auction.Agent {
	if r == nil {
		return nil
	}
	out := make([]auction.Agent, len(r.agents))
	for i, agent := range r.agents {
		out[i] = agent
	}
	return out
}

// IDs 返回已注册的求解者地址。
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, len(r.agents))
	for i, agent := range r.agents {
		ids[i] = agent.ID()
	}
	return ids
}
