// Package config loads declarative agency definitions from YAML. A definition
// names the agents (with provider-backed models), the permitted flows, the
// entry points and the run limits; Go code contributes only the tool
// implementations, which cannot be expressed declaratively.
package config

import (
	"fmt"
	"os"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agency"
	"github.com/hupe1980/agency/graph"
	"github.com/hupe1980/agency/model"
	"github.com/hupe1980/agency/model/anthropic"
	"github.com/hupe1980/agency/model/openai"
	"github.com/hupe1980/agency/tool"
)

// AgentConfig declares one agent.
type AgentConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Instruction string `yaml:"instruction"`
	Provider    string `yaml:"provider"` // openai | anthropic | mock
	Model       string `yaml:"model,omitempty"`
}

// Duration wraps time.Duration so limits can be written as "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// LimitsConfig declares the run bounds.
type LimitsConfig struct {
	MaxDepth          int      `yaml:"max_depth,omitempty"`
	MaxToolTurns      int      `yaml:"max_tool_turns,omitempty"`
	CompletionRetries int      `yaml:"completion_retries,omitempty"`
	RunTimeout        Duration `yaml:"run_timeout,omitempty"`
}

// Config is the root of a declarative agency definition.
type Config struct {
	Agents      []AgentConfig `yaml:"agents"`
	Flows       []graph.Flow  `yaml:"flows,omitempty"`
	EntryPoints []string      `yaml:"entry_points,omitempty"`
	Limits      LimitsConfig  `yaml:"limits,omitempty"`
}

// Load reads and parses a YAML definition from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a YAML definition.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("config declares no agents")
	}
	for _, a := range cfg.Agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent with empty name")
		}
		if a.Provider == "" {
			return nil, fmt.Errorf("agent %q declares no provider", a.Name)
		}
	}
	return &cfg, nil
}

// Build constructs the Agency from the definition. tools maps agent names to
// their tool implementations; agents absent from the map get none.
func (c *Config) Build(tools map[string][]tool.Tool, optFns ...func(o *agency.Options)) (*agency.Agency, error) {
	agents := make([]*agency.Agent, 0, len(c.Agents))
	for _, ac := range c.Agents {
		m, err := buildModel(ac)
		if err != nil {
			return nil, err
		}
		agents = append(agents, &agency.Agent{
			Name:        ac.Name,
			Description: ac.Description,
			Instruction: ac.Instruction,
			Model:       m,
			Tools:       tools[ac.Name],
		})
	}

	all := append([]func(o *agency.Options){func(o *agency.Options) {
		o.Agents = agents
		o.Flows = c.Flows
		o.EntryPoints = c.EntryPoints
		o.MaxDepth = c.Limits.MaxDepth
		o.MaxToolTurns = c.Limits.MaxToolTurns
		o.CompletionRetries = c.Limits.CompletionRetries
		o.RunTimeout = time.Duration(c.Limits.RunTimeout)
	}}, optFns...)

	return agency.New(all...)
}

// buildModel instantiates the completion collaborator declared for an agent.
func buildModel(ac AgentConfig) (model.Model, error) {
	switch ac.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if ac.Model != "" {
				o.Model = ac.Model
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if ac.Model != "" {
				o.Model = anthropicsdk.Model(ac.Model)
			}
		}), nil
	case "mock":
		name := ac.Model
		if name == "" {
			name = "mock"
		}
		return model.NewMockModel(name), nil
	default:
		return nil, fmt.Errorf("agent %q declares unknown provider %q", ac.Name, ac.Provider)
	}
}
