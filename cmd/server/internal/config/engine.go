package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/agent"
)

// EngineFile is the optional YAML file behind ENGINE_CONFIG_FILE. It carries
// the pieces that are awkward as environment variables: the provider fallback
// order and the agent roster with each participant's work context.
type EngineFile struct {
	// Providers lists speech provider names from most to least preferred.
	// Names not wired at startup (missing endpoint) are dropped with a
	// warning; an empty list keeps the wiring order.
	Providers []string `yaml:"providers"`

	// Agents maps participant identifiers to their work context. Each entry
	// becomes a rule agent registered under that identifier.
	Agents map[string]agent.WorkContext `yaml:"agents"`

	// Meetings overrides scheduling defaults.
	Meetings MeetingDefaults `yaml:"meetings"`
}

// MeetingDefaults are engine-file overrides for meeting scheduling.
type MeetingDefaults struct {
	DefaultStrategy string `yaml:"default_strategy"`
}

// LoadEngineFile parses the YAML engine file at path.
func LoadEngineFile(path string) (*EngineFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine file: %w", err)
	}
	var ef EngineFile
	if err := yaml.Unmarshal(data, &ef); err != nil {
		return nil, fmt.Errorf("parse engine file %s: %w", path, err)
	}
	return &ef, nil
}

// BuildAgents constructs the rule agents declared in the engine file and
// registers them. Returns the number registered.
func (ef *EngineFile) BuildAgents(reg *agent.Registry) int {
	for name, work := range ef.Agents {
		reg.Register(agent.NewRuleAgent(name, work))
	}
	return len(ef.Agents)
}
