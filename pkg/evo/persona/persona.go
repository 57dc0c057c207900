// Package persona loads Evo's default personality. It is read once at
// startup and passed by value to whoever needs it.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is used when neither the server nor the personality file
// names the bot.
const DefaultName = "Evo"

// Personality is the process-wide fallback persona.
type Personality struct {
	Name        string
	Personality string
	rules       []string
}

// Rules returns a copy of the behaviour rules, in order.
func (p Personality) Rules() []string {
	return append([]string(nil), p.rules...)
}

// New builds a Personality. Empty name defaults to DefaultName.
func New(name, personality string, rules []string) Personality {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	return Personality{
		Name:        name,
		Personality: personality,
		rules:       append([]string(nil), rules...),
	}
}

// fileFormat is the on-disk layout. The nested system_prompt_components
// layout is accepted for compatibility with existing personality.json files.
type fileFormat struct {
	Name        string   `yaml:"name"`
	Personality string   `yaml:"personality"`
	Rules       []string `yaml:"rules"`

	SystemPromptComponents struct {
		Personality string   `yaml:"personality"`
		Rules       []string `yaml:"rules"`
	} `yaml:"system_prompt_components"`
}

// Parse decodes a personality document. JSON is accepted since it is valid YAML.
func Parse(data []byte) (Personality, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Personality{}, fmt.Errorf("persona: parsing: %w", err)
	}

	text := f.Personality
	if text == "" {
		text = f.SystemPromptComponents.Personality
	}
	rules := f.Rules
	if len(rules) == 0 {
		rules = f.SystemPromptComponents.Rules
	}
	if strings.TrimSpace(text) == "" {
		return Personality{}, fmt.Errorf("persona: personality text is empty")
	}
	return New(f.Name, text, rules), nil
}

// Load reads a personality file.
func Load(path string) (Personality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Personality{}, fmt.Errorf("persona: reading %s: %w", path, err)
	}
	return Parse(data)
}
