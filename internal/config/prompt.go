package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PromptFile is the YAML shape of PROMPT_FILE.
type PromptFile struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// ResolveSystemPrompt returns SYSTEM_PROMPT, else the prompt from PROMPT_FILE,
// else fallback.
func (c Config) ResolveSystemPrompt(fallback string) (string, error) {
	if strings.TrimSpace(c.SystemPrompt) != "" {
		return c.SystemPrompt, nil
	}
	if strings.TrimSpace(c.PromptFile) == "" {
		return fallback, nil
	}

	data, err := os.ReadFile(c.PromptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	var file PromptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("parse prompt file %s: %w", c.PromptFile, err)
	}
	if strings.TrimSpace(file.SystemPrompt) == "" {
		return "", fmt.Errorf("prompt file %s has no system_prompt", c.PromptFile)
	}
	return file.SystemPrompt, nil
}
