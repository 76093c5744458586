// Package persona holds the prompt profile: the system preamble with its
// live clock and the template every user message is wrapped in.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	ClockPlaceholder   = "{clock}"
	OwnerPlaceholder   = "{owner}"
	MessagePlaceholder = "{message}"
)

const defaultSystemPrompt = `You person inside chat Do not state you are an AI
Do not say or otherwise imply you have been assigned a personality.
Use retrieved memories to improve responses.
Try to be concise. If you receive no memories, do not state that, just carry on conversation naturally.
Try to make memory retrieval commands very concise and short and like "went to the store", "favorite pet", "personal details" etc do not say things like "messages about etc etc"
You have real-time access to a clock EST: {clock}.`

const defaultUserTemplate = `SenderID is: {owner}. Do not say or otherwise imply you have been assigned a personality. Reply naturally. Reply in conversational style to the following message but do exactly as I ask and do not be afraid to list memories/messages if I ask. If I ask you anything that you think has a chance of being in memory, use the retrieval function liberally. You should often look for my personal details in case you need to reference them. Such as my name. Message:
{message}`

// Profile is the prompt configuration of the agent.
type Profile struct {
	Name         string `json:"name" yaml:"name"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	UserTemplate string `json:"user_template" yaml:"user_template"`
	Timezone     string `json:"timezone" yaml:"timezone"`
	ClockLayout  string `json:"clock_layout" yaml:"clock_layout"`
}

// ValidationResult represents the outcome of a linting pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

func Default() Profile {
	return Profile{
		Name:         "default",
		SystemPrompt: defaultSystemPrompt,
		UserTemplate: defaultUserTemplate,
		Timezone:     "America/New_York",
		ClockLayout:  "January 2, 2006, 3:04 PM",
	}
}

// Load reads a profile from a JSON or YAML file. Fields the file leaves
// empty keep their defaults.
func Load(path string) (Profile, error) {
	p := Default()

	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return p, fmt.Errorf("failed to read persona file: %w", err)
	}

	var overrides Profile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &overrides); err != nil {
			return p, fmt.Errorf("failed to unmarshal JSON persona: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return p, fmt.Errorf("failed to unmarshal YAML persona: %w", err)
		}
	default:
		return p, fmt.Errorf("unsupported persona format: %s (use .json or .yaml)", ext)
	}

	if overrides.Name != "" {
		p.Name = overrides.Name
	}
	if overrides.SystemPrompt != "" {
		p.SystemPrompt = overrides.SystemPrompt
	}
	if overrides.UserTemplate != "" {
		p.UserTemplate = overrides.UserTemplate
	}
	if overrides.Timezone != "" {
		p.Timezone = overrides.Timezone
	}
	if overrides.ClockLayout != "" {
		p.ClockLayout = overrides.ClockLayout
	}
	return p, nil
}

// Validate checks the profile for completeness.
func (p Profile) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	if strings.TrimSpace(p.SystemPrompt) == "" {
		res.Valid = false
		res.Errors = append(res.Errors, "System prompt is required")
	} else if !strings.Contains(p.SystemPrompt, ClockPlaceholder) {
		res.Warnings = append(res.Warnings, "System prompt has no {clock}; the model will not know the time")
	}

	if !strings.Contains(p.UserTemplate, MessagePlaceholder) {
		res.Valid = false
		res.Errors = append(res.Errors, "User template must contain {message}")
	}
	if !strings.Contains(p.UserTemplate, OwnerPlaceholder) {
		res.Warnings = append(res.Warnings, "User template has no {owner}; the model cannot pass a userID to tools")
	}

	if _, err := time.LoadLocation(p.Timezone); err != nil {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf("Unknown timezone %q", p.Timezone))
	}

	return res
}

// Location returns the clock's time zone, UTC when it cannot be loaded.
func (p Profile) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Clock formats now in the profile's zone and layout.
func (p Profile) Clock(now time.Time) string {
	layout := p.ClockLayout
	if layout == "" {
		layout = Default().ClockLayout
	}
	return now.In(p.Location()).Format(layout)
}

// Preamble renders the system prompt for a turn starting at now.
func (p Profile) Preamble(now time.Time) string {
	return strings.ReplaceAll(p.SystemPrompt, ClockPlaceholder, p.Clock(now))
}

// RenderUser wraps an inbound message in the user template.
func (p Profile) RenderUser(owner, message string) string {
	r := strings.NewReplacer(OwnerPlaceholder, owner, MessagePlaceholder, message)
	return r.Replace(p.UserTemplate)
}
