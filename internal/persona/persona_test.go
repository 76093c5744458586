package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	tmpDir, _ := os.MkdirTemp("", "persona-test-*")
	defer os.RemoveAll(tmpDir)

	yamlPath := filepath.Join(tmpDir, "persona.yaml")
	os.WriteFile(yamlPath, []byte("name: terse\nsystem_prompt: \"Be terse. Time: {clock}\"\ntimezone: UTC\n"), 0600)

	jsonPath := filepath.Join(tmpDir, "persona.json")
	os.WriteFile(jsonPath, []byte(`{"name": "json", "user_template": "[{owner}] {message}"}`), 0600)

	t.Run("YAML", func(t *testing.T) {
		p, err := Load(yamlPath)
		if err != nil {
			t.Fatalf("Failed to load YAML: %v", err)
		}
		if p.Name != "terse" || p.Timezone != "UTC" {
			t.Errorf("Unexpected profile %+v", p)
		}
		if p.UserTemplate != Default().UserTemplate {
			t.Error("Expected default user template to survive")
		}
	})

	t.Run("JSON", func(t *testing.T) {
		p, err := Load(jsonPath)
		if err != nil {
			t.Fatalf("Failed to load JSON: %v", err)
		}
		if got := p.RenderUser("7", "hi"); got != "[7] hi" {
			t.Errorf("Expected '[7] hi', got %q", got)
		}
	})

	t.Run("Invalid Extension", func(t *testing.T) {
		if _, err := Load(filepath.Join(tmpDir, "persona.txt")); err == nil {
			t.Error("Expected error for .txt extension")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("Default", func(t *testing.T) {
		res := Default().Validate()
		if !res.Valid || len(res.Warnings) != 0 {
			t.Errorf("Expected clean default, got %+v", res)
		}
	})

	t.Run("Missing Fields", func(t *testing.T) {
		res := Profile{Timezone: "Mars/Olympus"}.Validate()
		if res.Valid {
			t.Error("Expected invalid for empty profile")
		}
		if len(res.Errors) < 3 { // prompt, template, timezone
			t.Errorf("Expected at least 3 errors, got %d", len(res.Errors))
		}
	})

	t.Run("Warnings", func(t *testing.T) {
		p := Default()
		p.SystemPrompt = "no clock here"
		p.UserTemplate = "{message}"
		res := p.Validate()
		if !res.Valid || len(res.Warnings) != 2 {
			t.Errorf("Expected valid with two warnings, got %+v", res)
		}
	})
}

func TestPreamble(t *testing.T) {
	p := Default()
	now := time.Date(2024, 1, 15, 20, 5, 0, 0, time.UTC)

	got := p.Preamble(now)
	if !strings.HasSuffix(got, "You have real-time access to a clock EST: January 15, 2024, 3:05 PM.") {
		t.Errorf("Unexpected preamble tail: %q", got[len(got)-80:])
	}
	if strings.Contains(got, ClockPlaceholder) {
		t.Error("Placeholder left in preamble")
	}
}

func TestRenderUser(t *testing.T) {
	got := Default().RenderUser("1", "what is my dog's name?")
	if !strings.HasPrefix(got, "SenderID is: 1. ") {
		t.Errorf("Unexpected prefix: %q", got)
	}
	if !strings.HasSuffix(got, "Message:\nwhat is my dog's name?") {
		t.Errorf("Unexpected suffix: %q", got)
	}
}
