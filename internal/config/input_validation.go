package config

import (
	"fmt"
	"net/url"
	"unicode"
)

const (
	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 200

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB
)

// ValidateInputs checks user-controllable strings for sizes, control
// characters and malformed URLs.
func (c *Config) ValidateInputs() error {
	if err := validateModelName(c.Model.Name, "model.name"); err != nil {
		return err
	}
	if c.Chat.Responder == "openai" {
		if err := validateModelName(c.Chat.ModelName, "chat.model_name"); err != nil {
			return err
		}
		if err := validateBaseURL(c.Chat.BaseURL, "chat.base_url"); err != nil {
			return err
		}
	}
	return c.validateTemplateSizes()
}

// validateModelName checks model name for security issues
func validateModelName(modelName, key string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("%s exceeds maximum length of %d (got %d)", key, MaxModelNameLength, len(modelName))
	}
	if containsControlChars(modelName) {
		return fmt.Errorf("%s contains invalid control characters", key)
	}
	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL, key string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme (got %q)", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must have a host", key)
	}
	return nil
}

// validateTemplateSizes checks that templates are within reasonable size limits
func (c *Config) validateTemplateSizes() error {
	templates := []struct {
		name  string
		value string
	}{
		{"template.text", c.Template.Text},
		{"chat.system_prompt", c.Chat.SystemPrompt},
	}
	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return fmt.Errorf("%s exceeds maximum size of %d bytes (got %d)", tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
	}
	return nil
}

// containsControlChars reports control characters other than newline, tab
// and carriage return
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
