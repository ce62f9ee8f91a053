// Package templates provides embedded TOML prompt templates with user override support.
// Templates are loaded with resolution order:
// 1. User override: templatesDir/{name}.toml
// 2. Embedded default: internal/templates/{name}.toml
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pelletier/go-toml/v2"
)

//go:embed *.toml
var fs embed.FS

// Template names shipped with the binary
const (
	CourseOutline   = "course_outline"
	TopicContent    = "topic_content"
	SubtopicContent = "subtopic_content"
	ImagePrompt     = "image_prompt"
)

// Template represents a loaded prompt template
type Template struct {
	Name   string `toml:"-"`
	System string `toml:"system"` // Optional system instruction
	Prompt string `toml:"prompt"` // text/template body rendered with caller data
}

// GetTemplate loads a template by name with resolution order:
// 1. User override: templatesDir/{name}.toml
// 2. Embedded default: internal/templates/{name}.toml
func GetTemplate(name string, templatesDir string) (*Template, error) {
	if templatesDir != "" {
		userPath := filepath.Join(templatesDir, name+".toml")
		if data, err := os.ReadFile(userPath); err == nil {
			return parseTemplate(name, data)
		}
	}

	data, err := fs.ReadFile(name + ".toml")
	if err != nil {
		return nil, fmt.Errorf("template '%s' not found (checked user override and embedded)", name)
	}
	return parseTemplate(name, data)
}

// ListEmbeddedTemplates returns names of all embedded templates
func ListEmbeddedTemplates() ([]string, error) {
	entries, err := fs.ReadDir(".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".toml") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".toml"))
		}
	}
	return names, nil
}

// Render executes the prompt body against data
func (t *Template) Render(data interface{}) (string, error) {
	tmpl, err := template.New(t.Name).Option("missingkey=zero").Parse(t.Prompt)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", t.Name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template '%s': %w", t.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func parseTemplate(name string, data []byte) (*Template, error) {
	var t Template
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return nil, fmt.Errorf("template '%s' has an empty prompt", name)
	}
	t.Name = name
	return &t, nil
}
