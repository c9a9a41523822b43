// Package persona holds the companion characters and builds their system
// prompts from the current affection level.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed characters.yaml
var builtinYAML []byte

// ErrUnknownCharacter is returned for an id that is not in the catalog
var ErrUnknownCharacter = errors.New("unknown character")

// MoodBand selects prompt text by affection. A band with Below == 0 is a
// catch-all.
type MoodBand struct {
	Below int    `yaml:"below,omitempty" json:"below,omitempty"`
	Text  string `yaml:"text" json:"text"`
}

// CharacterProfile is the immutable description of one character
type CharacterProfile struct {
	ID      string     `yaml:"id" json:"id"`
	Name    string     `yaml:"name" json:"name"`
	Theme   string     `yaml:"theme" json:"theme"`
	VoiceID string     `yaml:"voice_id" json:"voiceId"`
	Prompt  string     `yaml:"prompt" json:"-"`
	Moods   []MoodBand `yaml:"moods,omitempty" json:"-"`

	tmpl *template.Template
}

// Mood returns the mood text for an affection level, or "" when the
// character has no bands.
func (c *CharacterProfile) Mood(affection int) string {
	for _, band := range c.Moods {
		if band.Below == 0 || affection < band.Below {
			return band.Text
		}
	}
	return ""
}

type promptData struct {
	Name      string
	Affection int
	Mood      string
}

// SystemPrompt renders the character prompt for an affection level
func (c *CharacterProfile) SystemPrompt(affection int) (string, error) {
	tmpl := c.tmpl
	if tmpl == nil {
		var err error
		if tmpl, err = template.New(c.ID).Option("missingkey=error").Parse(c.Prompt); err != nil {
			return "", fmt.Errorf("parse prompt for %s: %w", c.ID, err)
		}
	}

	var sb strings.Builder
	data := promptData{Name: c.Name, Affection: affection, Mood: c.Mood(affection)}
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt for %s: %w", c.ID, err)
	}
	return sb.String(), nil
}

// Catalog is the set of selectable characters
type Catalog struct {
	Default    string             `yaml:"default"`
	Characters []CharacterProfile `yaml:"characters"`

	byID map[string]*CharacterProfile
}

// Builtin returns the embedded catalog (dhruva, priya, jarvis, aura)
func Builtin() *Catalog {
	c, err := LoadFromYAML(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin characters: %v", err))
	}
	return c
}

// LoadFromFile loads a catalog from a YAML file.
// An empty path or a missing file yields the built-in catalog.
func LoadFromFile(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[1:])
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Builtin(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read character file: %w", err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML parses and validates a catalog
func LoadFromYAML(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse character YAML: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid character configuration: %w", err)
	}
	return &c, nil
}

// Validate checks the catalog and compiles every prompt template
func (c *Catalog) Validate() error {
	if len(c.Characters) == 0 {
		return errors.New("at least one character is required")
	}

	c.byID = make(map[string]*CharacterProfile, len(c.Characters))
	for i := range c.Characters {
		ch := &c.Characters[i]
		if ch.ID == "" {
			return fmt.Errorf("characters[%d].id is required", i)
		}
		if _, dup := c.byID[ch.ID]; dup {
			return fmt.Errorf("duplicate character id: %s", ch.ID)
		}
		if ch.VoiceID == "" {
			return fmt.Errorf("character %s: voice_id is required", ch.ID)
		}
		if strings.TrimSpace(ch.Prompt) == "" {
			return fmt.Errorf("character %s: prompt is required", ch.ID)
		}
		for j, band := range ch.Moods {
			if band.Below == 0 && j != len(ch.Moods)-1 {
				return fmt.Errorf("character %s: only the last mood may omit below", ch.ID)
			}
			if j > 0 && band.Below != 0 && band.Below <= ch.Moods[j-1].Below {
				return fmt.Errorf("character %s: mood bands must be ascending", ch.ID)
			}
		}

		tmpl, err := template.New(ch.ID).Option("missingkey=error").Parse(ch.Prompt)
		if err != nil {
			return fmt.Errorf("character %s: %w", ch.ID, err)
		}
		ch.tmpl = tmpl
		c.byID[ch.ID] = ch
	}

	if c.Default == "" {
		c.Default = c.Characters[0].ID
	}
	if _, ok := c.byID[c.Default]; !ok {
		return fmt.Errorf("default character %s not defined", c.Default)
	}
	return nil
}

// Get returns a character by id
func (c *Catalog) Get(id string) (*CharacterProfile, error) {
	ch, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacter, id)
	}
	return ch, nil
}

// List returns the characters in catalog order
func (c *Catalog) List() []CharacterProfile {
	out := make([]CharacterProfile, len(c.Characters))
	copy(out, c.Characters)
	return out
}

// BuildSystemPrompt renders the prompt for a character at an affection level
func (c *Catalog) BuildSystemPrompt(characterID string, affection int) (string, error) {
	ch, err := c.Get(characterID)
	if err != nil {
		return "", err
	}
	return ch.SystemPrompt(affection)
}

var builtin = Builtin()

// BuildSystemPrompt renders a built-in character's prompt
func BuildSystemPrompt(characterID string, affection int) (string, error) {
	return builtin.BuildSystemPrompt(characterID, affection)
}
