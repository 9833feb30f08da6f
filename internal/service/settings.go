package service

import (
	"bytes"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

// SettingsStore holds the user configuration.
// All methods are thread-safe.
type SettingsStore struct {
	mu       sync.RWMutex
	settings models.Settings
	onChange func()
}

// NewSettingsStore creates a store holding the defaults.
func NewSettingsStore() *SettingsStore {
	return &SettingsStore{settings: models.DefaultSettings()}
}

// Get returns a copy of the current settings.
func (s *SettingsStore) Get() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySettings(s.settings)
}

// Update shallow-merges patch into the settings and schedules a write.
func (s *SettingsStore) Update(patch models.SettingsPatch) models.Settings {
	s.mu.Lock()
	s.settings = patch.Apply(s.settings)
	out := copySettings(s.settings)
	onChange := s.onChange
	s.mu.Unlock()

	if onChange != nil {
		onChange()
	}
	return out
}

// Restore replaces the settings without scheduling a write.
func (s *SettingsStore) Restore(settings models.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = copySettings(settings)
}

// setOnChange installs the hook Update calls after a change.
func (s *SettingsStore) setOnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func copySettings(in models.Settings) models.Settings {
	out := in
	out.Queries = append([]models.SearchQuery{}, in.Queries...)
	return out
}

// LoadSettingsFile reads a YAML settings file. Keys missing from the file
// keep their default values.
func LoadSettingsFile(path string) (models.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Settings{}, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettingsYAML(data)
}

// ParseSettingsYAML decodes YAML onto the defaults.
func ParseSettingsYAML(data []byte) (models.Settings, error) {
	settings := models.DefaultSettings()
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return models.Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

// MarshalSettingsYAML encodes settings in the seed file format.
func MarshalSettingsYAML(settings models.Settings) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
