package rules

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/thebtf/inspectrisk/pkg/models"
)

// LoadFile reads a YAML rule set. Content is checked but version
// uniqueness is left to the adapter.
func LoadFile(path string) (*models.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Decode(data)
}

// Decode parses a YAML (or JSON, which YAML accepts) rule set document.
func Decode(data []byte) (*models.RuleSet, error) {
	var rs models.RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if rs.Version == "" || rs.EffectiveDate == "" {
		return nil, &models.ValidationError{Field: "version/effective_date", Reason: "are required in rule files"}
	}
	return &rs, nil
}

// WriteFile stores a rule set as YAML, replacing the file atomically.
func WriteFile(path string, rs *models.RuleSet) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rs); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rules-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rules: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
