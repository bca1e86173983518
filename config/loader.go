package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) ([]Rule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := ParseRules(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes a rules document. Unknown keys are errors; a rule
// without proto or action takes them from DefaultRule.
func ParseRules(b []byte) ([]Rule, error) {
	var f rulesFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.Proto == "" {
			r.Proto = DefaultRule.Proto
		}
		if r.Action == "" {
			r.Action = DefaultRule.Action
		}
	}
	return f.Rules, nil
}
