// Package config loads and validates declarative deployment plans: named
// SSH hosts plus an ordered list of stages to run against them.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Host describes one remote target reachable over SSH.
type Host struct {
	Host    string `yaml:"host" validate:"required,hostname|ip"`
	User    string `yaml:"user" validate:"required"`
	KeyFile string `yaml:"keyFile" validate:"required"`
	Port    int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// CopySpec is one local-to-remote transfer performed before a stage's
// script runs.
type CopySpec struct {
	Local  string `yaml:"local" validate:"required"`
	Remote string `yaml:"remote" validate:"required"`
}

// StageSpec is one named stage of the plan. Target is "local" (or empty)
// for the local shell, or the name of a declared host.
type StageSpec struct {
	Name   string     `yaml:"name" validate:"required"`
	Target string     `yaml:"target"`
	Script string     `yaml:"script"`
	Copy   []CopySpec `yaml:"copy" validate:"dive"`
}

// IsLocal reports whether the stage runs in the local shell.
func (s *StageSpec) IsLocal() bool {
	return s.Target == "" || s.Target == "local"
}

// Plan is a full deployment plan.
type Plan struct {
	Hosts  map[string]Host `yaml:"hosts" validate:"dive"`
	Stages []StageSpec     `yaml:"stages" validate:"required,min=1,dive"`
}

// Load reads, parses and validates a YAML plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks struct constraints and the cross-references between
// stages and hosts.
func (p *Plan) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("plan validation failed: %w", err)
	}
	for i := range p.Stages {
		st := &p.Stages[i]
		if !st.IsLocal() {
			if _, ok := p.Hosts[st.Target]; !ok {
				return fmt.Errorf("stage %q targets unknown host %q", st.Name, st.Target)
			}
		}
		if st.IsLocal() && len(st.Copy) > 0 {
			return fmt.Errorf("stage %q: copy steps need a remote target", st.Name)
		}
		if strings.TrimSpace(st.Script) == "" && len(st.Copy) == 0 {
			return fmt.Errorf("stage %q has neither a script nor copy steps", st.Name)
		}
	}
	return nil
}
