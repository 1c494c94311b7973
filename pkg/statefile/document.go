// Package statefile loads desired-state documents: YAML files naming a
// provider and the resources it should manage. Documents are the input
// to the CLI's preview, apply and destroy commands.
package statefile

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/terrane-dev/terrane/pkg/engine"
	"github.com/terrane-dev/terrane/pkg/property"
	"github.com/terrane-dev/terrane/pkg/provider"
)

// Document is one desired-state file.
type Document struct {
	// Stack namespaces the URNs of every resource in the document.
	Stack string `yaml:"stack" validate:"required"`

	// Provider names the provider that manages the resources.
	Provider ProviderSpec `yaml:"provider"`

	// Resources are the desired resources.
	Resources []Resource `yaml:"resources" validate:"dive"`
}

// ProviderSpec describes how to reach the provider and how to
// configure it.
type ProviderSpec struct {
	// Name is the provider package name.
	Name string `yaml:"name" validate:"required"`

	// Command launches the provider as a subprocess speaking the
	// protocol over stdio. Empty means the bundled in-process provider.
	Command string `yaml:"command"`

	// Args are extra arguments for Command.
	Args []string `yaml:"args"`

	// Config is passed to the provider's Configure call.
	Config map[string]string `yaml:"config"`
}

// Resource is one desired resource.
type Resource struct {
	// Name is unique within the document.
	Name string `yaml:"name" validate:"required"`

	// Type is the resource type token, e.g. memory:index:object.
	Type string `yaml:"type" validate:"required"`

	// Properties are the desired inputs.
	Properties map[string]any `yaml:"properties"`
}

// URN derives the stable logical identity of a resource in a stack.
func URN(stack, typ, name string) provider.URN {
	return provider.URN(fmt.Sprintf("urn:terrane:%s::%s::%s", stack, typ, name))
}

// Load reads and validates a document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	return Parse(data)
}

// Parse validates a document from raw YAML.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document's structure, including duplicate
// resource names.
func (d *Document) Validate() error {
	if err := validator.New().Struct(d); err != nil {
		return fmt.Errorf("invalid state file: %w", err)
	}

	seen := make(map[string]bool, len(d.Resources))
	for _, res := range d.Resources {
		if seen[res.Name] {
			return fmt.Errorf("invalid state file: duplicate resource name %q", res.Name)
		}
		seen[res.Name] = true
	}
	return nil
}

// Goals converts the document's resources into engine goals with
// derived URNs.
func (d *Document) Goals() ([]engine.Goal, error) {
	goals := make([]engine.Goal, 0, len(d.Resources))
	for _, res := range d.Resources {
		inputs, err := property.MapFromAny(res.Properties)
		if err != nil {
			return nil, fmt.Errorf("resource %q: %w", res.Name, err)
		}
		goals = append(goals, engine.Goal{
			URN:    URN(d.Stack, res.Type, res.Name),
			Type:   res.Type,
			Inputs: inputs,
		})
	}
	return goals, nil
}
