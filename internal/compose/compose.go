// Package compose parses and validates project container definitions.
package compose

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hacker-cb/docklite/internal/errdefs"
)

// DefaultPort is assumed when a definition exposes nothing explicit.
const DefaultPort = 80

// Service is one container within a project definition.
type Service struct {
	Name        string
	Image       string     `yaml:"image"`
	Command     StringList `yaml:"command"`
	Environment EnvMap     `yaml:"environment"`
	Expose      StringList `yaml:"expose"`
	Ports       StringList `yaml:"ports"`
	Restart     string     `yaml:"restart"`
}

// Definition is a parsed multi-container definition. ServiceNames preserves the
// declaration order; the first service receives the project route.
type Definition struct {
	Services     map[string]Service
	ServiceNames []string
}

// First returns the route-facing service.
func (d Definition) First() (Service, bool) {
	if len(d.ServiceNames) == 0 {
		return Service{}, false
	}
	return d.Services[d.ServiceNames[0]], true
}

// StringList accepts a YAML scalar or sequence.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*s = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		for _, item := range node.Content {
			items = append(items, item.Value)
		}
		*s = items
		return nil
	default:
		return fmt.Errorf("line %d: expected scalar or sequence", node.Line)
	}
}

// EnvMap accepts the compose environment forms: a mapping or a "K=V" sequence.
type EnvMap map[string]string

// UnmarshalYAML implements yaml.Unmarshaler.
func (e *EnvMap) UnmarshalYAML(node *yaml.Node) error {
	result := make(map[string]string)
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			result[node.Content[i].Value] = node.Content[i+1].Value
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			key, value, _ := strings.Cut(item.Value, "=")
			result[key] = value
		}
	default:
		return fmt.Errorf("line %d: expected mapping or sequence", node.Line)
	}
	*e = result
	return nil
}

// Parse validates and decodes a definition.
func Parse(content string) (Definition, error) {
	if strings.TrimSpace(content) == "" {
		return Definition{}, errdefs.ValidationFields("definition cannot be empty",
			map[string]string{"compose_content": "definition cannot be empty"})
	}

	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return Definition{}, errdefs.ValidationFields("invalid YAML syntax",
			map[string]string{"compose_content": err.Error()})
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return Definition{}, errdefs.ValidationFields("definition must be a YAML mapping",
			map[string]string{"compose_content": "definition must be a YAML mapping"})
	}

	servicesNode := findMapValue(root.Content[0], "services")
	if servicesNode == nil {
		return Definition{}, errdefs.ValidationFields("definition must contain a services section",
			map[string]string{"compose_content": "missing 'services' section"})
	}
	if servicesNode.Kind != yaml.MappingNode || len(servicesNode.Content) == 0 {
		return Definition{}, errdefs.ValidationFields("services section must be a non-empty mapping",
			map[string]string{"compose_content": "'services' must be a non-empty mapping"})
	}

	def := Definition{Services: make(map[string]Service)}
	for i := 0; i+1 < len(servicesNode.Content); i += 2 {
		name := servicesNode.Content[i].Value
		var svc Service
		if err := servicesNode.Content[i+1].Decode(&svc); err != nil {
			return Definition{}, errdefs.ValidationFields("invalid service definition",
				map[string]string{"compose_content": fmt.Sprintf("service %q: %v", name, err)})
		}
		svc.Name = name
		if strings.TrimSpace(svc.Image) == "" {
			return Definition{}, errdefs.ValidationFields("every service requires an image",
				map[string]string{"compose_content": fmt.Sprintf("service %q: image is required", name)})
		}
		def.Services[name] = svc
		def.ServiceNames = append(def.ServiceNames, name)
	}
	return def, nil
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// DetectPort returns the internal port of the route-facing service. Lookup
// order follows explicit expose entries, then the container side of port
// mappings, then DefaultPort.
func DetectPort(def Definition) int {
	svc, ok := def.First()
	if !ok {
		return DefaultPort
	}
	if len(svc.Expose) > 0 {
		if port, ok := parsePort(svc.Expose[0]); ok {
			return port
		}
	}
	if len(svc.Ports) > 0 {
		mapping := svc.Ports[0]
		internal := mapping
		if idx := strings.LastIndex(mapping, ":"); idx >= 0 {
			internal = mapping[idx+1:]
		}
		if port, ok := parsePort(internal); ok {
			return port
		}
	}
	return DefaultPort
}

func parsePort(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "/"); idx >= 0 {
		raw = raw[:idx]
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
