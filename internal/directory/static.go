package directory

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Static is a directory backed by a fixed YAML fixture:
//
//	roles:
//	  warden: [u-1]
//	hostel_roles:
//	  hostel-a:
//	    warden: [u-2]
//	groups:
//	  night-shift: [u-3, u-4]
type Static struct {
	Roles       map[string][]string            `yaml:"roles"`
	HostelRoles map[string]map[string][]string `yaml:"hostel_roles"`
	Groups      map[string][]string            `yaml:"groups"`
}

// LoadStatic reads a static directory file
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic decodes a static directory document
func ParseStatic(data []byte) (*Static, error) {
	var s Static
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}
	return &s, nil
}

// ResolveRole prefers hostel-specific holders and falls back to global ones
func (s *Static) ResolveRole(ctx context.Context, hostelID, role string) ([]string, error) {
	if hostelID != "" {
		if users, ok := s.HostelRoles[hostelID][role]; ok {
			return slices.Clone(users), nil
		}
	}
	return slices.Clone(s.Roles[role]), nil
}

func (s *Static) ResolveGroup(ctx context.Context, hostelID, group string) ([]string, error) {
	return slices.Clone(s.Groups[group]), nil
}
