package policy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleTable maps role names to the scopes they grant.
// It is loaded once at startup and read-only afterwards.
// Reserved roles cannot be requested at public registration.
type RoleTable struct {
	roles    map[string][]string
	reserved map[string]bool
}

// roleFile is the on-disk YAML layout. A missing reserved key keeps
// DefaultReserved; an explicit empty list reserves nothing.
type roleFile struct {
	Roles    map[string][]string `yaml:"roles"`
	Reserved []string            `yaml:"reserved"`
}

// DefaultRoles is used when no policy file is configured
var DefaultRoles = map[string][]string{
	"admin":          {"marketplace.read", "marketplace.write"},
	"seller":         {"marketplace.read", "marketplace.write", "orders.read"},
	"buyer":          {"marketplace.read", "orders.read", "orders.write"},
	"viewer":         {"marketplace.read"},
	"platform_admin": {"tenants.read", "tenants.write"},
}

// DefaultReserved lists the roles only a platform operator may grant
var DefaultReserved = []string{"platform_admin"}

// NewRoleTable validates and copies roles. Every reserved name must be a
// defined role.
func NewRoleTable(roles map[string][]string, reserved ...string) (*RoleTable, error) {
	if len(roles) == 0 {
		return nil, errors.New("role table is empty")
	}

	table := &RoleTable{
		roles:    make(map[string][]string, len(roles)),
		reserved: make(map[string]bool, len(reserved)),
	}
	for role, scopes := range roles {
		role = strings.TrimSpace(role)
		if role == "" {
			return nil, errors.New("role name cannot be empty")
		}
		clean := make([]string, 0, len(scopes))
		for _, s := range scopes {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, fmt.Errorf("role %q has an empty scope", role)
			}
			if strings.ContainsAny(s, " \t") {
				return nil, fmt.Errorf("role %q scope %q contains whitespace", role, s)
			}
			clean = append(clean, s)
		}
		table.roles[role] = clean
	}
	for _, role := range reserved {
		role = strings.TrimSpace(role)
		if !table.HasRole(role) {
			return nil, fmt.Errorf("reserved role %q is not defined", role)
		}
		table.reserved[role] = true
	}
	return table, nil
}

// DefaultRoleTable returns the built-in table
func DefaultRoleTable() *RoleTable {
	table, err := NewRoleTable(DefaultRoles, DefaultReserved...)
	if err != nil {
		panic(err)
	}
	return table
}

// ParseRoleTable decodes a YAML role table
func ParseRoleTable(data []byte) (*RoleTable, error) {
	var f roleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse role table: %w", err)
	}
	reserved := f.Reserved
	if reserved == nil {
		for _, role := range DefaultReserved {
			if _, ok := f.Roles[role]; ok {
				reserved = append(reserved, role)
			}
		}
	}
	return NewRoleTable(f.Roles, reserved...)
}

// LoadRoleTable reads a YAML role table from path
func LoadRoleTable(path string) (*RoleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read role table: %w", err)
	}
	return ParseRoleTable(data)
}

// HasRole reports whether role is defined
func (t *RoleTable) HasRole(role string) bool {
	_, ok := t.roles[role]
	return ok
}

// IsReserved reports whether role may only be granted by an operator
func (t *RoleTable) IsReserved(role string) bool {
	return t.reserved[role]
}

// Reserved returns the requested roles that are reserved, in request order
func (t *RoleTable) Reserved(roles []string) []string {
	var out []string
	for _, role := range roles {
		if t.reserved[role] {
			out = append(out, role)
		}
	}
	return out
}

// Roles returns the defined role names, sorted
func (t *RoleTable) Roles() []string {
	names := make([]string, 0, len(t.roles))
	for name := range t.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the union of scopes granted by roles, in first-seen order,
// and the requested roles that are not defined.
func (t *RoleTable) Resolve(roles []string) (scopes []string, unknown []string) {
	seen := make(map[string]bool)
	scopes = []string{}
	for _, role := range roles {
		granted, ok := t.roles[role]
		if !ok {
			unknown = append(unknown, role)
			continue
		}
		for _, s := range granted {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	return scopes, unknown
}

// Scopes returns every scope granted by some role, sorted
func (t *RoleTable) Scopes() []string {
	seen := make(map[string]bool)
	var scopes []string
	for _, granted := range t.roles {
		for _, s := range granted {
			if !seen[s] {
				seen[s] = true
				scopes = append(scopes, s)
			}
		}
	}
	sort.Strings(scopes)
	return scopes
}
