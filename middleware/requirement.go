package middleware

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/MrEthical07/wardAuth/permission"
	"gopkg.in/yaml.v3"
)

// AuthRequirement is the static access metadata of one endpoint. Every
// declared check must pass; an empty requirement admits any authenticated
// caller. Public skips authentication entirely.
type AuthRequirement struct {
	Public         bool                 `yaml:"public"`
	Roles          []string             `yaml:"roles"`
	AllPermissions []string             `yaml:"allPermissions"`
	AnyPermissions []string             `yaml:"anyPermissions"`
	Resource       *ResourceRequirement `yaml:"resource"`
}

// ResourceRequirement names the resource a request targets. The resource id
// is read from the path wildcard IDParam.
type ResourceRequirement struct {
	Type    string `yaml:"type"`
	Action  string `yaml:"action"`
	IDParam string `yaml:"idParam"`
}

// Empty reports whether the requirement declares no authorization checks.
func (r AuthRequirement) Empty() bool {
	return len(r.Roles) == 0 && len(r.AllPermissions) == 0 && len(r.AnyPermissions) == 0 && r.Resource == nil
}

// Validate checks permission codes and the resource descriptor.
func (r AuthRequirement) Validate() error {
	if r.Public && !r.Empty() {
		return errors.New("public endpoint must not declare authorization checks")
	}
	for _, list := range [][]string{r.AllPermissions, r.AnyPermissions} {
		for _, code := range list {
			if _, err := permission.ParseCode(code); err != nil {
				return err
			}
		}
	}
	for _, role := range r.Roles {
		if strings.TrimSpace(role) == "" {
			return errors.New("blank role code")
		}
	}
	if res := r.Resource; res != nil {
		if _, err := permission.ParseCode(permission.Format(res.Type, res.Action, permission.ScopeNone)); err != nil {
			return fmt.Errorf("resource: %w", err)
		}
		if res.IDParam == "" {
			return errors.New("resource: idParam is required")
		}
	}
	return nil
}

// Requirements maps an endpoint pattern in http.ServeMux syntax, such as
// "GET /patients/{id}", to its requirement.
type Requirements map[string]AuthRequirement

// Validate checks every entry and reports the first bad pattern.
func (rs Requirements) Validate() error {
	patterns := make([]string, 0, len(rs))
	for p := range rs {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return errors.New("empty endpoint pattern")
		}
		if err := rs[p].Validate(); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// LoadRequirements decodes a YAML requirement table:
//
//	"POST /auth/login":
//	  public: true
//	"GET /patients/{id}":
//	  roles: [DOCTOR, NURSE]
//	  resource: {type: patient, action: read, idParam: id}
func LoadRequirements(r io.Reader) (Requirements, error) {
	var out Requirements
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if out == nil {
		out = Requirements{}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
