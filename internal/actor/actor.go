// Package actor resolves which role may act on an approval step and decides
// whether a caller is allowed to perform an approval action.
package actor

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
)

// Role codes known to the resolver.
const (
	RoleSuperuser = "superuser"
	RoleVPAdmin   = "vp_admin"
	RolePMOHead   = "pmo_head"
	RolePMOStaff  = "pmo_staff"
	RoleUser      = "user"
	// RoleExternal marks a step performed by a party without an account.
	RoleExternal = "external"
)

// Action is an approval command subject to authorization.
type Action string

const (
	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionExternalApprove Action = "external_approve"
	ActionReset           Action = "reset"
)

var (
	externalProxies = []string{RoleSuperuser, RoleVPAdmin, RolePMOHead}
	resetters       = []string{RoleSuperuser, RoleVPAdmin}
)

//go:embed actors.yaml
var defaultTable []byte

// Actor is the party expected to act on a step.
type Actor struct {
	DisplayName string `yaml:"display_name"`
	Role        string `yaml:"role"`
}

// StepTemplate describes one step created when an approval is opened.
type StepTemplate struct {
	Code     domain.StepCode `yaml:"code"`
	Label    string          `yaml:"label"`
	External bool            `yaml:"external"`
	Actor    Actor           `yaml:"actor"`
}

type tableFile struct {
	Forms map[string][]StepTemplate `yaml:"forms"`
}

// Resolver holds the validated step table.
type Resolver struct {
	forms map[domain.RequestKind][]StepTemplate
}

// Load reads the table from path, or the embedded default when path is
// empty, and validates it.
func Load(path string) (*Resolver, error) {
	data := defaultTable
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read actor table: %w", err)
		}
		data = b
	}
	return Parse(data)
}

// Parse decodes and validates a YAML actor table.
func Parse(data []byte) (*Resolver, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file tableFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode actor table: %w", err)
	}

	r := &Resolver{forms: make(map[domain.RequestKind][]StepTemplate, len(file.Forms))}
	for name, steps := range file.Forms {
		kind, err := domain.ParseRequestKind(name)
		if err != nil {
			return nil, fmt.Errorf("actor table: %w", err)
		}
		r.forms[kind] = steps
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the table is complete for every request kind.
func (r *Resolver) Validate() error {
	for _, kind := range domain.RequestKinds {
		steps, ok := r.forms[kind]
		if !ok || len(steps) == 0 {
			return fmt.Errorf("actor table: no steps for %s", kind)
		}
		seen := make(map[domain.StepCode]bool, len(steps))
		for i, s := range steps {
			if !s.Code.Valid() {
				return fmt.Errorf("actor table: %s step %d: unknown code %q", kind, i+1, s.Code)
			}
			if seen[s.Code] {
				return fmt.Errorf("actor table: %s: duplicate step %s", kind, s.Code)
			}
			seen[s.Code] = true

			switch {
			case s.External && s.Actor.Role != RoleExternal:
				return fmt.Errorf("actor table: %s:%s is external but maps to role %q", kind, s.Code, s.Actor.Role)
			case !s.External && s.Actor.Role == "":
				return fmt.Errorf("actor table: %s:%s has no role", kind, s.Code)
			case !s.External && s.Actor.Role == RoleExternal:
				return fmt.Errorf("actor table: %s:%s maps to role external but is not marked external", kind, s.Code)
			}
		}
	}
	return nil
}

// Template returns the ordered step template for kind.
func (r *Resolver) Template(kind domain.RequestKind) []StepTemplate {
	return r.forms[kind]
}

// Lookup returns the actor mapped to (kind, code).
func (r *Resolver) Lookup(kind domain.RequestKind, code domain.StepCode) (Actor, bool) {
	for _, s := range r.forms[kind] {
		if s.Code == code {
			return s.Actor, true
		}
	}
	return Actor{}, false
}

// Authorize decides whether caller may perform action on fa. It never
// mutates fa. A missing current step is reported as NoPendingStepError.
func (r *Resolver) Authorize(action Action, fa *domain.FormApproval, caller auth.UserContext) error {
	if action == ActionReset {
		if !hasRole(caller.RoleCode, resetters) {
			return deny(action, caller, "", "only superuser or vp_admin may reset an approval")
		}
		if fa.Status == domain.FormPendingReview {
			return deny(action, caller, "", "approval is already pending review")
		}
		return nil
	}

	step := fa.CurrentStep()
	if step == nil {
		return &domain.NoPendingStepError{FormApprovalID: fa.ID}
	}

	if r.isExternal(fa.ApprovableType, step) {
		if !hasRole(caller.RoleCode, externalProxies) {
			return deny(action, caller, step.Code, "external steps are recorded by superuser, vp_admin or pmo_head")
		}
		return nil
	}

	if action == ActionExternalApprove {
		return deny(action, caller, step.Code, "step is not external")
	}
	if fa.Status != domain.FormPendingReview {
		return deny(action, caller, step.Code, "approval is not pending review")
	}

	required, ok := r.Lookup(fa.ApprovableType, step.Code)
	if !ok {
		return deny(action, caller, step.Code, "no actor mapped for step")
	}
	if caller.RoleCode != required.Role && caller.RoleCode != RoleSuperuser {
		return deny(action, caller, step.Code, fmt.Sprintf("step requires %s", required.Role))
	}
	return nil
}

func (r *Resolver) isExternal(kind domain.RequestKind, step *domain.ApprovalStep) bool {
	if step.IsExternal {
		return true
	}
	a, ok := r.Lookup(kind, step.Code)
	return ok && a.Role == RoleExternal
}

func hasRole(role string, allowed []string) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

func deny(action Action, caller auth.UserContext, code domain.StepCode, reason string) error {
	return &domain.UnauthorizedActionError{
		Action:   string(action),
		RoleCode: caller.RoleCode,
		StepCode: code,
		Reason:   reason,
	}
}
