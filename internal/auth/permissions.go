package auth

import (
	"encoding/json"
	"fmt"
)

// Action names understood by permission trees.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Module names used across the service. Field is the only two-tier module;
// its sub-features carry their own action sets.
const (
	ModuleClients      = "Clients"
	ModuleAccount      = "Account"
	ModuleContacts     = "Contacts"
	ModuleDevice       = "Device"
	ModuleCrop         = "Crop"
	ModuleField        = "Field"
	ModuleUsers        = "Users"
	ModuleRoles        = "Roles"
	ModuleReports      = "Reports"
	ModuleDataAddition = "Data Addition"

	FeatureFieldStatusUpdate = "Status Update"
	FeatureFieldCostUpdate   = "Cost Update"
)

// Modules lists every known module name.
var Modules = []string{
	ModuleClients,
	ModuleAccount,
	ModuleContacts,
	ModuleDevice,
	ModuleCrop,
	ModuleField,
	ModuleUsers,
	ModuleRoles,
	ModuleReports,
	ModuleDataAddition,
}

// ModuleFeatures maps two-tier modules to their sub-features.
var ModuleFeatures = map[string][]string{
	ModuleField: {FeatureFieldStatusUpdate, FeatureFieldCostUpdate},
}

// ActionSet is the leaf grant: one flag per CRUD action.
type ActionSet struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// Allows reports whether the named action is granted. Unknown action names
// are denied, never an error.
func (a ActionSet) Allows(action string) bool {
	switch action {
	case ActionCreate:
		return a.Create
	case ActionRead:
		return a.Read
	case ActionUpdate:
		return a.Update
	case ActionDelete:
		return a.Delete
	default:
		return false
	}
}

// FullAccess grants all four actions.
func FullAccess() ActionSet {
	return ActionSet{Create: true, Read: true, Update: true, Delete: true}
}

// Permission is a module grant: the module-level action set plus optional
// per-feature action sets ("Field" vs "Field"/"Status Update"). On the wire a
// module object mixes the four action keys with feature keys whose values are
// nested action maps; in memory the two tiers are kept apart so evaluation
// pattern-matches on the variant instead of probing key shapes.
type Permission struct {
	Actions  ActionSet
	Features map[string]ActionSet
}

// MarshalJSON emits the original wire shape: action keys and feature keys at
// the same level inside the module object.
func (p Permission) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		ActionCreate: p.Actions.Create,
		ActionRead:   p.Actions.Read,
		ActionUpdate: p.Actions.Update,
		ActionDelete: p.Actions.Delete,
	}
	for name, set := range p.Features {
		out[name] = set
	}
	return json.Marshal(out)
}

// UnmarshalJSON resolves the mixed shape: bool values are module-level
// actions, object values are feature action sets. This is the only place the
// shape is probed.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Permission{}
	for key, val := range raw {
		var b bool
		if err := json.Unmarshal(val, &b); err == nil {
			switch key {
			case ActionCreate:
				p.Actions.Create = b
			case ActionRead:
				p.Actions.Read = b
			case ActionUpdate:
				p.Actions.Update = b
			case ActionDelete:
				p.Actions.Delete = b
			}
			continue
		}
		var set ActionSet
		if err := json.Unmarshal(val, &set); err != nil {
			return fmt.Errorf("permission %q: %w", key, err)
		}
		if p.Features == nil {
			p.Features = make(map[string]ActionSet)
		}
		p.Features[key] = set
	}
	return nil
}

// Tree maps module name to its grant. A nil Tree denies everything.
type Tree map[string]Permission

// Allows reports whether the tree grants action on module. Missing module or
// unknown action fails closed.
func (t Tree) Allows(module, action string) bool {
	perm, ok := t[module]
	if !ok {
		return false
	}
	return perm.Actions.Allows(action)
}

// AllowsFeature is the two-tier check: module, then sub-feature, then action.
// Any missing level fails closed.
func (t Tree) AllowsFeature(module, feature, action string) bool {
	perm, ok := t[module]
	if !ok {
		return false
	}
	set, ok := perm.Features[feature]
	if !ok {
		return false
	}
	return set.Allows(action)
}

// Clone returns a deep copy, used to snapshot a role's tree into tokens and
// denormalized user records.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for module, perm := range t {
		cp := Permission{Actions: perm.Actions}
		if perm.Features != nil {
			cp.Features = make(map[string]ActionSet, len(perm.Features))
			for name, set := range perm.Features {
				cp.Features[name] = set
			}
		}
		out[module] = cp
	}
	return out
}

// FullAccessTree grants all four actions on every module and every
// sub-feature. Used for generated tenant-admin roles.
func FullAccessTree() Tree {
	tree := make(Tree, len(Modules))
	for _, module := range Modules {
		perm := Permission{Actions: FullAccess()}
		if features, ok := ModuleFeatures[module]; ok {
			perm.Features = make(map[string]ActionSet, len(features))
			for _, name := range features {
				perm.Features[name] = FullAccess()
			}
		}
		tree[module] = perm
	}
	return tree
}
