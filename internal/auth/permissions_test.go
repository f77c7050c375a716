package auth

import (
	"encoding/json"
	"testing"
)

func TestTreeAllowsFailsClosed(t *testing.T) {
	tree := Tree{
		ModuleCrop: {Actions: ActionSet{Read: true}},
		ModuleField: {
			Actions:  ActionSet{Read: true, Update: true},
			Features: map[string]ActionSet{FeatureFieldStatusUpdate: {Update: true}},
		},
	}

	cases := []struct {
		module, action string
		want           bool
	}{
		{ModuleCrop, ActionRead, true},
		{ModuleCrop, ActionCreate, false},
		{ModuleCrop, ActionDelete, false},
		{ModuleField, ActionUpdate, true},
		{ModuleUsers, ActionRead, false},     // module absent
		{ModuleCrop, "export", false},        // unknown action
		{"Weather", ActionRead, false},       // unknown module
		{ModuleCrop, "", false},              // empty action
	}
	for _, tc := range cases {
		if got := tree.Allows(tc.module, tc.action); got != tc.want {
			t.Fatalf("Allows(%q, %q) = %v, want %v", tc.module, tc.action, got, tc.want)
		}
	}
}

func TestTreeAllowsFeature(t *testing.T) {
	tree := Tree{
		ModuleField: {
			Actions: ActionSet{Update: true},
			Features: map[string]ActionSet{
				FeatureFieldStatusUpdate: {Update: true},
			},
		},
	}

	if !tree.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("expected status update grant")
	}
	// Module-level update does not imply the feature grant.
	if tree.AllowsFeature(ModuleField, FeatureFieldCostUpdate, ActionUpdate) {
		t.Fatal("cost update must be denied without an explicit feature grant")
	}
	if tree.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionDelete) {
		t.Fatal("feature grant must not leak across actions")
	}
	if tree.AllowsFeature(ModuleCrop, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("missing module must fail closed")
	}
}

func TestNilTreeDeniesEverything(t *testing.T) {
	var tree Tree
	if tree.Allows(ModuleCrop, ActionRead) {
		t.Fatal("nil tree must deny")
	}
	if tree.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("nil tree must deny feature checks")
	}
}

func TestPermissionJSONRoundTrip(t *testing.T) {
	raw := []byte(`{
		"Crop": {"create": true, "read": true, "update": false, "delete": false},
		"Field": {
			"create": false, "read": true, "update": true, "delete": false,
			"Status Update": {"create": false, "read": false, "update": true, "delete": false},
			"Cost Update": {"create": false, "read": false, "update": false, "delete": false}
		}
	}`)

	var tree Tree
	if err := json.Unmarshal(raw, &tree); err != nil {
		t.Fatalf("unmarshal tree: %v", err)
	}
	if !tree.Allows(ModuleCrop, ActionCreate) || tree.Allows(ModuleCrop, ActionUpdate) {
		t.Fatalf("crop actions misparsed: %+v", tree[ModuleCrop])
	}
	if !tree.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("status update feature lost in parsing")
	}
	if tree.AllowsFeature(ModuleField, FeatureFieldCostUpdate, ActionUpdate) {
		t.Fatal("cost update must stay denied")
	}

	encoded, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal tree: %v", err)
	}
	var again Tree
	if err := json.Unmarshal(encoded, &again); err != nil {
		t.Fatalf("re-unmarshal tree: %v", err)
	}
	if !again.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("feature grant lost across round trip")
	}
	if again.Allows(ModuleField, ActionCreate) {
		t.Fatal("module action flipped across round trip")
	}
}

func TestPermissionUnmarshalRejectsMalformedFeature(t *testing.T) {
	var tree Tree
	err := json.Unmarshal([]byte(`{"Field": {"Status Update": "yes"}}`), &tree)
	if err == nil {
		t.Fatal("expected error for non-object feature value")
	}
}

func TestFullAccessTree(t *testing.T) {
	tree := FullAccessTree()
	for _, module := range Modules {
		for _, action := range []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete} {
			if !tree.Allows(module, action) {
				t.Fatalf("full access tree denies %s.%s", module, action)
			}
		}
	}
	if !tree.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("full access tree missing Field sub-features")
	}
	if !tree.AllowsFeature(ModuleField, FeatureFieldCostUpdate, ActionDelete) {
		t.Fatal("full access tree missing Cost Update actions")
	}
}

func TestTreeCloneIsDeep(t *testing.T) {
	orig := Tree{
		ModuleField: {
			Actions:  ActionSet{Read: true},
			Features: map[string]ActionSet{FeatureFieldStatusUpdate: {Update: true}},
		},
	}
	cp := orig.Clone()
	perm := cp[ModuleField]
	perm.Features[FeatureFieldStatusUpdate] = ActionSet{}
	cp[ModuleField] = perm

	if !orig.AllowsFeature(ModuleField, FeatureFieldStatusUpdate, ActionUpdate) {
		t.Fatal("mutating the clone leaked into the original")
	}
	if Tree(nil).Clone() != nil {
		t.Fatal("nil clone must stay nil")
	}
}
