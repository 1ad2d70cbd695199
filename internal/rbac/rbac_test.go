package rbac

import "testing"

func TestCanApply(t *testing.T) {
	cases := []struct {
		role      Role
		operation string
		target    string
		want      bool
	}{
		{RoleAdmin, "add", "block", true},
		{RoleAdmin, "remove", "subflow", true},
		{RoleEditor, "add", "block", true},
		{RoleEditor, "update", "edge", true},
		{RoleEditor, "remove", "subflow", true},
		{RoleEditor, "add", "workflow", false},
		{RoleViewer, "add", "block", false},
		{RoleViewer, "update", "edge", false},
		{Role("unknown"), "add", "block", false},
	}
	for _, tc := range cases {
		if got := CanApply(tc.role, tc.operation, tc.target); got != tc.want {
			t.Errorf("CanApply(%s, %s, %s) = %v, want %v", tc.role, tc.operation, tc.target, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("editor") != RoleEditor {
		t.Error("editor should normalize to itself")
	}
	if Normalize("admin") != RoleAdmin {
		t.Error("admin should normalize to itself")
	}
	if Normalize("owner") != RoleViewer {
		t.Error("unknown roles should fall back to viewer")
	}
	if Normalize("") != RoleViewer {
		t.Error("empty role should fall back to viewer")
	}
}
