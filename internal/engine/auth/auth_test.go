package auth

import "testing"

func TestRoleAtLeast(t *testing.T) {
	cases := []struct {
		role, required string
		want           bool
	}{
		{RoleAgent, RoleManager, false},
		{RoleViewer, RoleAgent, false},
		{RoleManager, RoleManager, true},
		{RoleAdmin, RoleManager, true},
		{"Admin ", RoleAdmin, true},
		{"", RoleViewer, false},
		{"root", RoleViewer, false},
	}
	for _, tc := range cases {
		if got := RoleAtLeast(tc.role, tc.required); got != tc.want {
			t.Fatalf("RoleAtLeast(%q, %q) = %v", tc.role, tc.required, got)
		}
	}
	if Level(RoleViewer) >= Level(RoleAgent) || Level(RoleManager) >= Level(RoleAdmin) {
		t.Fatalf("role ordering broken")
	}
}
