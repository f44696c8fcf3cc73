package domain

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		value string
		want  Role
		ok    bool
	}{
		{"ADMIN", RoleAdmin, true},
		{"super_admin", RoleSuperAdmin, true},
		{" FRANCHISE ", RoleFranchise, true},
		{"", RoleUnspecified, false},
		{"OWNER", RoleUnspecified, false},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.value)
		if tt.ok && err != nil {
			t.Fatalf("parse role %q: %v", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("expected error for role %q", tt.value)
		}
		if got != tt.want {
			t.Fatalf("role %q: expected %v, got %v", tt.value, tt.want, got)
		}
	}
}

func TestActorValidate(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		err   error
	}{
		{name: "admin", actor: Actor{Subject: "op1", Role: RoleAdmin}},
		{name: "super admin", actor: Actor{Subject: "op2", Role: RoleSuperAdmin}},
		{name: "franchise bound", actor: Actor{Subject: "op3", Role: RoleFranchise, FranchiseID: "fr1"}},
		{name: "franchise unbound", actor: Actor{Subject: "op4", Role: RoleFranchise}, err: ErrFranchiseActorUnbound},
		{name: "missing role", actor: Actor{Subject: "op5"}, err: ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.Validate()
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
		})
	}
}

func TestFranchiseLocked(t *testing.T) {
	if (Actor{Role: RoleAdmin}).FranchiseLocked() {
		t.Fatal("admin should not be franchise locked")
	}
	if !(Actor{Role: RoleFranchise, FranchiseID: "fr1"}).FranchiseLocked() {
		t.Fatal("franchise actor should be franchise locked")
	}
}
