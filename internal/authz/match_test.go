package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPermission(t *testing.T) {
	tests := []struct {
		granted  string
		required string
		want     bool
	}{
		{"a:b:c", "a:b:c", true},
		{"a:b:c", "a:b:d", false},
		{"*:b:c", "x:b:c", true},
		{"*:b:c", "x:y:c", false},
		{"a:b:*", "a:b:z", true},
		{"a:*:c", "a:anything:c", true},
		{"*:*:*", "users:delete:tenant", true},
		{"a:b:c", "a:b", false},       // wrong arity
		{"a:b", "a:b:c", false},       // wrong arity
		{"a:b:c:d", "a:b:c", false},   // wrong arity
		{"users:read:tenant", "users:read:tenant", true},
		{"users:*:tenant", "users:write:tenant", true},
		{"metrics:read:*", "metrics:read:global", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchPermission(tt.granted, tt.required),
			"granted=%q required=%q", tt.granted, tt.required)
	}
}

func TestValidPermission(t *testing.T) {
	assert.True(t, ValidPermission("users:read:tenant"))
	assert.True(t, ValidPermission("*:*:*"))
	assert.False(t, ValidPermission("users:read"))
	assert.False(t, ValidPermission("users::tenant"))
	assert.False(t, ValidPermission(""))
	assert.False(t, ValidPermission("a:b:c:d"))
}
