package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "user@example.com", NormalizeAddress(" user@Example.COM "))
	assert.Equal(t, "User.Name@example.com", NormalizeAddress("User.Name@EXAMPLE.com"),
		"local part casing is preserved")
	assert.Equal(t, "user@example.com", NormalizeAddress("Some One <user@example.com>"))
	assert.Empty(t, NormalizeAddress(""))
	assert.Empty(t, NormalizeAddress("not-an-address"))
	assert.Empty(t, NormalizeAddress("a@"))
}

func TestNormalizeAddresses(t *testing.T) {
	t.Parallel()

	got := NormalizeAddresses([]string{"a@Example.com", "junk", "", "b@test.org"})
	assert.Equal(t, []string{"a@example.com", "b@test.org"}, got)
}
