package user

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeForURL(t *testing.T) {
	require.Equal(t, "a_b_c_d_e", SanitizeForURL("a;b/c?d@e"))
	require.Equal(t, "jane_doe", SanitizeForURL("jane.doe"))
	require.Equal(t, "plain", SanitizeForURL("plain"))
}

func TestNormalizeUserID(t *testing.T) {
	require.Equal(t, "jane_doe", NormalizeUserID("  Jane Doe "))
	require.Equal(t, "a_b", NormalizeUserID("A-B"))
	require.Equal(t, "", NormalizeUserID("   "))
}

func TestGenerateUserID(t *testing.T) {
	id, err := GenerateUserID("Jane Q. Public")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^janeq_p_[0-9a-f]{16}$`), id)

	short, err := GenerateUserID("Al")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^al_[0-9a-f]{16}$`), short)

	other, err := GenerateUserID("Al")
	require.NoError(t, err)
	require.NotEqual(t, short, other)
}

func TestCheckPasswordPolicy(t *testing.T) {
	require.NoError(t, CheckPasswordPolicy("Passw0rd!"))
	for _, weak := range []string{"Pa0!", "password1!", "PASSWORD!!", "Password1", ""} {
		require.ErrorIs(t, CheckPasswordPolicy(weak), errWeakPassword, weak)
	}
}
