package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "partnerhub/pkg/domain-errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"normalizes case and space", "  Ada.Lovelace@Example.COM ", "ada.lovelace@example.com", false},
		{"empty", "", "", true},
		{"missing domain", "ada@", "", true},
		{"display name rejected", "Ada <ada@example.com>", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("A@Example.com", " a@example.com"))
	assert.False(t, Equal("a@example.com", "b@example.com"))
}

func TestDeriveDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", DeriveDisplayName("ada.lovelace@example.com"))
	assert.Equal(t, "Partner", DeriveDisplayName("@example.com"))
	assert.Equal(t, "Grace", DeriveDisplayName("grace_hopper@example.com"))
}
