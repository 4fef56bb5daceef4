package repository

import (
	"testing"

	"project_atendimento/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTableName(t *testing.T) {
	t.Parallel()

	got, err := ValidateTableName("Yelena AI Conversas")
	require.NoError(t, err)
	assert.Equal(t, "yelena_ai_conversas", got)

	got, err = ValidateTableName("loja-centro_conversas")
	require.NoError(t, err)
	assert.Equal(t, "loja_centro_conversas", got)

	got, err = ValidateTableName("x; DROP TABLE channels")
	require.NoError(t, err)
	assert.Equal(t, "x_drop_table_channels", got)

	for _, bad := range []string{"", "!!!", "1abc", "channels", "instance_mappings"} {
		_, err := ValidateTableName(bad)
		assert.ErrorIs(t, err, entities.ErrInvalidContent, bad)
	}
}

func TestValidateTableNameLength(t *testing.T) {
	t.Parallel()

	long := "a"
	for len(long) < 64 {
		long += "a"
	}
	_, err := ValidateTableName(long)
	assert.Error(t, err)
	_, err = ValidateTableName(long[:63])
	assert.NoError(t, err)
}
