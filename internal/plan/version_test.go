package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompatibleAcrossMinorPatch(t *testing.T) {
	require.NoError(t, checkVersionCompatible("1.0.0"))
	require.NoError(t, checkVersionCompatible("1.9.3"))
}

func TestVersionIncompatibleAcrossMajor(t *testing.T) {
	err := checkVersionCompatible("2.0.0")
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrVersionMismatch, pe.Code)
}

func TestVersionMalformedRejected(t *testing.T) {
	err := checkVersionCompatible("not-a-version")
	require.Error(t, err)
}
