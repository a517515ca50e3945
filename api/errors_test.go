package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetValidator_RegistersAmountRules(t *testing.T) {
	// GIVEN: the shared validator builds without panicking
	require.NotPanics(t, func() { getValidator() })
	v := getValidator()

	// THEN: both custom amount tags are enforced
	assert.Error(t, v.Var("0", "positive_amount"))
	assert.Error(t, v.Var("abc", "positive_amount"))
	assert.NoError(t, v.Var("0.01", "positive_amount"))
	assert.Error(t, v.Var("-0.01", "nonnegative_amount"))
	assert.NoError(t, v.Var("0", "nonnegative_amount"))
}
