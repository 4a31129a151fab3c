package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadErrorMessageListsMissingColumns(t *testing.T) {
	err := &LoadError{Reason: "missing required columns", Missing: []string{"GHG", "Unit"}}
	assert.Equal(t, "load dataset: missing required columns: GHG, Unit", err.Error())
}

func TestErrorKindsUnwrap(t *testing.T) {
	base := errors.New("boom")

	var le *LoadError
	assert.True(t, errors.As(fmt.Errorf("upload: %w", &LoadError{Reason: "x", Err: base}), &le))
	assert.ErrorIs(t, le, base)

	var re *RetrievalError
	assert.True(t, errors.As(&RetrievalError{Op: "search", Err: ErrNotInitialized}, &re))
	assert.ErrorIs(t, re, ErrNotInitialized)

	he := &HostedModelError{Op: "generate", StatusCode: 503, Err: base}
	assert.Equal(t, "hosted model generate: status 503: boom", he.Error())
	assert.ErrorIs(t, he, base)
}
