package errcode_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metrolab/wafersample/pkg/errcode"
)

func TestCodeSurvivesWrapping(t *testing.T) {
	base := errcode.New(errcode.NotFound, "strategy %q not found", "abc")
	wrapped := fmt.Errorf("loading strategy: %w", base)
	doubly := fmt.Errorf("handling request: %w", wrapped)

	assert.Equal(t, errcode.NotFound, errcode.CodeOf(doubly))
	assert.Equal(t, base, errcode.AsError(doubly))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := errcode.Wrap(errcode.Internal, cause, "saving schematic")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "internalError")
	assert.Contains(t, err.Error(), "disk full")
}

func TestUnknownErrorMapsToInternal(t *testing.T) {
	err := errors.New("something odd")
	assert.Equal(t, errcode.Internal, errcode.CodeOf(err))

	e := errcode.AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, errcode.Internal, e.Code)
	assert.ErrorIs(t, e, err)
}

func TestDetailsAndFieldErrors(t *testing.T) {
	err := errcode.New(errcode.ValidationError, "invalid strategy").
		WithDetail("strategyId", "abc").
		WithFieldErrors(
			errcode.FieldError{Field: "name", Message: "required"},
			errcode.FieldError{Field: "rules", Message: "at least one rule"},
		)

	assert.Equal(t, "abc", err.Details["strategyId"])
	require.Len(t, err.FieldErrors, 2)
	assert.Equal(t, "name", err.FieldErrors[0].Field)
}
