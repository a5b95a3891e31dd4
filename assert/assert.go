// Package assert keeps the label-last assertion style used across the
// test suite on top of testify.
package assert

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Equal compares two values, converting between numeric types
func Equal(t *testing.T, expected, actual any, label string) {
	t.Helper()
	assert.EqualValues(t, expected, actual, label)
}

// NotEqual checks that two values are not equal
func NotEqual(t *testing.T, unexpected, actual any, label string) {
	t.Helper()
	assert.NotEqualValues(t, unexpected, actual, label)
}

// NotNil fails if value is nil or an empty slice/map
func NotNil(t *testing.T, value any, label string) {
	t.Helper()
	if isCollection(value) {
		assert.NotEmpty(t, value, label)
		return
	}
	assert.NotNil(t, value, label)
}

// Nil fails if value is not nil. Empty slices and maps count as nil.
func Nil(t *testing.T, value any, label string) {
	t.Helper()
	if isCollection(value) {
		assert.Empty(t, value, label)
		return
	}
	assert.Nil(t, value, label)
}

func isCollection(value any) bool {
	if value == nil {
		return false
	}
	switch reflect.ValueOf(value).Kind() {
	case reflect.Slice, reflect.Map, reflect.Chan:
		return true
	}
	return false
}

// True fails if value is not true
func True(t *testing.T, value bool, label string) {
	t.Helper()
	assert.True(t, value, label)
}

// False fails if value is not false
func False(t *testing.T, value bool, label string) {
	t.Helper()
	assert.False(t, value, label)
}

// Len checks the length and stops the test on mismatch, so indexing after it is safe
func Len(t *testing.T, expected int, collection any, label string) {
	t.Helper()
	require.Len(t, collection, expected, label)
}

// Contains checks if a string contains a substring
func Contains(t *testing.T, haystack, needle string, label string) {
	t.Helper()
	assert.Contains(t, haystack, needle, label)
}

// NotContains checks if a string does not contain a substring
func NotContains(t *testing.T, haystack, needle string, label string) {
	t.Helper()
	assert.NotContains(t, haystack, needle, label)
}

// Error checks that an error is not nil
func Error(t *testing.T, err error, label string) {
	t.Helper()
	assert.Error(t, err, label)
}

// ErrorIs checks that err wraps target
func ErrorIs(t *testing.T, err, target error, label string) {
	t.Helper()
	assert.ErrorIs(t, err, target, label)
}

// NoError checks that an error is nil
func NoError(t *testing.T, err error, label string) {
	t.Helper()
	assert.NoError(t, err, label)
}

// Greater checks that actual > expected
func Greater(t *testing.T, actual, expected int, label string) {
	t.Helper()
	assert.Greater(t, actual, expected, label)
}

// GreaterOrEqual checks that actual >= expected
func GreaterOrEqual(t *testing.T, actual, expected int, label string) {
	t.Helper()
	assert.GreaterOrEqual(t, actual, expected, label)
}

// Less checks that actual < expected
func Less(t *testing.T, actual, expected int, label string) {
	t.Helper()
	assert.Less(t, actual, expected, label)
}

// LessOrEqual checks that actual <= expected
func LessOrEqual(t *testing.T, actual, expected int, label string) {
	t.Helper()
	assert.LessOrEqual(t, actual, expected, label)
}
