package callkittest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LukasParke/callkit"
)

// AssertErrorStatus asserts that err is a callkit error with the given
// status and message. An empty message is not checked.
func AssertErrorStatus(t testing.TB, err error, status int, message string) *callkit.Error {
	t.Helper()
	var e *callkit.Error
	require.True(t, errors.As(err, &e), "expected *callkit.Error, got %T: %v", err, err)
	assert.Equal(t, status, e.Status, "status")
	if message != "" {
		assert.Equal(t, message, e.Message, "message")
	}
	return e
}

// AssertOutcome asserts the kind and status of an outcome.
func AssertOutcome(t testing.TB, out callkit.Outcome, kind callkit.OutcomeKind, status int) {
	t.Helper()
	assert.Equal(t, kind, out.Kind, "outcome kind")
	assert.Equal(t, status, out.Status, "outcome status")
}

// AssertJSONBody asserts that the outcome body is JSON equal to want.
func AssertJSONBody(t testing.TB, out callkit.Outcome, want string) {
	t.Helper()
	require.True(t, json.Valid(out.Body), "body is not JSON: %q", out.Body)
	assert.JSONEq(t, want, string(out.Body))
}
