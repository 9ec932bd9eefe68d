package cerrors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigErrorFormatsMessage(t *testing.T) {
	err := NewConfigError("missing %s", "SWIM_NAME")
	assert.Equal(t, "missing SWIM_NAME", err.Error())
}

func TestAPIErrorHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		BadRequest:         http.StatusBadRequest,
		ValidationFailed:   http.StatusBadRequest,
		Unauthorized:       http.StatusUnauthorized,
		NotFound:           http.StatusNotFound,
		ServiceUnavailable: http.StatusServiceUnavailable,
		InternalError:      http.StatusInternalServerError,
	}
	for code, want := range cases {
		err := NewAPIError(code, "boom")
		assert.Equal(t, want, err.HTTPStatus(), "code %s", code)
	}
}

func TestAPIErrorWithFieldAccumulates(t *testing.T) {
	err := NewValidationError("bad request").WithField("name", "required").WithField("peers", "at least one")
	assert.Equal(t, "required", err.Fields["name"])
	assert.Equal(t, "at least one", err.Fields["peers"])
}
