package shoperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_CodeMatching(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(CodeRetrievalUnavailable, base)

	assert.True(t, errors.Is(err, New(CodeRetrievalUnavailable)))
	assert.False(t, errors.Is(err, New(CodeGenerationFailure)))
	assert.True(t, errors.Is(err, base))
}

func TestError_WrappedThroughFmt(t *testing.T) {
	err := fmt.Errorf("graph: %w", New(CodeGenerationFailure))

	assert.Equal(t, CodeGenerationFailure, CodeOf(err))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusOf(err))
}

func TestCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(errors.New("boom")))
}

func TestHTTPStatuses(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidationFailure, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeGenerationFailure, http.StatusBadGateway},
		{CodeSessionStoreUnavailable, http.StatusServiceUnavailable},
		{CodeRetrievalUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, New(tt.code).HTTPStatus())
		})
	}
}

func TestNumericCodesAreStable(t *testing.T) {
	assert.Equal(t, 1001, New(CodeClassificationFailure).NumericCode())
	assert.Equal(t, 1005, New(CodeValidationFailure).NumericCode())
}
