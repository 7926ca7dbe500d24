package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Transport(errors.New("connection reset"), "read stream")
	wrapped := fmt.Errorf("scan page: %w", base)

	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, ErrTransport)
	assert.NotErrorIs(t, wrapped, ErrDecode)
	assert.Equal(t, "scan page: read stream: connection reset", wrapped.Error())
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: EmptyResult("page has no text"), want: "No text found on the page"},
		{err: DirectoryLoad(errors.New("503"), "load contacts"), want: "Failed to load contacts"},
		{err: errors.New("boom"), want: "Unexpected error"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, StatusText(tc.err))
	}
}
