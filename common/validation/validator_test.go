package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type file struct {
	Path string `json:"path" validate:"required"`
}

type request struct {
	ProjectID string `json:"-"`
	Prompt    string `json:"prompt" validate:"required"`
	Files     []file `json:"files,omitempty" validate:"omitempty,dive"`
}

func TestValidate(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(&request{Prompt: "build a todo app"}))

	err := v.Validate(&request{})
	var verr *Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"prompt is required"}, verr.Fields)

	err = v.Validate(&request{Prompt: "x", Files: []file{{Path: "a.ts"}, {}}})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"files[1].path is required"}, verr.Fields)
}
