package yamlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renderSection struct {
	Slots   string `yaml:"slots"`
	Timeout int    `yaml:"timeout"`
}

type sample struct {
	Listen string        `yaml:"listen"`
	Render renderSection `yaml:"render"`
}

func TestUnmarshalStrict(t *testing.T) {
	var s sample
	require.NoError(t, UnmarshalStrict([]byte("listen: \":8000\"\nrender:\n  slots: auto\n"), &s))
	assert.Equal(t, ":8000", s.Listen)
	assert.Equal(t, "auto", s.Render.Slots)
}

func TestUnmarshalStrict_UnknownField(t *testing.T) {
	var s sample
	err := UnmarshalStrict([]byte("listen: \":8000\"\nrender:\n  slot: 2\n"), &s)
	require.Error(t, err)
	assert.Equal(t, `line 3: unknown field "slot" (check for typos)`, err.Error())
}

func TestUnmarshalStrict_TypeMismatch(t *testing.T) {
	var s sample
	err := UnmarshalStrict([]byte("render:\n  timeout: soon\n"), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.NotContains(t, err.Error(), "check for typos")
}

func TestUnmarshalStrict_Empty(t *testing.T) {
	var s sample
	assert.ErrorIs(t, UnmarshalStrict([]byte(""), &s), ErrEmpty)
}

func TestUnmarshalStrict_MultipleDocuments(t *testing.T) {
	var s sample
	err := UnmarshalStrict([]byte("listen: \":8000\"\n---\nlisten: \":9000\"\n"), &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single YAML document")
}
