package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ezmcp/pkg/ezmcp/protocol"
	"ezmcp/pkg/ezmcp/schema"
)

func noopHandler() protocol.ToolHandler {
	return protocol.ToolHandlerFunc(func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
		return protocol.NewTextContent("ok"), nil
	})
}

func mustDescriptor(t *testing.T, name string, params ...schema.Param) *schema.ToolDescriptor {
	t.Helper()
	d, err := schema.NewToolDescriptor(name, "test tool", params)
	require.NoError(t, err)
	return d
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	err := r.Register(mustDescriptor(t, "echo"), noopHandler())
	require.NoError(t, err)

	entry, err := r.Lookup("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", entry.Descriptor.Name)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(mustDescriptor(t, "echo"), noopHandler()))

	first, err := r.Lookup("echo")
	require.NoError(t, err)

	err = r.Register(mustDescriptor(t, "echo"), noopHandler())
	require.Error(t, err)

	var dup *DuplicateToolError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "echo", dup.Tool)

	// First registration stays active
	entry, err := r.Lookup("echo")
	require.NoError(t, err)
	assert.Same(t, first, entry)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryLookupUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup("missing")
	require.Error(t, err)

	var notFound *ToolNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "missing", notFound.Tool)
}

func TestRegistryListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Register(mustDescriptor(t, name), noopHandler()))
	}

	entries := r.List()
	require.Len(t, entries, 3)
	assert.Equal(t, "zeta", entries[0].Descriptor.Name)
	assert.Equal(t, "alpha", entries[1].Descriptor.Name)
	assert.Equal(t, "mid", entries[2].Descriptor.Name)

	tools := r.Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, "zeta", tools[0].Name)
	assert.Equal(t, "mid", tools[2].Name)
}

func TestRegistryRejectsNilHandler(t *testing.T) {
	r := NewRegistry()
	err := r.Register(mustDescriptor(t, "echo"), nil)
	require.Error(t, err)
}
