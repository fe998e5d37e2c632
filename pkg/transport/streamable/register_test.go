//go:build !nostreamable

package streamable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/transcript-mcp/pkg/transport"
)

func TestRegisteredWithProbe(t *testing.T) {
	f, err := transport.NewProbe(nil).Optional()
	require.NoError(t, err)
	assert.Equal(t, Name, f.Name())
}
