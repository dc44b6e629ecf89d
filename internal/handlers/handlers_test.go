package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronagent/internal/executor"
	"cronagent/internal/handlers/httpcall"
	"cronagent/internal/handlers/logpurge"
	"cronagent/internal/handlers/shell"
)

func TestRegister(t *testing.T) {
	reg := executor.NewRegistry()
	require.NoError(t, Register(reg, Deps{}))
	for _, name := range []string{httpcall.Name, shell.Name, logpurge.Name} {
		assert.True(t, reg.Has(name), name)
	}
	assert.Error(t, Register(reg, Deps{}), "names are unique")
}
