package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	t.Run("registers the expected subcommands", func(t *testing.T) {
		names := make(map[string]bool)
		for _, cmd := range GetRootCmd().Commands() {
			names[cmd.Name()] = true
		}
		assert.True(t, names["serve"])
		assert.True(t, names["status"])
	})

	t.Run("version flag prints the version", func(t *testing.T) {
		root := GetRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetArgs([]string{"--version"})

		require.NoError(t, root.Execute())
		assert.Contains(t, out.String(), version)
	})

	t.Run("persistent flags are defined", func(t *testing.T) {
		flags := GetRootCmd().PersistentFlags()
		assert.NotNil(t, flags.Lookup("config"))
		assert.NotNil(t, flags.Lookup("log-level"))
	})
}
