package shell

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceEnvVars(t *testing.T) {
	t.Setenv("ACP_PASSWORD", "secret")

	s := ReplaceEnvVars("password: ${ACP_PASSWORD}")
	require.Equal(t, "password: secret", s)

	s = ReplaceEnvVars("listen: ${ACP_LISTEN::5009}")
	require.Equal(t, "listen: :5009", s)

	s = ReplaceEnvVars("name: ${ACP_MISSING}")
	require.Equal(t, "name: ${ACP_MISSING}", s)
}
