package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args. Flag values live in
// package variables, so every flag is reset to its default first.
func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	resetFlags(rootCmd)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// writeConfig writes doc as the config file in a temp dir and returns its path
func writeConfig(t *testing.T, doc map[string]interface{}) string {
	t.Helper()

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "alzassist.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// fakeAgentScript writes an executable that reports its input, arguments
// and credentials on stdout and one line on stderr
func fakeAgentScript(t *testing.T) string {
	t.Helper()

	script := `#!/bin/sh
input=$(cat)
echo "working on it" >&2
echo "input=$input"
echo "args=$*"
echo "token=$ANTHROPIC_AUTH_TOKEN"
echo "base=$ANTHROPIC_BASE_URL"
`
	path := filepath.Join(t.TempDir(), "fake-claude")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// isolateCredentials restores the credential variables the commands export
func isolateCredentials(t *testing.T) {
	t.Helper()
	for _, name := range []string{envAuthToken, envBaseURL, envModel} {
		t.Setenv(name, "")
	}
}
