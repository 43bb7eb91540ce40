package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the command tree against a config pointing at dir.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfg := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(cfg); os.IsNotExist(err) {
		data := fmt.Sprintf("[database]\npath = %q\n\n[log]\nlevel = \"error\"\n", filepath.Join(dir, "data"))
		require.NoError(t, os.WriteFile(cfg, []byte(data), 0600))
	}

	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores defaults; cobra keeps parsed values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestAccountLifecycle(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "account", "open", "u1")
	require.NoError(t, err)

	_, err = run(t, dir, "account", "bonus", "u1")
	require.NoError(t, err)

	_, err = run(t, dir, "points", "credit", "u1", "30")
	require.NoError(t, err)

	_, err = run(t, dir, "points", "debit", "u1", "60", "--type", "service_purchase")
	require.NoError(t, err)

	out, err := run(t, dir, "account", "balance", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": "20"`)

	out, err = run(t, dir, "account", "reconcile", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, `"consistent": true`)
}

func TestPointsDebit_Insufficient(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "account", "open", "u1")
	require.NoError(t, err)

	_, err = run(t, dir, "points", "debit", "u1", "5")
	assert.Error(t, err)

	_, err = run(t, dir, "points", "debit", "u1", "5", "--incoming", "--type", "request_received")
	assert.NoError(t, err)
}

func TestPointsCredit_BadAmount(t *testing.T) {
	_, err := run(t, t.TempDir(), "points", "credit", "u1", "lots")
	assert.Error(t, err)
}

func TestSpecialistCommands(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "account", "open", "acc-s1")
	require.NoError(t, err)
	_, err = run(t, dir, "points", "credit", "acc-s1", "25", "--type", "package_purchase")
	require.NoError(t, err)

	out, err := run(t, dir, "specialist", "set", "s1", "--account", "acc-s1", "--name", "Ana", "--verified")
	require.NoError(t, err)
	assert.Contains(t, out, "visible: true")

	out, err = run(t, dir, "specialist", "limits", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, `"requests_available": "2"`)

	out, err = run(t, dir, "specialist", "list")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "s1"), out)
}

func TestSweep_NothingToExpire(t *testing.T) {
	out, err := run(t, t.TempDir(), "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "Sweep ok: 0 expired")
}
