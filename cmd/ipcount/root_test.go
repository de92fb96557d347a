package main

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kwertop/hllcount/count"
)

const accessLog = `{"remote_addr":"10.0.0.1","client":"a","request":"GET /"}
{"remote_addr":"10.0.0.2","client":"b","request":"GET /login"}
{broken
{"remote_addr":"10.0.0.1","client":"c","request":"GET /"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := BuildRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// uniqueRow returns the exact and estimated columns of the report.
func uniqueRow(t *testing.T, out string) (string, string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3, out)
	require.True(t, strings.HasPrefix(lines[0], "Method"))
	require.True(t, strings.HasPrefix(lines[2], "Execution time (sec.)"))
	fields := strings.Fields(lines[1])
	require.Len(t, fields, 4, lines[1])
	return fields[2], fields[3]
}

func TestRootDefaults(t *testing.T) {
	out, err := execute(t, writeLog(t, accessLog))
	require.NoError(t, err)
	exact, estimate := uniqueRow(t, out)
	require.Equal(t, "2", exact)
	require.Equal(t, "11817", estimate)
}

func TestRootSmallPrecision(t *testing.T) {
	path := writeLog(t, accessLog)
	for _, args := range [][]string{
		{"--precision", "4", path},
		{"--precision", "4", "--workers", "3", path},
	} {
		out, err := execute(t, args...)
		require.NoError(t, err)
		exact, estimate := uniqueRow(t, out)
		require.Equal(t, "2", exact)
		require.Equal(t, "11", estimate, "args %v", args)
	}
}

func TestRootTiered(t *testing.T) {
	out, err := execute(t, "--tiered", writeLog(t, accessLog))
	require.NoError(t, err)
	_, estimate := uniqueRow(t, out)
	require.Equal(t, "2", estimate)
}

func TestRootRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	out, err := execute(t, "--precision", "4", "--redis-url", "redis://"+mr.Addr(), writeLog(t, accessLog))
	require.NoError(t, err)
	_, estimate := uniqueRow(t, out)
	require.Equal(t, "11", estimate)
	require.Empty(t, mr.Keys(), "the sketch is removed after the run")
}

func TestRootXXH3(t *testing.T) {
	out, err := execute(t, "--hash", "xxh3", writeLog(t, accessLog))
	require.NoError(t, err)
	exact, _ := uniqueRow(t, out)
	require.Equal(t, "2", exact)

	_, err = execute(t, "--hash", "md5", writeLog(t, accessLog))
	require.Error(t, err)
}

func TestRootConfigFile(t *testing.T) {
	config := filepath.Join(t.TempDir(), "ipcount.yaml")
	require.NoError(t, os.WriteFile(config, []byte("field: client\nprecision: 4\n"), 0o600))

	out, err := execute(t, "--config", config, writeLog(t, accessLog))
	require.NoError(t, err)
	exact, _ := uniqueRow(t, out)
	require.Equal(t, "3", exact)
}

func TestRootEnvironment(t *testing.T) {
	t.Setenv("IPCOUNT_PRECISION", "20")
	_, err := execute(t, writeLog(t, accessLog))
	require.ErrorIs(t, err, count.ErrInvalidPrecision)
}

func TestRootMissingFile(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "nope.log"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRootNoAddresses(t *testing.T) {
	_, err := execute(t, writeLog(t, "{broken\n{\"status\":200}\n"))
	require.ErrorIs(t, err, errNoAddresses)
}

func TestRootRequiresOneFile(t *testing.T) {
	_, err := execute(t)
	require.Error(t, err)
}
