package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleLog = `{"remote_addr":"10.0.0.1","status":200}
{"remote_addr":"10.0.0.2","status":404}
not json at all
{"remote_addr":"10.0.0.1","status":200}

{"status":500}
{"remote_addr":"","status":200}
{"remote_addr":null}
{"request":{"remote_addr":"192.168.1.7"},"remote_addr":"10.0.0.3"}
{"remote_addr":"10.0.0.4"
{"remote_addr":0}
{"remote_addr":false}
{"remote_addr":[]}
{"remote_addr":{"ip":"10.0.0.5"}}
`

func TestReaderLoad(t *testing.T) {
	values, stats, err := NewReader("").Load(context.Background(), strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.1", "10.0.0.3"}, values)
	require.Equal(t, Stats{Lines: 13, Malformed: 2, Missing: 7, Values: 4}, stats)
}

func TestReaderNestedField(t *testing.T) {
	values, stats, err := NewReader("request.remote_addr").Load(context.Background(), strings.NewReader(sampleLog))
	require.NoError(t, err)
	require.Equal(t, []string{"192.168.1.7"}, values)
	require.Equal(t, 10, stats.Missing)
}

func TestReaderEachStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	seen := 0
	stats, err := NewReader(DefaultField).Each(context.Background(), strings.NewReader(sampleLog), func(string) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 2, stats.Values)
}

func TestReaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewReader("").Load(ctx, strings.NewReader(sampleLog))
	require.ErrorIs(t, err, context.Canceled)
}

func TestReaderSkipsOverlongLines(t *testing.T) {
	junk := strings.Repeat("x", maxLineSize+10)
	input := `{"remote_addr":"10.0.0.1"}` + "\n" + junk + "\n" + `{"remote_addr":"10.0.0.2"}` + "\n" + junk
	values, stats, err := NewReader("").Load(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, values)
	require.Equal(t, Stats{Lines: 4, Malformed: 2, Values: 2}, stats)
}

func TestReaderKeepsLinesAtTheLimit(t *testing.T) {
	prefix, suffix := `{"remote_addr":"`, `"}`
	addr := strings.Repeat("a", maxLineSize-len(prefix)-len(suffix))
	values, stats, err := NewReader("").Load(context.Background(), strings.NewReader(prefix+addr+suffix+"\n"))
	require.NoError(t, err)
	require.Equal(t, []string{addr}, values)
	require.Equal(t, 0, stats.Malformed)
}

func TestReaderLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o600))

	values, stats, err := NewReader("").LoadFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, values, 4)
	require.Equal(t, 2, stats.Malformed)

	_, _, err = NewReader("").LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.log"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}
