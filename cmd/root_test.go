package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goecho/config"
	ecerr "goecho/internal/errors"
	"goecho/util"
)

// syncBuffer lets the server goroutine and the test share stderr.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := execute(context.Background(), args, &out, &errOut)
	return out.String(), err
}

func TestExecute_Version(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "goecho "+version+"\n", out)
}

func TestExecute_Help(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "--connect")
}

func TestExecute_DefaultPort(t *testing.T) {
	out, err := run(t, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would listen on :8080")
	assert.Contains(t, out, `quit="quit"`)
}

func TestExecute_PositionalPort(t *testing.T) {
	out, err := run(t, "9000", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would listen on :9000")
}

func TestExecute_InvalidPort(t *testing.T) {
	for _, arg := range []string{"0", "70000", "http"} {
		t.Run(arg, func(t *testing.T) {
			_, err := run(t, arg, "--dry-run")
			var ce *ecerr.ConfigError
			require.True(t, ecerr.As(err, &ce), "want ConfigError, got %v", err)
			assert.Equal(t, "port", ce.Field)
		})
	}
}

func TestExecute_TooManyArguments(t *testing.T) {
	_, err := run(t, "8080", "8081")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many arguments")
}

func TestExecute_InvalidFlags(t *testing.T) {
	_, err := run(t, "--nonexistent-flag")
	assert.Error(t, err)
}

func TestExecute_ClientDryRun(t *testing.T) {
	out, err := run(t, "-C", "echo.internal", "-r", "3", "-T", "ops@bastion", "7", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would connect to echo.internal:7 via ssh bastion:22")
	assert.Contains(t, out, "attempts=3")
}

func TestExecute_ClientHostPort(t *testing.T) {
	out, err := run(t, "-C", "echo.internal:9000", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would connect to echo.internal:9000 via direct")
}

func TestExecute_TunnelNeedsClientMode(t *testing.T) {
	_, err := run(t, "-T", "ops@bastion", "--dry-run")
	var ce *ecerr.ConfigError
	require.True(t, ecerr.As(err, &ce), "want ConfigError, got %v", err)
	assert.Equal(t, "tunnel", ce.Field)
	assert.Contains(t, ce.Error(), "-C")
}

func TestExecute_EnvAndFlagPrecedence(t *testing.T) {
	t.Setenv("GOECHO_PORT", "7000")
	t.Setenv("GOECHO_QUIT", "bye")

	out, err := run(t, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, ":7000")
	assert.Contains(t, out, `quit="bye"`)

	out, err = run(t, "7100", "-q", "stop", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, ":7100")
	assert.Contains(t, out, `quit="stop"`)
}

func TestExecute_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goecho.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 6000\nquit: bye\ntimeout: 2s\n"), 0o600))

	for _, args := range [][]string{
		{"--config", path, "--dry-run"},
		{"--config=" + path, "--dry-run"},
	} {
		out, err := run(t, args...)
		require.NoError(t, err)
		assert.Contains(t, out, ":6000")
		assert.Contains(t, out, `quit="bye"`)
		assert.Contains(t, out, "timeout=2s")
	}

	t.Setenv("GOECHO_CONFIG", path)
	t.Setenv("GOECHO_PORT", "6100")
	out, err := run(t, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, ":6100", "env overrides the file")
}

func TestExecute_BadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prot: 1\n"), 0o600))

	_, err := run(t, "--config", path, "--dry-run")
	var ce *ecerr.ConfigError
	require.True(t, ecerr.As(err, &ce), "want ConfigError, got %v", err)
	assert.Equal(t, "config", ce.Field)
}

func TestExecute_BindError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	_, port, err := util.SplitAddr(occupied.Addr().String())
	require.NoError(t, err)

	_, err = run(t, "-s", "127.0.0.1", strconv.Itoa(port))
	var be *ecerr.BindError
	require.True(t, ecerr.As(err, &be), "want BindError, got %v", err)
}

// freePort returns a loopback port that nothing is listening on.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestExecute_ServesOneSession(t *testing.T) {
	port := freePort(t)
	addr := util.FormatAddr("127.0.0.1", port)

	var out bytes.Buffer
	errOut := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- execute(context.Background(),
			[]string{"-s", "127.0.0.1", "--stats", strconv.Itoa(port)}, &out, errOut)
	}()

	var (
		conn net.Conn
		err  error
	)
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp", addr)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = io.WriteString(conn, "hello\nquit\n")
	require.NoError(t, err)
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not exit after the quit line")
	}
	assert.Contains(t, errOut.String(), `"sessions_total": 1`)
	assert.Contains(t, errOut.String(), `"sentinels": 1`)
}

func TestNewLogger_JSONCarriesTimestamp(t *testing.T) {
	cfg := config.Default()
	cfg.Verbose = 1
	cfg.LogJSON = true

	var buf bytes.Buffer
	newLogger(cfg, &buf).Info("listening")

	var entry map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "%q", buf.String())
	assert.Equal(t, "listening", entry["msg"])
	assert.NotEmpty(t, entry["ts"])

	buf.Reset()
	cfg.LogJSON = false
	newLogger(cfg, &buf).Info("listening")
	assert.Equal(t, "[INF] listening\n", buf.String())
}

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"--config", "a.yaml"}, "a.yaml"},
		{[]string{"-v", "--config=b.yaml", "9000"}, "b.yaml"},
		{[]string{"--config"}, ""},
		{[]string{"--", "--config", "c.yaml"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, configPathFromArgs(tt.args), "%v", tt.args)
	}
}
