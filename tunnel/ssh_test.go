package tunnel

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	ecerr "goecho/internal/errors"
	"goecho/util"
)

// startGateway runs an in-process SSH server that accepts only the
// authorized key and forwards direct-tcpip channels.
func startGateway(t *testing.T, authorized ssh.PublicKey) (string, int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveGateway(conn, cfg)
		}
	}()

	host, port, err := util.SplitAddr(ln.Addr().String())
	require.NoError(t, err)
	return host, port
}

func serveGateway(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			nc.Reject(ssh.UnknownChannelType, "unsupported") //nolint:errcheck
			continue
		}
		var dest struct {
			DestAddr string
			DestPort uint32
			OrigAddr string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &dest); err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(dest.DestAddr, strconv.Itoa(int(dest.DestPort))))
		if err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			io.Copy(ch, target) //nolint:errcheck
			ch.Close()
		}()
		go func() {
			io.Copy(target, ch) //nolint:errcheck
			target.Close()
		}()
	}
}

// startLineEcho echoes every line on a single accepted connection.
func startLineEcho(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			io.WriteString(conn, line) //nolint:errcheck
		}
	}()
	return ln.Addr().String()
}

func TestSSHTunnel_DialThroughGateway(t *testing.T) {
	host, port := startGateway(t, testSigner(t).PublicKey())
	target := startLineEcho(t)

	keyPath := filepath.Join(t.TempDir(), "id_test")
	writeTestKey(t, keyPath)

	tun := NewSSHTunnel(&SSHConfig{
		User:    "tester",
		Host:    host,
		Port:    port,
		KeyPath: keyPath,
	}, util.NewLogger(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, tun.Connect(ctx))
	assert.True(t, tun.IsAlive())

	conn, err := tun.Dial(ctx, "tcp", target)
	require.NoError(t, err)
	defer conn.Close()

	_, err = io.WriteString(conn, "hello\n")
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "hello\n", line)

	require.NoError(t, tun.Close())
	assert.False(t, tun.IsAlive())
}

func TestSSHTunnel_RejectedKey(t *testing.T) {
	other, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, err := ssh.NewPublicKey(other)
	require.NoError(t, err)

	host, port := startGateway(t, otherPub)

	keyPath := filepath.Join(t.TempDir(), "id_test")
	writeTestKey(t, keyPath)

	tun := NewSSHTunnel(&SSHConfig{
		User:    "tester",
		Host:    host,
		Port:    port,
		KeyPath: keyPath,
	}, util.NewLogger(0))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = tun.Connect(ctx)
	var sshErr *ecerr.SSHError
	require.True(t, ecerr.As(err, &sshErr), "want SSHError, got %v", err)
	assert.Equal(t, "handshake", sshErr.Op)
	assert.False(t, tun.IsAlive())
}

func TestSSHTunnel_DialBeforeConnect(t *testing.T) {
	tun := NewSSHTunnel(&SSHConfig{Host: "127.0.0.1"}, util.NewLogger(0))
	_, err := tun.Dial(context.Background(), "tcp", "127.0.0.1:1")
	assert.ErrorIs(t, err, ecerr.ErrNotConnected)
}

func TestNewSSHTunnel_Defaults(t *testing.T) {
	cfg := &SSHConfig{Host: "gw"}
	NewSSHTunnel(cfg, util.NewLogger(0))
	assert.Equal(t, 22, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ConnTimeout)
}
