package sshterm

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/remote-agent-terminal/webterm/internal/protocol"
	"github.com/remote-agent-terminal/webterm/internal/webterm"
)

const testPassword = "secret"

// testServer is a minimal SSH server: it accepts one password and one
// public key, records channel requests as events and echoes input until it
// sees "bye".
type testServer struct {
	addr    string
	host    ssh.PublicKey
	events  chan string
	userKey ed25519.PrivateKey
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("Failed to create host signer: %v", err)
	}
	userPub, userPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate user key: %v", err)
	}
	authorized, err := ssh.NewPublicKey(userPub)
	if err != nil {
		t.Fatalf("Failed to convert user key: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("wrong password")
		},
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &testServer{
		addr:    ln.Addr().String(),
		host:    hostSigner.PublicKey(),
		events:  make(chan string, 32),
		userKey: userPriv,
	}
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(nc, cfg)
		}
	}()
	return srv
}

func (s *testServer) serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	defer nc.Close()
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		go s.serveSession(ch, requests)
	}
}

func (s *testServer) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var msg struct {
				Term    string
				Columns uint32
				Rows    uint32
				Width   uint32
				Height  uint32
				Modes   string
			}
			ssh.Unmarshal(req.Payload, &msg)
			s.events <- fmt.Sprintf("pty %s %dx%d", msg.Term, msg.Columns, msg.Rows)
			req.Reply(true, nil)
		case "shell":
			s.events <- "shell"
			req.Reply(true, nil)
			go s.echo(ch)
		case "window-change":
			var msg struct {
				Columns uint32
				Rows    uint32
				Width   uint32
				Height  uint32
			}
			ssh.Unmarshal(req.Payload, &msg)
			s.events <- fmt.Sprintf("window-change %dx%d", msg.Columns, msg.Rows)
		case "signal":
			var msg struct{ Signal string }
			ssh.Unmarshal(req.Payload, &msg)
			s.events <- "signal " + msg.Signal
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) echo(ch ssh.Channel) {
	defer ch.Close()
	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		if err != nil {
			return
		}
		if bytes.Contains(buf[:n], []byte("bye")) {
			ch.Write([]byte("goodbye\r\n"))
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		}
		ch.Write(buf[:n])
	}
}

func (s *testServer) spawner(t *testing.T, auth []ssh.AuthMethod) *Spawner {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		t.Fatalf("Failed to split address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return New(Config{
		Host:            host,
		Port:            port,
		User:            "tester",
		Auth:            auth,
		HostKeyCallback: ssh.FixedHostKey(s.host),
	})
}

func (s *testServer) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.events:
		if got != want {
			t.Errorf("Expected event %q, got %q", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for event %q", want)
	}
}

func readUntil(t *testing.T, r io.Reader, want string) {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		var got []byte
		buf := make([]byte, 256)
		for {
			n, err := r.Read(buf)
			got = append(got, buf[:n]...)
			if strings.Contains(string(got), want) || err != nil {
				done <- string(got)
				return
			}
		}
	}()
	select {
	case got := <-done:
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got %q", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Timed out waiting for %q", want)
	}
}

func TestSpawner_Session(t *testing.T) {
	srv := startTestServer(t)
	sp := srv.spawner(t, []ssh.AuthMethod{ssh.Password(testPassword)})

	proc, err := sp.Spawn(context.Background(), webterm.SpawnRequest{
		RemoteAddr: "127.0.0.1:1",
		Size:       protocol.Geometry{Cols: 100, Rows: 30},
	})
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	defer proc.Close()

	srv.expect(t, "pty xterm 100x30")
	srv.expect(t, "shell")

	t.Run("echo", func(t *testing.T) {
		if _, err := proc.Write([]byte("hello")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		readUntil(t, proc, "hello")
	})

	t.Run("window change", func(t *testing.T) {
		if err := proc.SetWinSize(120, 40); err != nil {
			t.Fatalf("Failed to resize: %v", err)
		}
		srv.expect(t, "window-change 120x40")
	})

	t.Run("signal control", func(t *testing.T) {
		ext := proc.(webterm.ExtHandler)
		if err := ext.HandleExt([]byte(`{"signal":"sigint"}`)); err != nil {
			t.Fatalf("Failed to send signal: %v", err)
		}
		srv.expect(t, "signal INT")
	})

	t.Run("unsupported control", func(t *testing.T) {
		ext := proc.(webterm.ExtHandler)
		for _, payload := range []string{`not json`, `{"x":1}`, `{"signal":""}`, `{"signal":3}`} {
			if err := ext.HandleExt([]byte(payload)); !errors.Is(err, ErrUnsupportedControl) {
				t.Errorf("Expected ErrUnsupportedControl for %s, got %v", payload, err)
			}
		}
	})

	t.Run("remote exit ends output", func(t *testing.T) {
		if _, err := proc.Write([]byte("bye")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		done := make(chan []byte, 1)
		go func() {
			out, _ := io.ReadAll(proc)
			done <- out
		}()
		select {
		case out := <-done:
			if !strings.Contains(string(out), "goodbye") {
				t.Errorf("Expected farewell before EOF, got %q", out)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for output to end")
		}
	})
}

func TestSpawner_DefaultSize(t *testing.T) {
	srv := startTestServer(t)
	sp := srv.spawner(t, []ssh.AuthMethod{ssh.Password(testPassword)})

	proc, err := sp.Spawn(context.Background(), webterm.SpawnRequest{})
	if err != nil {
		t.Fatalf("Failed to spawn: %v", err)
	}
	defer proc.Close()

	srv.expect(t, "pty xterm 80x24")
}

func TestSpawner_PrivateKey(t *testing.T) {
	srv := startTestServer(t)

	der, err := x509.MarshalPKCS8PrivateKey(srv.userKey)
	if err != nil {
		t.Fatalf("Failed to marshal key: %v", err)
	}
	keyFile := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}

	auth, err := AuthMethods(AuthConfig{PrivateKeyFile: keyFile})
	if err != nil {
		t.Fatalf("Failed to build auth: %v", err)
	}
	proc, err := srv.spawner(t, auth).Spawn(context.Background(), webterm.SpawnRequest{})
	if err != nil {
		t.Fatalf("Failed to spawn with private key: %v", err)
	}
	proc.Close()
}

func TestSpawner_Rejected(t *testing.T) {
	srv := startTestServer(t)

	t.Run("wrong password", func(t *testing.T) {
		sp := srv.spawner(t, []ssh.AuthMethod{ssh.Password("nope")})
		proc, err := sp.Spawn(context.Background(), webterm.SpawnRequest{})
		if err == nil {
			proc.Close()
			t.Fatal("Expected handshake error")
		}
	})

	t.Run("unknown host key", func(t *testing.T) {
		sp := srv.spawner(t, []ssh.AuthMethod{ssh.Password(testPassword)})
		sp.cfg.HostKeyCallback = nil
		sp = New(sp.cfg)
		proc, err := sp.Spawn(context.Background(), webterm.SpawnRequest{})
		if err == nil {
			proc.Close()
			t.Fatal("Expected host key error")
		}
	})
}

func TestAuthMethods(t *testing.T) {
	if _, err := AuthMethods(AuthConfig{}); err == nil {
		t.Error("Expected error without credentials")
	}

	methods, err := AuthMethods(AuthConfig{Password: "pw", KeyboardInteractive: true})
	if err != nil {
		t.Fatalf("Failed to build auth: %v", err)
	}
	if len(methods) != 2 {
		t.Errorf("Expected 2 auth methods, got %d", len(methods))
	}

	if _, err := AuthMethods(AuthConfig{PrivateKeyFile: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("Expected error for missing key file")
	}
	if _, err := PrivateKey([]byte("not a key"), ""); err == nil {
		t.Error("Expected error for malformed key")
	}
}

func TestAnswerAll(t *testing.T) {
	answers, err := answerAll("pw")("user", "", []string{"Password: ", "OTP: "}, []bool{false, false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(answers) != 2 || answers[0] != "pw" || answers[1] != "pw" {
		t.Errorf("Expected every prompt answered, got %v", answers)
	}
}

func TestHostKeyCallback(t *testing.T) {
	if _, err := HostKeyCallback("", false); err == nil {
		t.Error("Expected error without known hosts or insecure flag")
	}
	if cb, err := HostKeyCallback("", true); err != nil || cb == nil {
		t.Errorf("Expected insecure callback, got %v", err)
	}
	if _, err := HostKeyCallback(filepath.Join(t.TempDir(), "missing"), false); err == nil {
		t.Error("Expected error for missing known_hosts")
	}
}
