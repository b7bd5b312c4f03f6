//go:build e2e

package e2e

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/votesmart/undine/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func sampleReport() *models.RunReport {
	return &models.RunReport{
		RunID:     "e2e-run",
		Hostname:  "e2e-test-host",
		Repos:     "ssh://host/repo",
		StartTime: time.Now().Add(-3 * time.Minute),
		Duration:  3 * time.Minute,
		Results: []models.RunResult{
			{Status: models.StatusSuccess, Unit: "db", Repos: "ssh://host/repo"},
			{Status: models.StatusFail, Unit: "web", Repos: "ssh://host/repo", ErrText: "disk full"},
		},
	}
}

// smtpServer is a plaintext SMTP sink that records each DATA payload.
type smtpServer struct {
	ln    net.Listener
	mu    sync.Mutex
	rcpts []string
	data  []string
}

func startSMTPServer(t *testing.T) *smtpServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &smtpServer{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *smtpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) messages() ([]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rcpts...), append([]string(nil), s.data...)
}

func (s *smtpServer) serve(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = io.WriteString(conn, line+"\r\n") }

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(verb, "RCPT TO:"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, strings.TrimSpace(line[len("RCPT TO:"):]))
			s.mu.Unlock()
			reply("250 OK")
		case verb == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" || l == ".\n" {
					break
				}
				b.WriteString(l)
			}
			s.mu.Lock()
			s.data = append(s.data, b.String())
			s.mu.Unlock()
			reply("250 OK queued")
		case verb == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("250 OK")
		}
	}
}
