package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig holds construction parameters for SSHTransport
type SSHConfig struct {
	User           string
	KeyPath        string
	Password       string
	KnownHostsPath string
	DialTimeout    time.Duration
}

// SSHTransport runs commands over SSH, keeping one client per server address
type SSHTransport struct {
	logger  zerolog.Logger
	cfg     SSHConfig
	auth    []ssh.AuthMethod
	hostKey ssh.HostKeyCallback

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// NewSSHTransport resolves auth methods once. Key file and password are
// tried first; the SSH agent is used when neither is configured.
func NewSSHTransport(logger zerolog.Logger, cfg SSHConfig) (*SSHTransport, error) {
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	var auths []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auths = append(auths, ssh.Password(cfg.Password))
	}
	if len(auths) == 0 {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				return nil, fmt.Errorf("ssh agent: %w", err)
			}
			auths = append(auths, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		cb, err := knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKey = cb
	} else {
		logger.Warn().Msg("SSH host key verification disabled (no known_hosts configured)")
	}

	return &SSHTransport{
		logger:  logger,
		cfg:     cfg,
		auth:    auths,
		hostKey: hostKey,
		clients: make(map[string]*ssh.Client),
	}, nil
}

func (t *SSHTransport) Run(ctx context.Context, server *domain.Server, command string) (*CommandResult, error) {
	start := time.Now()
	client, err := t.client(server)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		// connection likely dropped; forget it so the retry redials
		t.drop(server.Address())
		return nil, fmt.Errorf("%w: new session on %s: %v", domain.ErrTransport, server.Address(), err)
	}
	defer session.Close()

	var out strings.Builder
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitStatus()
		case errors.As(err, &missing):
			exitCode = -1
		default:
			t.drop(server.Address())
			return nil, fmt.Errorf("%w: %w: run on %s: %v", domain.ErrTransport, ErrConnectionLost, server.Address(), err)
		}
	}

	return &CommandResult{
		Success:  exitCode == 0,
		Output:   out.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}, nil
}

// Close releases all cached connections
func (t *SSHTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, c := range t.clients {
		_ = c.Close()
		delete(t.clients, addr)
	}
}

func (t *SSHTransport) client(server *domain.Server) (*ssh.Client, error) {
	addr := server.Address()

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[addr]; ok {
		return c, nil
	}

	user := server.Username
	if user == "" {
		user = t.cfg.User
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            t.auth,
		HostKeyCallback: t.hostKey,
		Timeout:         t.cfg.DialTimeout,
	}
	cfg.SetDefaults()

	t.logger.Debug().Str("addr", addr).Str("user", user).Msg("ssh dial")
	c, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh dial %s: %v", domain.ErrTransport, addr, err)
	}
	t.clients[addr] = c
	return c, nil
}

func (t *SSHTransport) drop(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.clients[addr]; ok {
		_ = c.Close()
		delete(t.clients, addr)
	}
}
