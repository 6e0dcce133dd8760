// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tycoon-systems/crawlvisor/ecosystem"
)

var ErrNoAuth = errors.New("No SSH key or agent available")

// SSHOptions tune the SSH connection.  Zero values pick the defaults.
type SSHOptions struct {
	// KnownHosts is the known_hosts file used to verify the host key.
	// Defaults to ~/.ssh/known_hosts.
	KnownHosts string

	// AgentSocket is the ssh-agent socket.  Defaults to $SSH_AUTH_SOCK.
	AgentSocket string

	// Timeout bounds the TCP connect and the handshake.  Defaults to 30s.
	Timeout time.Duration
}

// SSHRunner runs commands on a remote host, one session per command.
type SSHRunner struct {
	client *ssh.Client
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, e := os.UserHomeDir()
	if e != nil {
		return "", e
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func loginName(t ecosystem.Target) string {
	if t.User != "" {
		return t.User
	}
	if u, e := user.Current(); e == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// authMethods collects the target key, if any, and the agent, if
// reachable.  The returned closer releases the agent connection.
func authMethods(t ecosystem.Target, sock string) ([]ssh.AuthMethod, io.Closer, error) {
	var methods []ssh.AuthMethod
	if t.Key != "" {
		path, e := expandHome(t.Key)
		if e != nil {
			return nil, nil, e
		}
		pem, e := os.ReadFile(path)
		if e != nil {
			return nil, nil, fmt.Errorf("read key: %w", e)
		}
		signer, e := ssh.ParsePrivateKey(pem)
		if e != nil {
			return nil, nil, fmt.Errorf("parse key %s: %w", path, e)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	var closer io.Closer
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock != "" {
		if conn, e := net.Dial("unix", sock); e == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			closer = conn
		}
	}
	if len(methods) == 0 {
		return nil, nil, ErrNoAuth
	}
	return methods, closer, nil
}

// ClientConfig builds the SSH client configuration for t.  Host keys are
// checked against the known_hosts file; unknown hosts are refused.
func ClientConfig(t ecosystem.Target, auth []ssh.AuthMethod, opts SSHOptions) (*ssh.ClientConfig, error) {
	kh := opts.KnownHosts
	if kh == "" {
		kh = "~/.ssh/known_hosts"
	}
	kh, e := expandHome(kh)
	if e != nil {
		return nil, e
	}
	hostKeys, e := knownhosts.New(kh)
	if e != nil {
		return nil, fmt.Errorf("known hosts: %w", e)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ssh.ClientConfig{
		User:            loginName(t),
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}, nil
}

// DialSSH connects to the target host.
func DialSSH(ctx context.Context, t ecosystem.Target, opts SSHOptions) (*SSHRunner, error) {
	auth, agentConn, e := authMethods(t, opts.AgentSocket)
	if e != nil {
		return nil, e
	}
	if agentConn != nil {
		defer agentConn.Close()
	}
	cfg, e := ClientConfig(t, auth, opts)
	if e != nil {
		return nil, e
	}

	addr := t.Address()
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, e := d.DialContext(ctx, "tcp", addr)
	if e != nil {
		return nil, e
	}
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	c, chans, reqs, e := ssh.NewClientConn(conn, addr, cfg)
	if e != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh %s: %w", addr, e)
	}
	conn.SetDeadline(time.Time{})
	return &SSHRunner{client: ssh.NewClient(c, chans, reqs)}, nil
}

func (r *SSHRunner) Run(ctx context.Context, cmd string, stdout, stderr io.Writer) error {
	sess, e := r.client.NewSession()
	if e != nil {
		return e
	}
	defer sess.Close()
	sess.Stdout = stdout
	sess.Stderr = stderr
	if e := sess.Start(cmd); e != nil {
		return e
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Wait()
	}()
	select {
	case e := <-done:
		return e
	case <-ctx.Done():
		sess.Signal(ssh.SIGTERM)
		sess.Close()
		return ctx.Err()
	}
}

func (r *SSHRunner) Close() error {
	return r.client.Close()
}
