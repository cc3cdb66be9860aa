// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ssh runs commands on cluster hosts over SSH.
package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/net/proxy"
	"golang.org/x/term"

	"go.sirikata.org/harness/errors"
)

const (
	defaultUser = "root"
	defaultPort = 22

	// pingRequest is the global request used to check liveness (RFC 4253 11.2).
	pingRequest = "SSH_MSG_IGNORE"
)

var targetRE = regexp.MustCompile(`^([^@]+@)?([^@]+)$`)

// Options describes how to reach and authenticate to a host.
type Options struct {
	// User is the login name. Defaults to root.
	User string
	// Hostname is "host:port".
	Hostname string

	// KeyFile is an unencrypted private key tried first.
	KeyFile string
	// KeyDir is searched for the usual id_* keys.
	KeyDir string

	// ConnectTimeout bounds each TCP connection attempt.
	ConnectTimeout time.Duration
	// ConnectRetries is the number of extra attempts after a failure.
	ConnectRetries int
	// ConnectRetryInterval is the minimum time between attempt starts.
	ConnectRetryInterval time.Duration

	// WarnFunc receives non-fatal problems met while connecting.
	WarnFunc func(msg string)
}

// ParseTarget fills o.User and o.Hostname from "[user@]host[:port]".
func ParseTarget(target string, o *Options) error {
	m := targetRE.FindStringSubmatch(target)
	if m == nil {
		return errors.Errorf("couldn't parse %q as \"[user@]host[:port]\"", target)
	}
	o.User = defaultUser
	if m[1] != "" {
		o.User = m[1][:len(m[1])-1]
	}
	if _, _, err := net.SplitHostPort(m[2]); err != nil {
		o.Hostname = net.JoinHostPort(m[2], strconv.Itoa(defaultPort))
	} else {
		o.Hostname = m[2]
	}
	return nil
}

func (o *Options) warn(format string, args ...interface{}) {
	if o.WarnFunc != nil {
		o.WarnFunc(fmt.Sprintf(format, args...))
	}
}

// Conn is an open SSH connection to one host.
type Conn struct {
	cl   *ssh.Client
	host string
}

// New connects to the host in o, retrying as configured.
// Callers must Close the returned Conn.
func New(ctx context.Context, o *Options) (*Conn, error) {
	if o.User == "" {
		o.User = defaultUser
	}
	auth, err := authMethods(o, "["+o.Hostname+"] ")
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ClientConfig{
		User:            o.User,
		Auth:            auth,
		Timeout:         o.ConnectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	for attempt := 0; ; attempt++ {
		start := time.Now()
		cl, err := dial(ctx, o.Hostname, cfg)
		if err == nil {
			return &Conn{cl: cl, host: o.Hostname}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= o.ConnectRetries {
			return nil, errors.Wrapf(err, "failed to connect to %s", o.Hostname)
		}
		wait := o.ConnectRetryInterval - time.Since(start)
		if wait <= 0 {
			o.warn("Retrying SSH connection to %s: %v", o.Hostname, err)
			continue
		}
		o.warn("Retrying SSH connection to %s in %v: %v", o.Hostname, wait.Round(time.Millisecond), err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func dial(ctx context.Context, hostPort string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var cl *ssh.Client
	err := doAsync(ctx, func() error {
		conn, err := proxy.FromEnvironment().Dial("tcp", hostPort)
		if err != nil {
			return err
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
		if err != nil {
			conn.Close()
			return err
		}
		cl = ssh.NewClient(c, chans, reqs)
		return nil
	}, func() {
		if cl != nil {
			cl.Close()
		}
	})
	return cl, err
}

func authMethods(o *Options, prompt string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	var signers []ssh.Signer
	if o.KeyFile != "" {
		s, _, err := readKey(o.KeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read private key %s", o.KeyFile)
		}
		signers = append(signers, s)
	}
	if o.KeyDir != "" {
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"} {
			p := filepath.Join(o.KeyDir, name)
			if p == o.KeyFile {
				continue
			}
			if _, err := os.Stat(p); err != nil {
				continue
			}
			s, read, err := readKey(p)
			if err == nil {
				signers = append(signers, s)
			} else if !read {
				o.warn("Failed to read %v: %v", p, err)
			}
		}
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if a, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(a).Signers))
		} else {
			o.warn("Failed to connect to ssh-agent at %v: %v", sock, err)
		}
	}

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		methods = append(methods, ssh.KeyboardInteractive(
			func(user, inst string, qs []string, echos []bool) ([]string, error) {
				return answerChallenges(fd, prompt, qs)
			}))
	}
	return methods, nil
}

// readKey parses an unencrypted private key. read reports whether the file
// itself could be read, so callers can tell a missing key from a bad one.
func readKey(path string) (s ssh.Signer, read bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	s, err = ssh.ParsePrivateKey(b)
	return s, true, err
}

// answerChallenges prompts on the terminal for each keyboard-interactive
// question. The host prefix keeps a sudo habit from leaking the wrong password.
func answerChallenges(fd int, prefix string, qs []string) ([]string, error) {
	answers := make([]string, len(qs))
	for i, q := range qs {
		os.Stdout.WriteString(prefix + q)
		b, err := term.ReadPassword(fd)
		os.Stdout.WriteString("\n")
		if err != nil {
			return nil, err
		}
		answers[i] = string(b)
	}
	return answers, nil
}

// Host returns the "host:port" this connection is attached to.
func (c *Conn) Host() string { return c.host }

// Close closes the connection.
func (c *Conn) Close(ctx context.Context) error {
	return doAsync(ctx, c.cl.Close, nil)
}

// Ping checks that the host still answers requests within timeout.
func (c *Conn) Ping(ctx context.Context, timeout time.Duration) error {
	ch := make(chan error, 1)
	go func() {
		_, _, err := c.cl.SendRequest(pingRequest, true, nil)
		ch <- err
	}()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return errors.New("ping timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}
