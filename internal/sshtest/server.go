// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sshtest runs an in-process SSH server for unit tests.
package sshtest

import (
	"crypto/rsa"
	"crypto/subtle"
	"io"
	"log"
	"net"
	"os/exec"
	"sync/atomic"
	"syscall"

	"golang.org/x/crypto/ssh"

	"go.sirikata.org/harness/errors"
)

const pingRequest = "SSH_MSG_IGNORE"

// ExecHandler serves one "exec" request. It may be called concurrently.
type ExecHandler func(req *ExecReq)

// Server is an SSH server on a random localhost port that accepts a single
// RSA user key and hands "exec" requests to an ExecHandler.
type Server struct {
	cfg     *ssh.ServerConfig
	ln      net.Listener
	handler ExecHandler

	answerPings atomic.Bool
	rejectConns atomic.Int64
}

// NewServer starts a Server with host key hk that accepts user key pk.
func NewServer(pk *rsa.PublicKey, hk *rsa.PrivateKey, handler ExecHandler) (*Server, error) {
	userPub, err := ssh.NewPublicKey(pk)
	if err != nil {
		return nil, errors.Wrap(err, "bad user key")
	}
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(c ssh.ConnMetadata, k ssh.PublicKey) (*ssh.Permissions, error) {
			if subtle.ConstantTimeCompare(k.Marshal(), userPub.Marshal()) == 1 {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.Errorf("unknown key for %q", c.User())
		},
	}
	signer, err := ssh.NewSignerFromKey(hk)
	if err != nil {
		return nil, errors.Wrap(err, "bad host key")
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, ln: ln, handler: handler}
	s.answerPings.Store(true)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if err := s.handleConn(c); err != nil {
				log.Print("sshtest: ", err)
			}
		}()
	}
}

// Close stops accepting connections.
func (s *Server) Close() error { return s.ln.Close() }

// Addr returns the listening address.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// AnswerPings controls whether liveness pings are answered.
func (s *Server) AnswerPings(v bool) { s.answerPings.Store(v) }

// RejectConns makes the server drop the next n connections.
func (s *Server) RejectConns(n int) { s.rejectConns.Store(int64(n)) }

func (s *Server) handleConn(c net.Conn) error {
	if s.rejectConns.Add(-1) >= 0 {
		c.Close()
		return nil
	}
	sc, chans, reqs, err := ssh.NewServerConn(c, s.cfg)
	if err != nil {
		return errors.Wrap(err, "handshake failed")
	}
	defer sc.Close()

	go func() {
		for r := range reqs {
			if r.WantReply && (r.Type != pingRequest || s.answerPings.Load()) {
				r.Reply(false, nil)
			}
		}
	}()

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "only sessions are supported")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			return errors.Wrap(err, "failed to accept channel")
		}
		go s.handleChannel(ch, chReqs)
	}
	return nil
}

func (s *Server) handleChannel(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for r := range reqs {
		if r.Type != "exec" {
			if r.WantReply {
				r.Reply(false, nil)
			}
			continue
		}
		var payload struct{ Cmd string }
		if err := ssh.Unmarshal(r.Payload, &payload); err != nil || s.handler == nil {
			r.Reply(false, nil)
			continue
		}
		er := &ExecReq{Cmd: payload.Cmd, ch: ch, req: r}
		s.handler(er)
		if er.started {
			return
		}
	}
}

// ExecReq is an "exec" request (RFC 4254 6.5) waiting to be served.
type ExecReq struct {
	// Cmd is the requested command line.
	Cmd string

	ch      ssh.Channel
	req     *ssh.Request
	started bool
}

// Start replies to the request. After Start(true), End or EndSignal must be
// called once the command is done.
func (e *ExecReq) Start(ok bool) error {
	e.started = ok
	return e.req.Reply(ok, nil)
}

// Read reads the client's stdin.
func (e *ExecReq) Read(p []byte) (int, error) { return e.ch.Read(p) }

// Write writes to the client's stdout.
func (e *ExecReq) Write(p []byte) (int, error) { return e.ch.Write(p) }

// Stderr returns the client's stderr stream.
func (e *ExecReq) Stderr() io.ReadWriter { return e.ch.Stderr() }

// CloseOutput closes stdout and stderr.
func (e *ExecReq) CloseOutput() error { return e.ch.CloseWrite() }

// End reports an exit status.
func (e *ExecReq) End(status int) error {
	_, err := e.ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
	return err
}

// EndSignal reports that the command was killed by the named signal, e.g. "SEGV".
func (e *ExecReq) EndSignal(name string) error {
	msg := struct {
		Signal     string
		CoreDumped bool
		Error      string
		Lang       string
	}{Signal: name}
	_, err := e.ch.SendRequest("exit-signal", false, ssh.Marshal(msg))
	return err
}

// RunRealCmd runs Cmd with /bin/sh, wiring the session's streams, and returns
// its exit status. Output is closed on return.
func (e *ExecReq) RunRealCmd() int {
	defer e.CloseOutput()
	cmd := exec.Command("/bin/sh", "-c", e.Cmd)
	cmd.Stdin = e.ch
	cmd.Stdout = e.ch
	cmd.Stderr = e.ch.Stderr()
	err := cmd.Run()
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exec.ExitError); ok {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok {
			return ws.ExitStatus()
		}
	}
	return 1
}
