// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sshtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sync"
	"testing"

	"go.sirikata.org/harness/ssh"
)

const keyBits = 1024

// GenerateKeys creates a user key and a host key.
func GenerateKeys() (user, host *rsa.PrivateKey, err error) {
	if user, err = rsa.GenerateKey(rand.Reader, keyBits); err != nil {
		return nil, nil, err
	}
	if host, err = rsa.GenerateKey(rand.Reader, keyBits); err != nil {
		return nil, nil, err
	}
	return user, host, nil
}

var (
	keysOnce               sync.Once
	sharedUser, sharedHost *rsa.PrivateKey
)

// Keys returns a key pair generated once per test binary.
func Keys() (user, host *rsa.PrivateKey) {
	keysOnce.Do(func() {
		var err error
		if sharedUser, sharedHost, err = GenerateKeys(); err != nil {
			panic(err)
		}
	})
	return sharedUser, sharedHost
}

// WriteKey writes key in PEM form to a new 0600 file in dir and returns its path.
func WriteKey(dir string, key *rsa.PrivateKey) (string, error) {
	f, err := os.CreateTemp(dir, "harness_ssh_key.")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.Chmod(0600); err != nil {
		return "", err
	}
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := pem.Encode(f, block); err != nil {
		return "", err
	}
	return f.Name(), nil
}

// Env is a running Server plus a key file able to log in to it.
type Env struct {
	Srv     *Server
	KeyFile string
}

// NewEnv starts a Server for the duration of t.
func NewEnv(t *testing.T, handler ExecHandler) *Env {
	t.Helper()
	user, host := Keys()
	srv, err := NewServer(&user.PublicKey, host, handler)
	if err != nil {
		t.Fatal("Failed to start SSH server: ", err)
	}
	t.Cleanup(func() { srv.Close() })
	kf, err := WriteKey(t.TempDir(), user)
	if err != nil {
		t.Fatal("Failed to write key: ", err)
	}
	return &Env{Srv: srv, KeyFile: kf}
}

// Target returns the server address as a "user@host:port" target.
func (e *Env) Target() string { return "tester@" + e.Srv.Addr().String() }

// Connect opens a connection to the server using base as a template.
func (e *Env) Connect(ctx context.Context, base ssh.Options) (*ssh.Conn, error) {
	o := base
	if err := ssh.ParseTarget(e.Target(), &o); err != nil {
		return nil, err
	}
	o.KeyFile = e.KeyFile
	return ssh.New(ctx, &o)
}

// RealCmdHandler runs every request with /bin/sh.
func RealCmdHandler(req *ExecReq) {
	req.Start(true)
	req.End(req.RunRealCmd())
}
