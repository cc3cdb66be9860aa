// Copyright 2024 The Chromium OS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ssh

import "context"

// doAsync runs body on its own goroutine so that calls into crypto/ssh,
// which take no context, can be abandoned when ctx is done.
//
// body always runs, even if ctx is already done. If doAsync returns an error
// (body's own or ctx's), clean runs on body's goroutine after body returns so
// partially acquired resources are released.
func doAsync(ctx context.Context, body func() error, clean func()) (ret error) {
	result := make(chan error, 1)
	final := make(chan error, 1)
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		result <- body()
		if err := <-final; err != nil && clean != nil {
			clean()
		}
	}()

	defer func() {
		final <- ret
		select {
		case <-finished:
		case <-ctx.Done():
		}
	}()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
