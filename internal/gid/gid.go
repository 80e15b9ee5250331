// File: internal/gid/gid.go
// Package gid resolves the current goroutine's identity. The reactor uses it
// to enforce one event loop per goroutine and to answer in-loop checks.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Get returns the numeric id of the calling goroutine.
//
// The id is parsed out of the first line of the goroutine's stack header
// ("goroutine N [running]:"). The runtime does not expose the id directly;
// the header format has been stable across releases.
func Get() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], prefix)
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
