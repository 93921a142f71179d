// mlog is a maybe-log: a thin wrapper around the standard 'log'
// package that costs a single atomic load when nobody asked for
// tracing, and a regexp match keyed by call-site tag when they did.
//
// Enable it with -mlog <pattern> (an exact match or a regular
// expression) or the SIXFS_MLOG environment variable; unset, every
// Printf2 call is a no-op.
package mlog

import (
	"flag"
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
)

const (
	stateUninitialized int32 = iota
	stateDisabled
	stateEnabled
)

var status int32 = stateUninitialized

var mutex sync.Mutex
var pattern *regexp.Regexp
var logger = log.New(os.Stderr, "", log.Ltime|log.Lmicroseconds)

var flagPattern = flag.String("mlog", "", "enable mlog tracing for call-site tags matching this regexp")

// IsEnabled reports whether tracing is on at all.
func IsEnabled() bool {
	return ensureInit() == stateEnabled
}

func ensureInit() int32 {
	if st := atomic.LoadInt32(&status); st != stateUninitialized {
		return st
	}
	mutex.Lock()
	defer mutex.Unlock()
	if st := atomic.LoadInt32(&status); st != stateUninitialized {
		return st
	}
	raw := *flagPattern
	if raw == "" {
		raw = os.Getenv("SIXFS_MLOG")
	}
	if raw == "" {
		atomic.StoreInt32(&status, stateDisabled)
		return stateDisabled
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		log.Panicf("mlog: invalid pattern %q: %v", raw, err)
	}
	pattern = re
	atomic.StoreInt32(&status, stateEnabled)
	return stateEnabled
}

// SetPattern overrides the configured pattern programmatically (tests
// mainly); pattern == "" disables tracing. Returns an undo function.
func SetPattern(p string) (undo func()) {
	mutex.Lock()
	defer mutex.Unlock()
	oldPattern := pattern
	oldStatus := atomic.LoadInt32(&status)
	if p == "" {
		pattern = nil
		atomic.StoreInt32(&status, stateDisabled)
	} else {
		pattern = regexp.MustCompile(p)
		atomic.StoreInt32(&status, stateEnabled)
	}
	return func() {
		mutex.Lock()
		defer mutex.Unlock()
		pattern = oldPattern
		atomic.StoreInt32(&status, oldStatus)
	}
}

// Printf2 logs format/args under the given call-site tag
// (conventionally "package/file") if tracing is enabled and the tag
// matches the configured pattern.
func Printf2(tag, format string, args ...interface{}) {
	if ensureInit() != stateEnabled {
		return
	}
	mutex.Lock()
	p := pattern
	mutex.Unlock()
	if p == nil || !p.MatchString(tag) {
		return
	}
	logger.Output(3, fmt.Sprintf("[%s] %s", tag, fmt.Sprintf(format, args...)))
}

// Panicf always logs, regardless of tracing state, and then panics;
// reserved for invariant violations that indicate a bug in the core
// rather than a recoverable runtime error.
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Output(2, msg)
	log.Panic(msg)
}
