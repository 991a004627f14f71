package imap

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/ValentinKolb/ixmap/lib/nrt"
	"github.com/ValentinKolb/ixmap/lib/store"
)

// Consistency controls which writes a read observes.
type Consistency int

const (
	// ConsistencyEager refreshes the reader before every read (including the
	// lookup of the previous value in Put and Remove), so reads observe all
	// writes made before them.
	ConsistencyEager Consistency = iota
	// ConsistencyLazy reads whatever the background refresh published last.
	// Writes become visible after about TargetMinStale.
	ConsistencyLazy
)

func (c Consistency) String() string {
	switch c {
	case ConsistencyEager:
		return "eager"
	case ConsistencyLazy:
		return "lazy"
	default:
		return fmt.Sprintf("Consistency(%d)", int(c))
	}
}

// ParseConsistency parses "eager" or "lazy" (case-insensitive).
func ParseConsistency(s string) (Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "eager", "":
		return ConsistencyEager, nil
	case "lazy":
		return ConsistencyLazy, nil
	default:
		return 0, fmt.Errorf("unknown consistency %q (valid: eager, lazy)", s)
	}
}

// Options configures a map created with New.
type Options struct {
	// Path is the folder of the index. It is created if it does not exist.
	// An empty path keeps the index in memory.
	Path string
	// Consistency of reads, see ConsistencyEager and ConsistencyLazy
	Consistency Consistency
	// TargetMaxStale is the longest time between two background refreshes
	TargetMaxStale time.Duration
	// TargetMinStale is the shortest time between two background refreshes
	TargetMinStale time.Duration
	// CorruptionPolicy decides what happens if the index at Path is corrupt
	CorruptionPolicy index.CorruptionPolicy
	// LockTimeout is how long to wait for the index lock held by another process
	LockTimeout time.Duration
	// Name identifies the map in logs and metrics. A random name is used if empty.
	Name string
	// OnRefreshError is called for every failed background refresh (optional)
	OnRefreshError func(err error)
}

// DefaultOptions returns the default options of an in-memory, eagerly consistent map
func DefaultOptions() *Options {
	reopen := nrt.DefaultReopenerOptions()
	return &Options{
		Consistency:      ConsistencyEager,
		TargetMaxStale:   reopen.TargetMaxStale,
		TargetMinStale:   reopen.TargetMinStale,
		CorruptionPolicy: index.CorruptionFail,
		LockTimeout:      index.DefaultFSOptions().LockTimeout,
	}
}

// validate fills zero durations with defaults and checks the options.
func (o *Options) validate() error {
	def := DefaultOptions()
	if o.TargetMaxStale == 0 {
		o.TargetMaxStale = def.TargetMaxStale
	}
	if o.TargetMinStale == 0 {
		o.TargetMinStale = def.TargetMinStale
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = def.LockTimeout
	}

	switch {
	case o.Consistency != ConsistencyEager && o.Consistency != ConsistencyLazy:
		return store.NewError(store.RetCInvalidOperation, fmt.Sprintf("invalid consistency %s", o.Consistency))
	case o.TargetMinStale < 0 || o.TargetMaxStale < 0:
		return store.NewError(store.RetCInvalidOperation, "stale targets must be positive")
	case o.TargetMaxStale < o.TargetMinStale:
		return store.NewError(store.RetCInvalidOperation,
			fmt.Sprintf("target max stale (%s) must not be smaller than target min stale (%s)", o.TargetMaxStale, o.TargetMinStale))
	case o.LockTimeout < 0:
		return store.NewError(store.RetCInvalidOperation, "lock timeout must be positive")
	}
	return nil
}
