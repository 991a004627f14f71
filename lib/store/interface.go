package store

import (
	"fmt"
	"io"

	"github.com/ValentinKolb/ixmap/lib/nrt"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IMap is the generic interface of a typed key-value map.
// Every method returns an error as last result. Errors returned by an
// implementation are of type *Error (see RetCode for the possible codes).
//
// A map is safe for concurrent use. Whether a read observes the writes made
// immediately before it depends on the consistency mode of the implementation.
type IMap[K, V any] interface {
	// Size returns the number of live entries.
	Size() (int, error)
	// IsEmpty returns whether the map holds no entries.
	IsEmpty() (bool, error)
	// ContainsKey returns whether an entry for key exists.
	ContainsKey(key K) (bool, error)
	// ContainsValue returns whether at least one entry holds value.
	ContainsValue(value V) (bool, error)
	// Get returns the value of key. The boolean reports whether the key was found.
	Get(key K) (value V, found bool, err error)
	// Put associates value with key and returns the previous value, if any.
	Put(key K, value V) (prev V, existed bool, err error)
	// Remove deletes key and returns the removed value, if any.
	Remove(key K) (prev V, existed bool, err error)
	// PutAll puts every entry in order. The call is not atomic: on error the
	// entries before the failing one remain stored.
	PutAll(entries ...Entry[K, V]) error
	// Clear removes all entries.
	Clear() error
	// Keys returns the keys of all entries in unspecified order.
	Keys() ([]K, error)
	// Values returns the values of all entries in unspecified order.
	Values() ([]V, error)
	// Entries returns all entries in unspecified order.
	Entries() ([]Entry[K, V], error)

	// Refresh makes all writes made so far visible to subsequent reads.
	Refresh() error
	// Commit makes all writes made so far durable.
	Commit() error
	// Health returns the state of the background refresh.
	Health() nrt.Health
	// Info returns metadata about the underlying index.
	// It is not guaranteed that all fields are up-to-date!
	Info() (Info, error)
	// WriteMetrics writes the metrics of the map in Prometheus text format to w.
	WriteMetrics(w io.Writer)
	// Close commits pending writes and releases all resources. Every operation
	// after Close fails with RetCClosed. Calling Close twice is a no-op.
	Close() error
}

// Entry is a key-value pair of an IMap.
type Entry[K, V any] struct {
	Key   K
	Value V
}

// Info holds metadata about the index of a map.
type Info struct {
	Name          string // Name of the map (metrics label)
	Path          string // Path of the index, empty for in-memory maps
	Consistency   string // Consistency mode
	NumDocs       int    // Live documents visible to readers
	MaxDoc        int    // Documents visible to readers including deleted ones
	DeletedDocs   int    // Deleted documents not yet merged away
	Segments      int    // Segments of the current reader
	OpenSnapshots int    // Readers still referenced
	// Generation of the writer (incremented per mutation)
	Generation uint64
	// SearchingGeneration is the writer generation visible to readers
	SearchingGeneration uint64
	Uncommitted         bool // Whether there are writes that are not yet durable

	// Encoded value sizes of the puts since the map was opened (or cleared).
	// Percentiles are bucket estimates.
	ValuesWritten int64
	ValueSizeAvg  int
	ValueSizeP50  int
	ValueSizeP99  int
}

func (i Info) String() string {
	path := i.Path
	if path == "" {
		path = "<memory>"
	}
	return fmt.Sprintf("Map %q (%s, %s)\n"+
		"  docs:         %d live / %d total / %d deleted\n"+
		"  segments:     %d\n"+
		"  snapshots:    %d open\n"+
		"  generation:   %d (searching %d)\n"+
		"  uncommitted:  %t\n"+
		"  value sizes:  %d written, avg %dB, p50 ~%dB, p99 ~%dB",
		i.Name, path, i.Consistency,
		i.NumDocs, i.MaxDoc, i.DeletedDocs,
		i.Segments,
		i.OpenSnapshots,
		i.Generation, i.SearchingGeneration,
		i.Uncommitted,
		i.ValuesWritten, i.ValueSizeAvg, i.ValueSizeP50, i.ValueSizeP99)
}

// PutMap puts every entry of entries into m (see IMap.PutAll).
func PutMap[K comparable, V any](m IMap[K, V], entries map[K]V) error {
	all := make([]Entry[K, V], 0, len(entries))
	for k, v := range entries {
		all = append(all, Entry[K, V]{Key: k, Value: v})
	}
	return m.PutAll(all...)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and the underlying cause (if any).
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("MapError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("MapError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause, so errors.Is and errors.As see through the Error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code and message wrapping err.
func WrapError(code RetCode, err error, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// CodeOf returns the code of the first *Error in err's chain,
// RetCSuccess for a nil error and RetCStorageError for foreign errors.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCStorageError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: Command executed successfully.
	RetCStorageError                    // 1: The index failed (open, write, commit or refresh).
	RetCCodecError                      // 2: A key or value could not be encoded or decoded.
	RetCClosed                          // 3: The map was closed.
	RetCInvalidOperation                // 4: Invalid operation or option.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCStorageError:
		return "StorageError"
	case RetCCodecError:
		return "CodecError"
	case RetCClosed:
		return "Closed"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
