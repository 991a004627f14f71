package index

import (
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var plog = logger.GetLogger("index")

var (
	// ErrAlreadyClosed is returned when a closed Writer or a released Reader is used.
	ErrAlreadyClosed = errors.New("already closed")

	// ErrCorruptIndex is returned when the committed state of a Directory can not be read.
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrLockObtainFailed is returned when another Writer holds the lock of a Directory.
	ErrLockObtainFailed = errors.New("lock obtain failed")

	// ErrIndexNotFound is returned when a Directory contains no commit (see OpenModeAppend).
	ErrIndexNotFound = errors.New("no index found")
)

// --------------------------------------------------------------------------
// Writer Options
// --------------------------------------------------------------------------

// OpenMode controls how Open treats an existing index.
type OpenMode int

const (
	// OpenModeCreateOrAppend opens the existing index or starts a new one.
	OpenModeCreateOrAppend OpenMode = iota
	// OpenModeCreate starts a new, empty index. Existing documents are
	// dropped with the first commit.
	OpenModeCreate
	// OpenModeAppend opens the existing index and fails with ErrIndexNotFound otherwise.
	OpenModeAppend
)

func (m OpenMode) String() string {
	switch m {
	case OpenModeCreateOrAppend:
		return "create-or-append"
	case OpenModeCreate:
		return "create"
	case OpenModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// CorruptionPolicy controls what Open does when the Directory reports ErrCorruptIndex.
type CorruptionPolicy int

const (
	// CorruptionFail makes Open return the error.
	CorruptionFail CorruptionPolicy = iota
	// CorruptionRebuild wipes the Directory, logs a warning and starts empty.
	CorruptionRebuild
)

func (p CorruptionPolicy) String() string {
	switch p {
	case CorruptionFail:
		return "fail"
	case CorruptionRebuild:
		return "rebuild"
	default:
		return "unknown"
	}
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	OpenMode         OpenMode
	CorruptionPolicy CorruptionPolicy
	// CommitOnClose commits pending changes when the writer is closed.
	CommitOnClose bool
	// MaxBufferedDocs is the number of added documents after which the buffer
	// is flushed into a segment, even if no reader is opened.
	MaxBufferedDocs int
	MergePolicy     MergePolicy
	Logger          logger.ILogger
}

// DefaultWriterOptions returns the default configuration
func DefaultWriterOptions() *WriterOptions {
	return &WriterOptions{
		OpenMode:         OpenModeCreateOrAppend,
		CorruptionPolicy: CorruptionFail,
		CommitOnClose:    true,
		MaxBufferedDocs:  4096,
		MergePolicy:      NewTieredMergePolicy(),
		Logger:           plog,
	}
}

// withDefaults fills unset fields of opts with default values.
func (opts *WriterOptions) withDefaults() WriterOptions {
	o := *opts
	def := DefaultWriterOptions()
	if o.MaxBufferedDocs <= 0 {
		o.MaxBufferedDocs = def.MaxBufferedDocs
	}
	if o.MergePolicy == nil {
		o.MergePolicy = def.MergePolicy
	}
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	return o
}
