package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/sirupsen/logrus"
)

// Packages lists the logger names used throughout ixmap. InitLoggers sets the
// level of each of them.
var Packages = []string{"index", "nrt", "store", "cli"}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// ixmapLogger implements the ILogger interface on top of a logrus entry.
// The level is tracked per package, the output format is shared.
type ixmapLogger struct {
	mu    sync.RWMutex
	level logger.LogLevel
	entry *logrus.Entry
}

func (l *ixmapLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ixmapLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *ixmapLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.entry.Debugf(format, args...)
	}
}

func (l *ixmapLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.entry.Infof(format, args...)
	}
}

func (l *ixmapLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.entry.Warnf(format, args...)
	}
}

func (l *ixmapLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.entry.Errorf(format, args...)
	}
}

// Panicf logs the message and panics regardless of the level.
func (l *ixmapLogger) Panicf(format string, args ...interface{}) {
	l.entry.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// base is the logrus instance all package loggers write to. Its own level is
// set to the most verbose value, filtering happens in ixmapLogger.
var base = newBase(os.Stdout)

func newBase(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// CreateLogger implements dragonboats logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	return &ixmapLogger{
		level: logger.INFO,
		entry: base.WithField("pkg", pkgName),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

var factoryOnce sync.Once

// InitLoggers installs the logrus backed factory (once per process) and sets the
// level of all ixmap loggers. It is meant to be called by applications, libraries
// only obtain loggers via logger.GetLogger.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	// the factory must only be installed once per process
	factoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, pkg := range Packages {
		logger.GetLogger(pkg).SetLevel(lvl)
	}
	return nil
}

// SetOutput redirects the output of all loggers created by CreateLogger.
func SetOutput(out io.Writer) {
	base.SetOutput(out)
}
