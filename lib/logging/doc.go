// Package logging wires dragonboat's logger facade to a logrus backend.
//
// All ixmap packages obtain their logger with logger.GetLogger("<pkg>") from
// github.com/lni/dragonboat/v4/logger, exactly like dragonboat itself does. Without
// further setup these loggers use dragonboat's default implementation. Calling
// InitLoggers installs a factory that routes every package logger through a shared
// logrus instance, adding a "pkg" field to each line, and sets the verbosity of
// all ixmap packages.
//
// Usage:
//
//	if err := logging.InitLoggers("debug"); err != nil {
//		return err
//	}
//	log := logger.GetLogger("store")
//	log.Infof("opened map %s", name)
package logging
