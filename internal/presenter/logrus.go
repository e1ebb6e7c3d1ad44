package presenter

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/flipble/pkg/flipper"
)

// Logger forwards presenter output to a logrus logger.
// Data chunks go out at debug level so they do not flood info logs.
type Logger struct {
	logger *logrus.Logger
}

func NewLogger(logger *logrus.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) Log(tag flipper.Tag, text string) {
	entry := l.logger.WithField("tag", string(tag))
	switch tag {
	case flipper.TagError:
		entry.Error(text)
	case flipper.TagWarn:
		entry.Warn(text)
	case flipper.TagDebug, flipper.TagData:
		entry.Debug(text)
	default:
		entry.Info(text)
	}
}

func (l *Logger) ConnectionChanged(connected bool, name string) {
	entry := l.logger.WithField("connected", connected)
	if connected {
		entry.WithField("device", name).Info("Connection active")
		return
	}
	entry.Warn("Connection interrupted")
}
