package utils

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger структурированный логгер поверх logrus
type Logger struct {
	entry *logrus.Entry
}

// NewLogger создает новый логгер с уровнем и форматом ("json" или "text")
func NewLogger(level, format string) *Logger {
	return NewLoggerWithOutput(level, format, os.Stdout)
}

// NewLoggerWithOutput создает логгер, пишущий в заданный writer
func NewLoggerWithOutput(level, format string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetLevel(parseLevel(level))

	if strings.ToLower(format) == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Информация о вызывающем коде только в debug режиме
	base.SetReportCaller(base.GetLevel() >= logrus.DebugLevel)

	return &Logger{entry: logrus.NewEntry(base)}
}

// NewNopLogger возвращает логгер, который ничего не выводит (для тестов)
func NewNopLogger() *Logger {
	return NewLoggerWithOutput("panic", "text", io.Discard)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// WithField добавляет поле к логгеру
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields добавляет несколько полей к логгеру
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError добавляет ошибку к логгеру
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// WithContext привязывает контекст к записи
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{entry: l.entry.WithContext(ctx)}
}

// Entry возвращает logrus entry для библиотек, ожидающих logrus
func (l *Logger) Entry() *logrus.Entry {
	return l.entry
}

// Debug логирует сообщение уровня debug
func (l *Logger) Debug(msg string) { l.entry.Debug(msg) }

// Debugf логирует форматированное сообщение уровня debug
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Info логирует сообщение уровня info
func (l *Logger) Info(msg string) { l.entry.Info(msg) }

// Infof логирует форматированное сообщение уровня info
func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warn логирует сообщение уровня warn
func (l *Logger) Warn(msg string) { l.entry.Warn(msg) }

// Warnf логирует форматированное сообщение уровня warn
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Error логирует сообщение уровня error
func (l *Logger) Error(msg string) { l.entry.Error(msg) }

// Errorf логирует форматированное сообщение уровня error
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

// Fatal логирует сообщение уровня fatal и завершает программу
func (l *Logger) Fatal(msg string) { l.entry.Fatal(msg) }

// Fatalf логирует форматированное сообщение уровня fatal и завершает программу
func (l *Logger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }
