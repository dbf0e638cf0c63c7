package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a named logrus logger. Every line is prefixed with the component name.
type Logger struct {
	name  string
	entry *logrus.Logger
}

type formatter struct {
	name string
}

func (f *formatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	_, _ = fmt.Fprintf(&b, "[%s][%s][%s] %s\n", e.Time.Format("2006-01-02 15:04:05.000"), level, f.name, e.Message)
	return b.Bytes(), nil
}

var (
	registryMu sync.Mutex
	registry   []*Logger
)

func NewLogger(name, level string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&formatter{name: name})
	lg := &Logger{name: name, entry: l}
	lg.SetLevel(level)
	registryMu.Lock()
	registry = append(registry, lg)
	registryMu.Unlock()
	return lg
}

// Configure applies level and output to every logger created so far.
func Configure(level string, w io.Writer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, lg := range registry {
		lg.SetLevel(level)
		if w != nil {
			lg.SetOutput(w)
		}
	}
}

// SetLevel accepts logrus level names in any case; unknown names fall back to INFO.
func (l *Logger) SetLevel(level string) {
	lv, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lv = logrus.InfoLevel
	}
	l.entry.SetLevel(lv)
}

func (l *Logger) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

func (l *Logger) Name() string { return l.name }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }

func (l *Logger) Infof(format string, args ...any) { l.entry.Infof(format, args...) }

func (l *Logger) Warnf(format string, args ...any) { l.entry.Warnf(format, args...) }

func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
