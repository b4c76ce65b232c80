package logger

import (
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	emailRegex   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	tokenRegex   = regexp.MustCompile(`eyJ[^\s]+`)
	userIDRegex  = regexp.MustCompile(`\buser_id\s*=\s*\d+\b`)
	loginIDRegex = regexp.MustCompile(`\blogin_id\s*=\s*\S+`)
)

// Logger is a centralized structured logger. Every entry carries the module
// that emitted it.
type Logger struct {
	out *logrus.Logger
}

var (
	mu      sync.Mutex
	level   = logrus.InfoLevel
	created []*logrus.Logger
)

// SetLevel changes the level of every logger, including the package-level
// ones created before configuration was read. Unknown names leave the level
// unchanged.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	level = lvl
	for _, l := range created {
		l.SetLevel(lvl)
	}
}

// New creates a new Logger writing JSON lines to stdout
func New() *Logger {
	return NewWithOutput(os.Stdout)
}

func NewWithOutput(w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)

	mu.Lock()
	l.SetLevel(level)
	created = append(created, l)
	mu.Unlock()

	l.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})
	return &Logger{out: l}
}

// Anonymize replaces sensitive information in logs (emails, tokens, IDs)
func Anonymize(s string) string {
	s = emailRegex.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = tokenRegex.ReplaceAllString(s, "[REDACTED_TOKEN]")
	s = userIDRegex.ReplaceAllString(s, "user_id=[USER_ID]")
	s = loginIDRegex.ReplaceAllString(s, "login_id=[LOGIN_ID]")
	return s
}

func (l *Logger) entry(module string) *logrus.Entry {
	return l.out.WithField("module", module)
}

func (l *Logger) Info(module, msg string) {
	l.entry(module).Info(Anonymize(msg))
}

func (l *Logger) Debug(module, msg string) {
	l.entry(module).Debug(Anonymize(msg))
}

func (l *Logger) Warn(module, msg string) {
	l.entry(module).Warn(Anonymize(msg))
}

func (l *Logger) Error(module, msg string, err error) {
	e := l.entry(module)
	if err != nil {
		e = e.WithField("error", Anonymize(err.Error()))
	}
	e.Error(Anonymize(msg))
}
