package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{Debug: "debug", Info: "info", Warn: "warn", Error: "error"}
var nameToLevel = map[string]Level{"debug": Debug, "info": Info, "warn": Warn, "error": Error}

// Logger writes one JSON object per line.
type Logger struct {
	out    io.Writer
	level  Level
	fields map[string]any
	mu     *sync.Mutex
}

// New returns a stderr logger whose level comes from GHGRAG_LOG_LEVEL.
func New() *Logger {
	return NewWithWriter(os.Stderr, ParseLevel(os.Getenv("GHGRAG_LOG_LEVEL")))
}

func NewWithWriter(w io.Writer, level Level) *Logger {
	return &Logger{out: w, level: level, fields: map[string]any{}, mu: &sync.Mutex{}}
}

// EnvLogFile names the file NewFile writes to when set.
const EnvLogFile = "GHGRAG_LOG_FILE"

// NewFile appends to path, or to $GHGRAG_LOG_FILE when path is empty, for
// programs that own the terminal. The returned func closes the file.
func NewFile(path string) (*Logger, func() error, error) {
	if path == "" {
		path = os.Getenv(EnvLogFile)
	}
	if path == "" {
		path = filepath.Join(os.TempDir(), "ghgrag.log")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewWithWriter(f, ParseLevel(os.Getenv("GHGRAG_LOG_LEVEL"))), f.Close, nil
}

// Nop discards everything.
func Nop() *Logger { return NewWithWriter(io.Discard, Error+1) }

// ParseLevel maps a level name to a Level, defaulting to Info.
func ParseLevel(s string) Level {
	if l, ok := nameToLevel[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return Info
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	child := &Logger{out: l.out, level: l.level, fields: make(map[string]any, len(l.fields)+len(kv)/2), mu: l.mu}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for k, v := range toMap(kv...) {
		child.fields[k] = v
	}
	return child
}

func (l *Logger) Debug(msg string, kv ...any) { l.write(Debug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.write(Info, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.write(Warn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.write(Error, msg, kv) }

func (l *Logger) write(level Level, msg string, kv []any) {
	if l == nil || level < l.level {
		return
	}
	rec := make(map[string]any, 3+len(l.fields)+len(kv)/2)
	rec["ts"] = time.Now().Format(time.RFC3339)
	rec["level"] = levelNames[level]
	rec["msg"] = msg
	for k, v := range l.fields {
		rec[k] = v
	}
	for k, v := range toMap(kv...) {
		rec[k] = v
	}
	maskSecrets(rec)
	b, err := json.Marshal(rec)
	if err != nil {
		b = []byte(fmt.Sprintf(`{"level":%q,"msg":%q,"log_error":%q}`, levelNames[level], msg, err.Error()))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(b, '\n'))
}

func toMap(kv ...any) map[string]any {
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, ok := kv[i+1].(error); ok {
			m[k] = err.Error()
			continue
		}
		m[k] = kv[i+1]
	}
	return m
}

var secretKeys = []string{"key", "token", "secret", "password", "authorization", "apikey"}

// maskSecrets redacts string values stored under secret-looking keys.
func maskSecrets(m map[string]any) {
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			continue
		}
		lowerK := strings.ToLower(k)
		for _, p := range secretKeys {
			if strings.Contains(lowerK, p) {
				m[k] = redact(s)
				break
			}
		}
		if strings.HasPrefix(strings.ToLower(s), "bearer ") {
			m[k] = "Bearer " + redact(s[len("bearer "):])
		}
	}
}

func redact(s string) string {
	n := len(s)
	if n <= 8 {
		return "***"
	}
	return fmt.Sprintf("%s***%s", s[:4], s[n-4:])
}
