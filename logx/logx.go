// Package logx is a small levelled logger. Output goes to one primary
// writer, optionally buffered, and is fanned out to a syslog sink when one
// is attached.
package logx

import (
	"bufio"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

type logger struct {
	mu         sync.Mutex
	out        io.Writer
	buf        *bufio.Writer
	sys        io.Writer
	level      Level
	instaflush bool
}

var std = &logger{out: os.Stderr, level: LevelInfo, instaflush: true}

// Init replaces the primary writer. With instaflush unset, records are
// buffered until Flush or SetInstaflush(true).
func Init(w io.Writer, lvl Level, instaflush bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.out = w
	std.buf = bufio.NewWriterSize(w, 64*1024)
	std.sys = nil
	std.level = lvl
	std.instaflush = instaflush
}

func SetLevel(lvl Level) {
	std.mu.Lock()
	std.level = lvl
	std.mu.Unlock()
}

func CurrentLevel() Level {
	std.mu.Lock()
	defer std.mu.Unlock()
	return std.level
}

// SetInstaflush switches buffering off (flushing what is pending) or on.
func SetInstaflush(on bool) {
	std.mu.Lock()
	defer std.mu.Unlock()
	std.instaflush = on
	if on && std.buf != nil {
		_ = std.buf.Flush()
	}
}

func Flush() {
	std.mu.Lock()
	defer std.mu.Unlock()
	if std.buf != nil {
		_ = std.buf.Flush()
	}
}

// AttachSyslog adds a second sink that receives every record.
func AttachSyslog(w io.Writer) {
	std.mu.Lock()
	std.sys = w
	std.mu.Unlock()
}

// EnableSyslog connects to the local syslog daemon and attaches it.
func EnableSyslog(tag string) error {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		return err
	}
	AttachSyslog(w)
	return nil
}

func Errorf(format string, args ...any) { std.logf(LevelError, format, args...) }
func Infof(format string, args ...any)  { std.logf(LevelInfo, format, args...) }
func Debugf(format string, args ...any) { std.logf(LevelDebug, format, args...) }
func Tracef(format string, args ...any) { std.logf(LevelTrace, format, args...) }

func (l *logger) logf(lvl Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl > l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format("2006/01/02 15:04:05"), lvl, msg)

	switch {
	case l.instaflush || l.buf == nil:
		_, _ = io.WriteString(l.out, line)
	default:
		_, _ = l.buf.WriteString(line)
	}
	if l.sys != nil {
		_, _ = io.WriteString(l.sys, msg+"\n")
	}
}
