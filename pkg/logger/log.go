package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type LogLevel int

const (
	VERBOSE LogLevel = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

func (e LogLevel) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogLevel) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),
		color.New(color.FgWhite, color.Italic),
		color.New(color.FgWhite),
		color.New(color.FgHiGreen),
		color.New(color.FgGreen, color.Italic),
		color.New(color.FgYellow, color.Italic),
		color.New(color.FgHiYellow),
		color.New(color.FgYellow, color.Underline),
		color.New(color.FgHiRed, color.Bold),
		color.New(color.FgHiRed, color.Bold, color.Underline),
	}[e]
}

func (e LogLevel) Level() int { return int(e) }

type Logger interface {
	Emit(LogLevel, string, ...interface{})
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(level LogLevel, message string, interpolations ...interface{}) {
	Log.Emit(level, l.name, message, interpolations...)
}

type LoggerManager interface {
	GetLogger(string) Logger
	Emit(LogLevel, string, string, ...interface{})
	SetMinLevel(int)
}

var Log LoggerManager = &loggerMgr{
	minLevel: int(INFO),
}

type loggerMgr struct {
	mu       sync.Mutex
	offset   int
	minLevel int
}

func (l *loggerMgr) GetLogger(name string) Logger {
	return &loggerImpl{name: name}
}

func (l *loggerMgr) Emit(level LogLevel, name string, message string, interpolations ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level.Level() < l.minLevel {
		return
	}

	l.setNameOffset(len(name))
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, level, fmt.Sprintf(message, interpolations...))

	level.Color().Print(msg)
}

func (l *loggerMgr) SetMinLevel(min int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.minLevel = min
}

func (l *loggerMgr) setNameOffset(offset int) {
	if offset > l.offset {
		l.offset = offset
	}
}

func Get(name string) Logger {
	return Log.GetLogger(name)
}

// SetMinLoggingLevel adjusts the threshold below which emitted messages
// are dropped. Mainly useful for quietening tests, or for enabling
// verbose output via a CLI flag.
func SetMinLoggingLevel(min int) {
	Log.SetMinLevel(min)
}
