// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать основное приложение (подписки, таймеры звуковых сигналов).
// Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// slowCallThreshold — при уровне info LogDuration пишет только вызовы дольше этого порога.
const slowCallThreshold = 100 * time.Millisecond

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelWarn
	levelError
)

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
)

func init() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "warn", "warning":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(l level, msg string) {
	if l < level(logLevel.Load()) {
		return
	}
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Буфер полон — не блокируем, теряем лог
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "api", "desk").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel переключает уровень логирования ("debug", "info", "warn", "error").
func SetLevel(s string) {
	logLevel.Store(int32(parseLevel(s)))
}

// IsDebug сообщает, включён ли уровень debug.
func IsDebug() bool {
	return level(logLevel.Load()) == levelDebug
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

// Debugf пишет отладочное сообщение (только при LOG_LEVEL=debug).
func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

// Warnf пишет предупреждение: деградация без потери основного потока (пропущенный звук, push).
func Warnf(format string, v ...any) {
	enqueue(levelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if IsDebug() || elapsed >= slowCallThreshold {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("msglog.Append", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
