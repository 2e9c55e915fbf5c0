package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфигурации; неизвестное значение даёт INFO
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace", "TRACE":
		return TRACE
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// zapLevel отображает уровни на zap; TRACE пишется как Debug
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config параметры системы логирования
type Config struct {
	Dir          string   // Каталог файлов логов; пусто — только консоль
	Service      string   // Имя файла без расширения
	ConsoleLevel LogLevel // Минимальный уровень для stdout
	FileLevel    LogLevel // Минимальный уровень для файла
	MaxSizeMB    int      // Ротация: размер файла
	MaxBackups   int      // Ротация: число архивов
	MaxAgeDays   int      // Ротация: срок хранения
}

// Logger логгер компонента поверх zap
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
	level     zap.AtomicLevel
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = newNopLogger()
	rootCore      = zapcore.NewNopCore()
	consoleLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	fileLevel     = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	fileSink      *lumberjack.Logger
)

func newNopLogger() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// InitDefaultLogger инициализирует систему логирования: консоль + файл с ротацией
func InitDefaultLogger(cfg Config) error {
	if cfg.Service == "" {
		cfg.Service = "server"
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	consoleLevel.SetLevel(cfg.ConsoleLevel.zapLevel())
	fileLevel.SetLevel(cfg.FileLevel.zapLevel())

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), consoleLevel),
	}

	var sink *lumberjack.Logger
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return fmt.Errorf("ошибка создания директории %s: %w", cfg.Dir, err)
		}
		sink = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, cfg.Service+".log"),
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(sink), fileLevel))
	}

	defaultMu.Lock()
	rootCore = zapcore.NewTee(cores...)
	fileSink = sink
	defaultLogger = &Logger{
		component: cfg.Service,
		sugar:     zap.New(rootCore, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar(),
		level:     consoleLevel,
	}
	defaultMu.Unlock()

	GetLoggerManager().reset()
	return nil
}

// CloseDefaultLogger сбрасывает буферы и закрывает файл
func CloseDefaultLogger() {
	// stdout не поддерживает fsync на части систем, ошибку не показываем
	_ = GetLoggerManager().SyncAll()

	defaultMu.Lock()
	defer defaultMu.Unlock()

	_ = defaultLogger.sugar.Sync()
	if fileSink != nil {
		_ = fileSink.Close()
		fileSink = nil
	}
}

// NewLogger создаёт логгер компонента поверх общего ядра
func NewLogger(component string) (*Logger, error) {
	if component == "" {
		return nil, fmt.Errorf("component name is empty")
	}

	defaultMu.RLock()
	core := rootCore
	defaultMu.RUnlock()

	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	filtered := levelFilterCore{Core: core, level: level}

	return &Logger{
		component: component,
		sugar: zap.New(filtered, zap.AddCaller(), zap.AddCallerSkip(1)).
			Named(component).Sugar(),
		level: level,
	}, nil
}

// levelFilterCore отсекает записи ниже уровня компонента, не трогая уровни приёмников
type levelFilterCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c levelFilterCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l) && c.Core.Enabled(l)
}

func (c levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return levelFilterCore{Core: c.Core.With(fields), level: c.level}
}

func (c levelFilterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// Component имя компонента
func (l *Logger) Component() string { return l.component }

// SetLevel ограничивает минимальный уровень этого логгера
func (l *Logger) SetLevel(level LogLevel) { l.level.SetLevel(level.zapLevel()) }

// With возвращает логгер с постоянными полями (ключ, значение, ...)
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{component: l.component, sugar: l.sugar.With(keysAndValues...), level: l.level}
}

// Enabled пишет ли логгер сообщения уровня level хоть в один приёмник
func (l *Logger) Enabled(level LogLevel) bool {
	return l.sugar.Desugar().Core().Enabled(level.zapLevel())
}

func (l *Logger) Trace(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Close сбрасывает буфер логгера
func (l *Logger) Close() error {
	return l.sugar.Sync()
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Debug логирует сообщение уровня DEBUG в логгер по умолчанию
func Debug(format string, args ...interface{}) { current().sugar.Debugf(format, args...) }

// Info логирует сообщение уровня INFO в логгер по умолчанию
func Info(format string, args ...interface{}) { current().sugar.Infof(format, args...) }

// Warn логирует сообщение уровня WARN в логгер по умолчанию
func Warn(format string, args ...interface{}) { current().sugar.Warnf(format, args...) }

// Error логирует сообщение уровня ERROR в логгер по умолчанию
func Error(format string, args ...interface{}) { current().sugar.Errorf(format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	dump := hex.Dump(data[:size])
	if len(data) > size {
		dump += fmt.Sprintf("... (%d more bytes)", len(data)-size)
	}
	return dump
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
