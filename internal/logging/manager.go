package logging

import (
	"fmt"
	"sort"
	"sync"
)

// Компоненты сервера комнат; имя попадает в поле "logger" каждой записи
const (
	ComponentServer   = "server"
	ComponentNetwork  = "network"
	ComponentRoom     = "room"
	ComponentEntity   = "entity"
	ComponentStorage  = "storage"
	ComponentCache    = "cache"
	ComponentBridge   = "bridge"
	ComponentEventBus = "eventbus"
	ComponentAPI      = "api"
	ComponentHTTP     = "http"
)

// LoggerManager реестр логгеров компонентов.
//
// Логгер строится поверх ядра, актуального на момент первого запроса.
// InitDefaultLogger меняет ядро и начинает новое поколение реестра:
// следующие запросы получат логгеры на новом ядре, а выданные раньше
// продолжают писать туда, куда писали.
type LoggerManager struct {
	mu         sync.RWMutex
	loggers    map[string]*Logger
	generation uint64
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{loggers: make(map[string]*Logger)}
	})
	return globalManager
}

// GetLogger логгер компонента текущего поколения
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	logger, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return logger, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("logger %q: %w", component, err)
	}
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger как GetLogger, но вместо ошибки отдаёт логгер сервера
// (имя из logging.Config.Service) текущего поколения. Компоненты берут
// логгер при создании, поэтому всё, что создано после InitDefaultLogger,
// пишет в настроенные приёмники.
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return current()
	}
	return logger
}

// SyncAll сбрасывает буферы логгеров текущего поколения. Реестр не
// очищается: логгеры остаются у компонентов и пишут дальше.
func (lm *LoggerManager) SyncAll() error {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var firstErr error
	for _, component := range lm.componentsLocked() {
		if err := lm.loggers[component].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sync %q: %w", component, err)
		}
	}
	return firstErr
}

// reset начинает новое поколение после смены ядра в InitDefaultLogger
func (lm *LoggerManager) reset() {
	lm.mu.Lock()
	lm.loggers = make(map[string]*Logger)
	lm.generation++
	lm.mu.Unlock()
}

// Generation номер поколения; растёт с каждым InitDefaultLogger
func (lm *LoggerManager) Generation() uint64 {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.generation
}

// ListComponents компоненты текущего поколения по алфавиту
func (lm *LoggerManager) ListComponents() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.componentsLocked()
}

func (lm *LoggerManager) componentsLocked() []string {
	out := make([]string, 0, len(lm.loggers))
	for component := range lm.loggers {
		out = append(out, component)
	}
	sort.Strings(out)
	return out
}

// SetLogLevel уровень уже выданного логгера; действует до следующего InitDefaultLogger
func (lm *LoggerManager) SetLogLevel(component string, level LogLevel) error {
	lm.mu.RLock()
	logger, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("logger %q not registered", component)
	}
	logger.SetLevel(level)
	return nil
}

func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger { return GetComponentLogger(ComponentNetwork) }
func GetServerLogger() *Logger  { return GetComponentLogger(ComponentServer) }
func GetRoomLogger() *Logger    { return GetComponentLogger(ComponentRoom) }
func GetEntityLogger() *Logger  { return GetComponentLogger(ComponentEntity) }
func GetStorageLogger() *Logger { return GetComponentLogger(ComponentStorage) }
