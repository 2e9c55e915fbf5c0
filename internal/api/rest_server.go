// Package api административный REST API сервера комнат.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/room-server/internal/auth"
	"github.com/annel0/room-server/internal/logging"
	"github.com/annel0/room-server/internal/middleware"
	"github.com/annel0/room-server/internal/observability"
	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/vec"
)

const serviceName = "room_admin"

// RoomDirectory доступ к комнатам; реализуется room.Manager
type RoomDirectory interface {
	Infos(ctx context.Context) ([]*room.Info, error)
	Get(id int) (*room.Room, bool)
	GetOrLoad(ctx context.Context, id int) (*room.Room, error)
	Rooms() []*room.Room
	Unload(ctx context.Context, id int) error
}

// SessionCounter число открытых клиентских сессий
type SessionCounter interface {
	Sessions() int
}

// RoomInvalidator сбрасывает кешированное описание комнаты
type RoomInvalidator interface {
	Invalidate(ctx context.Context, id int) error
}

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	rooms      RoomDirectory
	sessions   SessionCounter
	invalidate RoomInvalidator
	issuer     *auth.Issuer
	host       *observability.HostSampler
	version    string
	timeout    time.Duration
	logger     *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string               // адрес для запуска сервера, например ":8088"
	Rooms    RoomDirectory        // менеджер комнат
	Sessions SessionCounter       // сетевой сервер; может быть nil
	Cache    RoomInvalidator      // при выгрузке комната перечитывается из хранилища; может быть nil
	Issuer   *auth.Issuer         // проверка админских токенов
	Registry *prometheus.Registry // метрики HTTP и /metrics; nil — дефолтный регистр
	Version  string
	Timeout  time.Duration // ограничение на обращения к комнатам
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Issuer == nil {
		config.Issuer = auth.NewRandomIssuer()
	}

	router := gin.New() // без стандартного logger, recovery добавляем явно
	router.Use(gin.Recovery())

	// === Observability middleware ===
	router.Use(otelgin.Middleware(serviceName))
	router.Use(middleware.NewRequestLogger().Handler())

	var (
		reg      prometheus.Registerer
		gatherer prometheus.Gatherer
	)
	if config.Registry != nil {
		reg, gatherer = config.Registry, config.Registry
	}
	promMw := middleware.NewPrometheusMiddleware(serviceName, reg)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, gatherer)

	rs := &RestServer{
		router:     router,
		rooms:      config.Rooms,
		sessions:   config.Sessions,
		invalidate: config.Cache,
		issuer:     config.Issuer,
		version:    config.Version,
		timeout:    config.Timeout,
		logger:     logging.GetComponentLogger(logging.ComponentAPI),
	}
	if host, err := observability.NewHostSampler(); err == nil {
		rs.host = host
	} else {
		rs.logger.Warn("Показатели процесса недоступны: %v", err)
	}
	rs.httpServer = &http.Server{Addr: config.Port, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	rs.setupRoutes()
	return rs
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/server", rs.handleServerInfo)
		api.GET("/rooms", rs.handleListRooms)
		api.GET("/rooms/:id", rs.handleGetRoom)
		api.GET("/rooms/:id/heightmap", rs.handleHeightmap)
		api.GET("/rooms/:id/entities", rs.handleEntities)
		api.GET("/rooms/:id/reservations", rs.handleReservations)
	}

	admin := api.Group("/admin")
	admin.Use(rs.jwtMiddleware(), rs.adminMiddleware())
	{
		admin.POST("/rooms/:id/entities/:eid/teleport", rs.handleTeleport)
		admin.DELETE("/rooms/:id", rs.handleUnloadRoom)
	}
}

// Handler корневой http.Handler (для тестов и встраивания)
func (rs *RestServer) Handler() http.Handler { return rs.router }

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RoomSummary комната в списке
type RoomSummary struct {
	room.Info
	Loaded   bool `json:"loaded"`
	Entities int  `json:"entities"`
}

// HeightmapResponse карта высот комнаты
type HeightmapResponse struct {
	ModelID       string   `json:"model_id"`
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	Rows          []string `json:"rows"`
	Door          vec.Vec3 `json:"door"`
	DoorDirection string   `json:"door_direction"`
}

// EntityView сущность для JSON
type EntityView struct {
	ID       uint64            `json:"id"`
	Name     string            `json:"name"`
	Position vec.Vec3          `json:"position"`
	Head     string            `json:"head"`
	Body     string            `json:"body"`
	Walking  bool              `json:"walking"`
	Stance   map[string]string `json:"stance,omitempty"`
}

// TeleportRequest целевая клетка; без z высота берётся из карты
type TeleportRequest struct {
	X int      `json:"x"`
	Y int      `json:"y"`
	Z *float64 `json:"z"`
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

func (rs *RestServer) roomID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "Неверный ID комнаты")
		return 0, false
	}
	return id, true
}

// loadRoom загружает комнату; 404 для неизвестных
func (rs *RestServer) loadRoom(c *gin.Context, ctx context.Context) (*room.Room, bool) {
	id, ok := rs.roomID(c)
	if !ok {
		return nil, false
	}
	rm, err := rs.rooms.GetOrLoad(ctx, id)
	if errors.Is(err, room.ErrRoomNotFound) {
		respondError(c, http.StatusNotFound, "Комната не найдена")
		return nil, false
	}
	if err != nil {
		rs.logger.Error("Комната %d не загружена: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return nil, false
	}
	return rm, true
}

func (rs *RestServer) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), rs.timeout)
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// handleServerInfo возвращает информацию о сервере
func (rs *RestServer) handleServerInfo(c *gin.Context) {
	loaded := rs.rooms.Rooms()
	entities := 0
	for _, rm := range loaded {
		entities += rm.Len()
	}

	info := gin.H{
		"name":         "Room Server",
		"version":      rs.version,
		"status":       "running",
		"rooms_loaded": len(loaded),
		"entities":     entities,
	}
	if rs.sessions != nil {
		info["sessions"] = rs.sessions.Sessions()
	}
	if rs.host != nil {
		info["host"] = rs.host.Sample(c.Request.Context())
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

func (rs *RestServer) summary(info *room.Info) RoomSummary {
	s := RoomSummary{Info: *info}
	if rm, ok := rs.rooms.Get(info.ID); ok {
		s.Loaded = true
		s.Entities = rm.Len()
	}
	return s
}

func (rs *RestServer) handleListRooms(c *gin.Context) {
	ctx, cancel := rs.requestContext(c)
	defer cancel()

	infos, err := rs.rooms.Infos(ctx)
	if err != nil {
		rs.logger.Error("Список комнат недоступен: %v", err)
		respondError(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}
	list := make([]RoomSummary, 0, len(infos))
	for _, info := range infos {
		list = append(list, rs.summary(info))
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Комнаты", Data: list})
}

func (rs *RestServer) handleGetRoom(c *gin.Context) {
	id, ok := rs.roomID(c)
	if !ok {
		return
	}
	ctx, cancel := rs.requestContext(c)
	defer cancel()

	infos, err := rs.rooms.Infos(ctx)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Внутренняя ошибка сервера")
		return
	}
	for _, info := range infos {
		if info.ID == id {
			c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Комната", Data: rs.summary(info)})
			return
		}
	}
	respondError(c, http.StatusNotFound, "Комната не найдена")
}

func (rs *RestServer) handleHeightmap(c *gin.Context) {
	ctx, cancel := rs.requestContext(c)
	defer cancel()
	rm, ok := rs.loadRoom(c, ctx)
	if !ok {
		return
	}

	model := rm.Model()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Карта высот",
		Data: HeightmapResponse{
			ModelID:       model.ID,
			Width:         model.Heightmap.Width(),
			Height:        model.Heightmap.Height(),
			Rows:          model.Heightmap.Rows(),
			Door:          model.Door,
			DoorDirection: model.DoorDirection.String(),
		},
	})
}

func (rs *RestServer) handleEntities(c *gin.Context) {
	id, ok := rs.roomID(c)
	if !ok {
		return
	}
	views := []EntityView{}
	rm, loaded := rs.rooms.Get(id)
	if loaded {
		ctx, cancel := rs.requestContext(c)
		defer cancel()
		infos, err := rm.Entities(ctx)
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "Комната не ответила")
			return
		}
		for _, info := range infos {
			views = append(views, EntityView{
				ID:       info.ID,
				Name:     info.Name,
				Position: info.Position,
				Head:     info.Stance.HeadDirection.String(),
				Body:     info.Stance.BodyDirection.String(),
				Walking:  info.Walking,
				Stance:   info.Stance.Properties(),
			})
		}
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Сущности", Data: views})
}

func (rs *RestServer) handleReservations(c *gin.Context) {
	id, ok := rs.roomID(c)
	if !ok {
		return
	}
	rm, loaded := rs.rooms.Get(id)
	if !loaded {
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Комната не загружена", Data: []vec.Vec2{}})
		return
	}
	ctx, cancel := rs.requestContext(c)
	defer cancel()
	tiles, err := rm.Coordinator().ReservedTiles(ctx)
	if err != nil {
		respondError(c, http.StatusServiceUnavailable, "Координатор не ответил")
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Занятые клетки", Data: tiles})
}

// handleTeleport переносит сущность; ответ 202, итог приходит подписчикам комнаты
func (rs *RestServer) handleTeleport(c *gin.Context) {
	id, ok := rs.roomID(c)
	if !ok {
		return
	}
	eid, err := strconv.ParseUint(c.Param("eid"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Неверный ID сущности")
		return
	}
	var req TeleportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Неверный формат запроса: "+err.Error())
		return
	}

	rm, loaded := rs.rooms.Get(id)
	if !loaded {
		respondError(c, http.StatusNotFound, "Комната не загружена")
		return
	}
	e, found := rm.Entity(eid)
	if !found {
		respondError(c, http.StatusNotFound, "Сущность не найдена")
		return
	}

	target := vec.Vec3{X: req.X, Y: req.Y}
	if req.Z != nil {
		target.Z = *req.Z
	}
	if err := e.TeleportTo(target); err != nil {
		respondError(c, http.StatusConflict, "Сущность уже покинула комнату")
		return
	}

	operator, _ := c.Get(operatorKey)
	rs.logger.Info("🪄 %v телепортирует %d в комнате %d на %s", operator, eid, id, target)
	c.JSON(http.StatusAccepted, GenericResponse{Success: true, Message: "Телепорт запрошен", Data: target})
}

func (rs *RestServer) handleUnloadRoom(c *gin.Context) {
	id, ok := rs.roomID(c)
	if !ok {
		return
	}
	ctx, cancel := rs.requestContext(c)
	defer cancel()
	if rs.invalidate != nil {
		if err := rs.invalidate.Invalidate(ctx, id); err != nil {
			rs.logger.Warn("Кеш комнаты %d не сброшен: %v", id, err)
		}
	}
	if err := rs.rooms.Unload(ctx, id); err != nil {
		respondError(c, http.StatusNotFound, err.Error())
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Комната выгружена"})
}

// Start запускает REST сервер; блокирует до Stop
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API на %s", rs.httpServer.Addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop мягко останавливает REST сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}
