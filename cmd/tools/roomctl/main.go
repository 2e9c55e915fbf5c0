// roomctl служебная утилита сервера комнат.
//
//	roomctl -cmd genmodel -id model_cave -width 20 -height 16 -seed 7
//	roomctl -cmd token -operator alice -ttl 12h
//	roomctl -cmd tail -nats nats://127.0.0.1:4222 -types EntityJoined,EntityLeft
//	roomctl -cmd health -server localhost:9090
//	roomctl -cmd probe -addr localhost:30000 -room 1 -walk 5,5
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/annel0/room-server/internal/auth"
	"github.com/annel0/room-server/internal/config"
	"github.com/annel0/room-server/internal/eventbus"
	"github.com/annel0/room-server/internal/network"
	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/storage"
)

const defaultServerAddr = "localhost:9090"

func main() {
	var (
		configPath = flag.String("config", "", "YAML конфигурация сервера (или ROOM_CONFIG)")
		command    = flag.String("cmd", "", "Command: genmodel, token, tail, health, probe")

		modelID = flag.String("id", "", "genmodel: ID модели")
		width   = flag.Int("width", 16, "genmodel: ширина")
		height  = flag.Int("height", 16, "genmodel: высота")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "genmodel: сид шума")
		levels  = flag.Int("levels", 3, "genmodel: число уровней высоты")
		dryRun  = flag.Bool("dry-run", false, "genmodel: только вывести карту")

		operator = flag.String("operator", "admin", "token: имя оператора")
		ttl      = flag.Duration("ttl", auth.DefaultTokenTTL, "token: срок жизни")

		natsURL    = flag.String("nats", "", "tail: адрес NATS (по умолчанию из конфигурации)")
		eventTypes = flag.String("types", "", "tail: фильтр типов событий (через запятую)")

		serverAddr = flag.String("server", defaultServerAddr, "health: адрес gRPC health")

		gameAddr = flag.String("addr", "localhost:30000", "probe: TCP адрес сервера комнат")
		roomID   = flag.Int("room", 1, "probe: комната")
		name     = flag.String("name", "probe", "probe: имя сущности")
		walk     = flag.String("walk", "", "probe: цель ходьбы x,y")
		listen   = flag.Duration("listen", 5*time.Second, "probe: сколько слушать ответы")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	switch *command {
	case "genmodel":
		if *modelID == "" {
			log.Fatalf("❌ genmodel requires -id")
		}
		gen := room.NewModelGenerator(*seed)
		gen.Levels = *levels
		if err := genModel(cfg, gen, *modelID, *width, *height, *dryRun); err != nil {
			log.Fatalf("❌ Genmodel failed: %v", err)
		}

	case "token":
		if err := printToken(cfg, *operator, *ttl); err != nil {
			log.Fatalf("❌ Token failed: %v", err)
		}

	case "tail":
		url := *natsURL
		if url == "" {
			url = cfg.EventBus.URL
		}
		if err := tailEvents(url, cfg.EventBus.Stream, parseStringList(*eventTypes)); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "health":
		if err := checkHealth(*serverAddr); err != nil {
			log.Fatalf("❌ Health failed: %v", err)
		}

	case "probe":
		target, err := parseTarget(*walk)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		if err := probe(probeOptions{Addr: *gameAddr, RoomID: *roomID, Name: *name, Target: target, Listen: *listen}); err != nil {
			log.Fatalf("❌ Probe failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: genmodel, token, tail, health, probe")
		os.Exit(1)
	}
}

// genModel сохраняет сгенерированную модель в badger
func genModel(cfg *config.Config, gen *room.ModelGenerator, id string, width, height int, dryRun bool) error {
	model, err := gen.Generate(id, width, height)
	if err != nil {
		return err
	}

	fmt.Printf("🗺️  %s %dx%d, дверь %s\n", model.ID, width, height, model.Door)
	for _, row := range model.Heightmap.Rows() {
		fmt.Println("   " + row)
	}
	if dryRun {
		return nil
	}

	store, err := storage.OpenBadgerModelStore(cfg.Storage.BadgerPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveModel(context.Background(), model); err != nil {
		return err
	}
	fmt.Printf("✅ Модель %s сохранена в %s\n", id, cfg.Storage.BadgerPath)
	return nil
}

// printToken выпускает админский токен секретом из конфигурации
func printToken(cfg *config.Config, operator string, ttl time.Duration) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret не задан; сгенерируйте: %s", auth.GenerateSecureSecret())
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	token, err := issuer.Generate(operator, true, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// tailEvents выводит события комнат из JetStream до Ctrl+C
func tailEvents(url, stream string, types []string) error {
	if url == "" {
		return fmt.Errorf("адрес NATS не задан")
	}
	bus, err := eventbus.NewJetStreamBus(url, stream, 0)
	if err != nil {
		return err
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("🎬 Tailing %s (types: %v)\n", stream, types)
	var count atomic.Int64
	sub, err := bus.Subscribe(ctx, eventbus.Filter{Types: types}, func(_ context.Context, ev *eventbus.Envelope) {
		printEvent(ev)
		count.Add(1)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	fmt.Printf("\n📊 Total events: %d\n", count.Load())
	return nil
}

func printEvent(ev *eventbus.Envelope) {
	ts := ev.Timestamp.Format("15:04:05.000")
	pos, err := eventbus.DecodePositionEvent(ev.Payload)
	if err != nil {
		fmt.Printf("[%s] %-12s %s (payload: %v)\n", ts, ev.EventType, ev.ID, err)
		return
	}
	fmt.Printf("[%s] %-12s room=%d entity=%d %q at %d,%d,%.1f walking=%v\n",
		ts, ev.EventType, pos.RoomID, pos.EntityID, pos.Name, pos.X, pos.Y, pos.Z, pos.Walking)
}

// checkHealth запрашивает gRPC health сервиса комнат
func checkHealth(addr string) error {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: network.ServiceRooms})
	if err != nil {
		return err
	}
	fmt.Printf("💓 %s: %s\n", network.ServiceRooms, resp.Status)
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		os.Exit(2)
	}
	return nil
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
