package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/annel0/room-server/internal/protocol"
	"github.com/annel0/room-server/internal/vec"
)

// probeOptions ручная проверка сервера: вход в комнату и прогулка
type probeOptions struct {
	Addr   string
	RoomID int
	Name   string
	Target *vec.Vec2 // nil: только вход
	Listen time.Duration
}

func probe(opts probeOptions) error {
	conn, err := net.DialTimeout("tcp", opts.Addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()
	fmt.Printf("🔌 Connected to %s\n", opts.Addr)

	send := func(w *protocol.Writer) error {
		data, err := w.Frame()
		if err != nil {
			return err
		}
		fmt.Printf("→ %s %q\n", w.OpCode(), w.Body())
		_, err = conn.Write(data)
		return err
	}

	if err := send(protocol.NewWriter(protocol.OpEnterRoom).VL64(opts.RoomID).String(opts.Name)); err != nil {
		return err
	}
	if err := send(protocol.NewWriter(protocol.OpGetHeightmap)); err != nil {
		return err
	}
	if opts.Target != nil {
		if err := send(protocol.NewWriter(protocol.OpWalk).B64(opts.Target.X, 2).B64(opts.Target.Y, 2)); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(opts.Listen)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return err
		}
		frame, err := protocol.ReadFrame(conn, 0)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return err
		}
		printFrame(frame)
	}

	if err := send(protocol.NewWriter(protocol.OpLeaveRoom)); err != nil {
		return err
	}
	fmt.Println("👋 Done")
	return nil
}

func printFrame(frame *protocol.Frame) {
	body := string(frame.Body)
	if frame.OpCode == protocol.OpHeightmap {
		fmt.Printf("← %s\n", frame.OpCode)
		for _, row := range strings.Split(strings.TrimRight(body, "\r"), "\r") {
			fmt.Println("   " + row)
		}
		return
	}
	fmt.Printf("← %s %q\n", frame.OpCode, body)
}

// parseTarget разбирает "x,y"
func parseTarget(s string) (*vec.Vec2, error) {
	if s == "" {
		return nil, nil
	}
	var v vec.Vec2
	if _, err := fmt.Sscanf(s, "%d,%d", &v.X, &v.Y); err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", s, err)
	}
	return &v, nil
}
