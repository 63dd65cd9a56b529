package main

import (
    "context"
    "fmt"
    "log"
    "os"
    "time"

    "github.com/park285/chess-relay/internal/coordinator"
    "github.com/park285/chess-relay/internal/relayclient"
)

func main() {
    baseURL := os.Getenv("RELAY_BASE_URL")
    wsURL := os.Getenv("RELAY_WS_URL")
    origin := os.Getenv("RELAY_ORIGIN")

    if baseURL == "" {
        log.Fatal("RELAY_BASE_URL is required")
    }

    client := relayclient.NewClient(baseURL, relayclient.WithTimeout(8*time.Second))

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    h, err := client.Health(ctx)
    if err != nil {
        log.Printf("/healthz error: %v", err)
    } else {
        log.Printf("/healthz ok: conns=%d rooms=%d sessions=%d queued=%d", h.Stats.Connections, h.Stats.Rooms, h.Stats.Sessions, h.Stats.Queued)
    }
    rooms, err := client.Rooms(ctx)
    if err != nil {
        log.Printf("/api/rooms error: %v", err)
    } else {
        for _, r := range rooms {
            fmt.Printf("room id=%s name=%q players=%d\n", r.ID, r.Name, r.Players)
        }
    }

    if wsURL == "" {
        log.Println("RELAY_WS_URL not set; skipping WS check")
        return
    }

    stream := relayclient.NewStream(wsURL, origin)
    stream.OnEvent(func(ev relayclient.Event) {
        fmt.Printf("WS event=%s data=%s\n", ev.Event, string(ev.Data))
    })

    cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer ccancel()
    if err := stream.Connect(cctx); err != nil {
        log.Printf("WS connect error: %v", err)
        return
    }
    if err := stream.Send(cctx, coordinator.EvGetRooms, nil); err != nil {
        log.Printf("WS send error: %v", err)
    }

    // Observe for a short window
    select {
    case <-time.After(5 * time.Second):
    case <-stream.Done():
        log.Println("WS closed by server")
    }
    _ = stream.Close(context.Background())
}
