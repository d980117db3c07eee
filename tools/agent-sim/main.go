// agent-sim drives the agent API with a fleet of simulated game servers.
// Each simulated server heartbeats its player list, polls for commands and
// acknowledges everything it receives.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"
)

// errStopping marks requests the rate limiter refused because the run is ending.
var errStopping = errors.New("simulation stopping")

type config struct {
	baseURL  string
	apiKey   string
	agents   int
	players  int
	duration time.Duration
	rps      int
	interval time.Duration
	failRate float64
}

type counters struct {
	heartbeats atomic.Int64
	polls      atomic.Int64
	received   atomic.Int64
	acked      atomic.Int64
	errors     atomic.Int64
}

type simPlayer struct {
	PlayerID    string `json:"player_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AccountAge  int    `json:"account_age"`
	Ping        int    `json:"ping"`
}

type polledCommand struct {
	ID   string `json:"id"`
	Type string `json:"command_type"`
}

type agent struct {
	serverID string
	players  []simPlayer
	cfg      *config
	client   *http.Client
	limiter  *rate.Limiter
	stats    *counters
}

func main() {
	cfg := &config{}
	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "Agent API base URL")
	flag.StringVar(&cfg.apiKey, "api-key", "", "Place API key")
	flag.IntVarP(&cfg.agents, "agents", "c", 10, "Number of simulated game servers")
	flag.IntVar(&cfg.players, "players", 20, "Players per game server")
	flag.DurationVarP(&cfg.duration, "duration", "d", 30*time.Second, "How long to run")
	flag.IntVar(&cfg.rps, "rps", 200, "Request rate limit across all agents")
	flag.DurationVar(&cfg.interval, "interval", time.Second, "Pause between agent cycles")
	flag.Float64Var(&cfg.failRate, "fail-rate", 0, "Fraction of commands acknowledged as FAILED")
	flag.Parse()

	if cfg.apiKey == "" {
		log.Fatal("--api-key is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	log.Printf("Simulating %d game servers against %s", cfg.agents, cfg.baseURL)
	log.Printf("Players per server: %d, Duration: %s, RPS: %d", cfg.players, cfg.duration, cfg.rps)

	start := time.Now()
	stats := simulate(ctx, cfg)
	elapsed := time.Since(start)

	total := stats.heartbeats.Load() + stats.polls.Load() + stats.acked.Load() + stats.errors.Load()
	log.Println("Simulation finished.")
	log.Printf("Heartbeats: %d", stats.heartbeats.Load())
	log.Printf("Polls: %d", stats.polls.Load())
	log.Printf("Commands received: %d", stats.received.Load())
	log.Printf("Commands acknowledged: %d", stats.acked.Load())
	log.Printf("Errors: %d", stats.errors.Load())
	log.Printf("Actual RPS: %.2f", float64(total)/elapsed.Seconds())
}

// simulate runs every agent until ctx is done and returns the totals.
func simulate(ctx context.Context, cfg *config) *counters {
	stats := &counters{}
	limiter := rate.NewLimiter(rate.Limit(cfg.rps), max(cfg.agents, 1))
	client := &http.Client{Timeout: 5 * time.Second}

	var wg sync.WaitGroup
	for i := 0; i < cfg.agents; i++ {
		a := &agent{
			serverID: "sim-" + uuid.NewString()[:8],
			players:  makePlayers(i, cfg.players),
			cfg:      cfg,
			client:   client,
			limiter:  limiter,
			stats:    stats,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.run(ctx)
		}()
	}
	wg.Wait()
	return stats
}

func makePlayers(agentIndex, n int) []simPlayer {
	players := make([]simPlayer, n)
	for i := range players {
		id := strconv.Itoa(1_000_000 + agentIndex*10_000 + i)
		players[i] = simPlayer{
			PlayerID:    id,
			Username:    "sim_" + id,
			DisplayName: "Sim " + id,
			AccountAge:  rand.IntN(3650),
		}
	}
	return players
}

func (a *agent) run(ctx context.Context) {
	for {
		a.cycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.interval):
		}
	}
}

func (a *agent) cycle(ctx context.Context) {
	for i := range a.players {
		a.players[i].Ping = 20 + rand.IntN(200)
	}
	if err := a.send(ctx, http.MethodPost, "/heartbeat", map[string]any{"server_id": a.serverID, "players": a.players}, nil); err != nil {
		a.fail(ctx, "heartbeat", err)
		return
	}
	a.stats.heartbeats.Add(1)

	var polled struct {
		Commands []polledCommand `json:"commands"`
	}
	if err := a.send(ctx, http.MethodGet, "/commands?server_id="+a.serverID, nil, &polled); err != nil {
		a.fail(ctx, "poll", err)
		return
	}
	a.stats.polls.Add(1)
	a.stats.received.Add(int64(len(polled.Commands)))

	for _, cmd := range polled.Commands {
		status, msg := "SUCCESS", "handled "+strings.ToLower(cmd.Type)
		if rand.Float64() < a.cfg.failRate {
			status, msg = "FAILED", "simulated failure"
		}
		body := map[string]any{"command_id": cmd.ID, "server_id": a.serverID, "status": status, "result_message": msg}
		if err := a.send(ctx, http.MethodPost, "/commands/ack", body, nil); err != nil {
			a.fail(ctx, "ack", err)
			continue
		}
		a.stats.acked.Add(1)
	}
}

func (a *agent) fail(ctx context.Context, op string, err error) {
	if ctx.Err() != nil || errors.Is(err, errStopping) {
		return
	}
	a.stats.errors.Add(1)
	log.Printf("[%s] %s failed: %v", a.serverID, op, err)
}

func (a *agent) send(ctx context.Context, method, path string, body, result any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", errStopping, err)
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(a.cfg.baseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", a.cfg.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}
