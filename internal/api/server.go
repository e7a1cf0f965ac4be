package api

import (
	"context"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"saferoute/internal/cache"
	"saferoute/internal/config"
	"saferoute/internal/engine"
	"saferoute/internal/hexindex"
	"saferoute/internal/metrics"
	"saferoute/internal/providers"
	"saferoute/internal/solver"
	"saferoute/internal/store"
)

// Server wires the engine, spatial indexes and event broker behind the
// HTTP surface. The engine never depends on this package.
type Server struct {
	Store    store.Store
	Engine   *engine.Service
	Dispatch *engine.Dispatcher
	Cache    *cache.LocationCache
	Hex      *hexindex.Index
	Broker   EventBroker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   float64
	burst    int
}

// NewServer builds a Server from config. No DATABASE_URL means the
// in-memory store; no REDIS_URL means the in-process broker.
func NewServer(cfg *config.Config) (*Server, error) {
	var st store.Store
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := pg.Migrate(context.Background()); err != nil {
				return nil, err
			}
		}
		st = pg
	}

	var broker EventBroker
	if cfg.RedisURL != "" {
		if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	locCache := cache.NewLocationCache(cfg.CacheTTL)
	hex := hexindex.New(cfg.HexEdgeM, cfg.CacheTTL)
	traffic := providers.NewTrafficAggregator(0)
	builder := &engine.SegmentBuilder{
		Directions: providers.StraightLineDirections{SpeedMps: cfg.SpeedMps},
		Traffic:    traffic,
		FuelPerKm:  cfg.FuelPerKm,
		SpeedMps:   cfg.SpeedMps,
	}
	svc := &engine.Service{
		Cost: &engine.CostModel{
			Traffic:   traffic,
			FuelPerKm: cfg.FuelPerKm,
			SpeedMps:  cfg.SpeedMps,
		},
		Sequencer: &engine.Sequencer{
			Solver:     solver.New(),
			PathFinder: engine.NewPathFinder(),
			Policy:     cfg.SequencerPolicy,
		},
		Builder: builder,
		Ranker:  &engine.AlternativeRanker{Directions: providers.StraightLineDirections{SpeedMps: cfg.SpeedMps}, Builder: builder},
		Monitor: &engine.Monitor{Store: st},
		Store:   st,
	}

	metrics.RegisterDefault()
	return &Server{
		Store:    st,
		Engine:   svc,
		Dispatch: &engine.Dispatcher{Cache: locCache, Hex: hex},
		Cache:    locCache,
		Hex:      hex,
		Broker:   broker,
		limiters: map[string]*rate.Limiter{},
		perMin:   cfg.TelemetryPerMin,
		burst:    cfg.TelemetryBurst,
	}, nil
}

// limiterFor returns the per-rider telemetry rate limiter, creating it on
// first contact.
func (s *Server) limiterFor(riderID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.limiters[riderID]; ok {
		return l
	}
	perMin := s.perMin
	if perMin <= 0 {
		perMin = 2
	}
	burst := s.burst
	if burst <= 0 {
		burst = 5
	}
	l := rate.NewLimiter(rate.Limit(perMin/60), burst)
	s.limiters[riderID] = l
	return l
}
