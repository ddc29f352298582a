// Package service owns the live ledger state. Every mutation runs under one
// lock: engine transform on a copy, versioned save, then swap.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pak-finance/internal/games"
	"pak-finance/internal/ledger"
	"pak-finance/internal/metrics"
	"pak-finance/internal/notify"
	"pak-finance/internal/plans"
	"pak-finance/internal/repo"
)

// Logical record names in the store.
const (
	RecordUsers    = "pak_finance_users"
	RecordRequests = "pak_finance_requests"
	RecordSettings = "pak_finance_settings"
)

var (
	ErrNotLoggedIn = errors.New("no active session")
	ErrForbidden   = errors.New("admin role required")
)

// Config carries caller policy switches.
type Config struct {
	AllowEarlyClaim  bool
	AdminNotifyPhone string
}

// Deps are the collaborators a Service needs. Nil optional fields get
// sensible defaults.
type Deps struct {
	Store   repo.Store
	Engine  *ledger.Engine
	Catalog *plans.Catalog
	Scratch *games.Scratch
	Sink    notify.Sink
	Metrics *metrics.Metrics
}

// Service coordinates ledger operations against the store.
type Service struct {
	mu       sync.Mutex
	state    ledger.State
	versions map[string]int64
	session  string

	store   repo.Store
	engine  *ledger.Engine
	catalog *plans.Catalog
	scratch *games.Scratch
	sink    notify.Sink
	metrics *metrics.Metrics
	cfg     Config
	logger  *slog.Logger
}

// New wires a service. Call Load before use.
func New(deps Deps, cfg Config, logger *slog.Logger) *Service {
	if deps.Engine == nil {
		deps.Engine = ledger.New(ledger.Config{}, logger)
	}
	if deps.Catalog == nil {
		deps.Catalog = plans.Default()
	}
	if deps.Scratch == nil {
		deps.Scratch = games.NewScratch(games.DefaultPrizeMultiplier, nil)
	}
	if deps.Sink == nil {
		deps.Sink = notify.Discard{}
	}
	return &Service{
		versions: map[string]int64{},
		store:    deps.Store,
		engine:   deps.Engine,
		catalog:  deps.Catalog,
		scratch:  deps.Scratch,
		sink:     deps.Sink,
		metrics:  deps.Metrics,
		cfg:      cfg,
		logger:   logger.With("component", "service"),
		state: ledger.State{
			Users:    []ledger.UserProfile{},
			Requests: []ledger.TransactionRequest{},
			Settings: ledger.DefaultSettings(),
		},
	}
}

// Load replaces the in-memory state with what the store holds. Missing
// records start from defaults.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Service) loadLocked(ctx context.Context) error {
	st := ledger.State{
		Users:    []ledger.UserProfile{},
		Requests: []ledger.TransactionRequest{},
		Settings: ledger.DefaultSettings(),
	}
	versions := map[string]int64{}

	targets := map[string]any{
		RecordUsers:    &st.Users,
		RecordRequests: &st.Requests,
		RecordSettings: &st.Settings,
	}
	for name, dst := range targets {
		start := time.Now()
		rec, err := s.store.Load(ctx, name)
		s.observeStore("load", start, err)
		if errors.Is(err, repo.ErrRecordNotFound) {
			versions[name] = 0
			continue
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		if err := json.Unmarshal(rec.Payload, dst); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		versions[name] = rec.Version
	}
	if st.Users == nil {
		st.Users = []ledger.UserProfile{}
	}
	if st.Requests == nil {
		st.Requests = []ledger.TransactionRequest{}
	}

	s.state = st
	s.versions = versions
	s.logger.Debug("state loaded", "users", len(st.Users), "requests", len(st.Requests))
	return nil
}

// commit persists the named records of next and swaps it in. Nothing changes
// when the save fails; on a version conflict the state is reloaded.
func (s *Service) commit(ctx context.Context, next ledger.State, names ...string) error {
	records := make([]repo.Record, 0, len(names))
	for _, name := range names {
		payload, err := encodeRecord(next, name)
		if err != nil {
			return err
		}
		records = append(records, repo.Record{Name: name, Payload: payload, Version: s.versions[name]})
	}

	start := time.Now()
	err := s.store.SaveRecords(ctx, records...)
	s.observeStore("save", start, err)
	if err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			s.logger.Warn("stale state, reloading", "error", err)
			if rerr := s.loadLocked(ctx); rerr != nil {
				s.logger.Error("reload after conflict failed", "error", rerr)
			}
		} else if s.metrics != nil {
			s.metrics.Errors.WithLabelValues("store").Inc()
		}
		return fmt.Errorf("save records: %w", err)
	}

	for _, rec := range records {
		s.versions[rec.Name] = rec.Version + 1
	}
	s.state = next
	return nil
}

func encodeRecord(st ledger.State, name string) (json.RawMessage, error) {
	var v any
	switch name {
	case RecordUsers:
		v = st.Users
	case RecordRequests:
		v = st.Requests
	case RecordSettings:
		v = st.Settings
	default:
		return nil, fmt.Errorf("encode %s: unknown record", name)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return payload, nil
}

func (s *Service) observeStore(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil && !errors.Is(err, repo.ErrRecordNotFound) {
		status = "error"
	}
	s.metrics.StoreLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (s *Service) notify(ctx context.Context, phone string, kind notify.Kind, message string) {
	s.sink.Notify(ctx, notify.Notification{Message: message, Kind: kind, Phone: phone})
}

func (s *Service) rejected(op string) {
	if s.metrics != nil {
		s.metrics.Rejections.WithLabelValues(op).Inc()
	}
}

func (s *Service) userLocked(phone string) (ledger.UserProfile, error) {
	u, ok := s.state.User(phone)
	if !ok {
		s.logger.Warn("unknown user", "phone", phone)
		return ledger.UserProfile{}, fmt.Errorf("find user %s: %w", phone, ledger.ErrUserNotFound)
	}
	return u, nil
}

// saveUser writes user back into the state and persists the users record.
func (s *Service) saveUser(ctx context.Context, user ledger.UserProfile) error {
	next, err := ledger.ReplaceUser(s.state, user)
	if err != nil {
		return fmt.Errorf("replace user: %w", err)
	}
	return s.commit(ctx, next, RecordUsers)
}

func rupees(d fmt.Stringer) string {
	return "Rs. " + d.String()
}
