package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"bazaar/internal/market"
	"bazaar/internal/store"
)

// Catalog is what the service needs from the product catalog.
type Catalog interface {
	All() []market.ProductSpec
	Locations() []string
	Lookup(id string) (market.ProductSpec, bool)
}

type Options struct {
	Volatility   string
	Seed         int64 // 0 seeds every session from entropy
	HistoryMax   int
	CacheSize    int
	SaveTimeout  time.Duration
	SessionLimit int
}

type session struct {
	id        string
	createdAt time.Time
	lastUsed  atomic.Int64
	refs      atomic.Int32 // pinned sessions are never evicted

	advancing atomic.Bool
	mu        sync.Mutex
	sim       *market.Simulator
	seq       uint64 // snapshot counter, guarded by mu

	lastKey     string
	lastAdvance AdvanceResult

	saveMu   sync.Mutex
	savedSeq uint64
	pending  atomic.Int32
}

// Service owns the live game sessions. Each session has its own simulator;
// a week advance holds the session exclusively and a concurrent advance is
// refused rather than queued.
type Service struct {
	catalog Catalog
	store   store.Store
	log     *slog.Logger
	opts    Options

	mu       sync.Mutex
	sessions map[string]*session
	saves    sync.WaitGroup
}

func NewService(catalog Catalog, st store.Store, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 10 * time.Second
	}
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = 64
	}
	return &Service{
		catalog:  catalog,
		store:    st,
		log:      logger.With("component", "game"),
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

func (s *Service) newSimulator() *market.Simulator {
	src := market.NewEntropySource()
	if s.opts.Seed != 0 {
		src = market.NewSeededSource(s.opts.Seed)
	}
	return market.NewSimulator(s.catalog.All(), market.Options{
		Source:     src,
		Tuning:     market.TuningFor(s.opts.Volatility),
		HistoryMax: s.opts.HistoryMax,
		CacheSize:  s.opts.CacheSize,
		Locations:  s.catalog.Locations(),
		Logger:     s.log,
	})
}

// NewGame starts a session at week 0 with base prices and persists it.
func (s *Service) NewGame(ctx context.Context) (SessionInfo, error) {
	sess := &session{
		id:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		sim:       s.newSimulator(),
	}
	if err := s.store.Save(ctx, sess.sim.Save(sess.id)); err != nil {
		return SessionInfo{}, fmt.Errorf("save new game: %w", err)
	}
	s.release(s.track(sess))
	s.log.Info("game started", "session_id", sess.id, "products", len(sess.sim.Specs()))
	return SessionInfo{SessionID: sess.id, Week: 0, CreatedAt: sess.createdAt}, nil
}

// LoadGame returns a session, restoring it from the store when it is not
// already live.
func (s *Service) LoadGame(ctx context.Context, sessionID string) (SessionInfo, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return SessionInfo{
		SessionID: sess.id,
		Week:      sess.sim.Week(),
		CreatedAt: sess.createdAt,
		Summary:   sess.sim.Summary(),
	}, nil
}

// AdvanceWeek runs exactly one weekly tick. Repeating the previous call's
// idempotency key replays its result instead of ticking again. The save is
// written in the background; a failed save is logged and the in-memory week
// stands.
func (s *Service) AdvanceWeek(ctx context.Context, sessionID, idempotencyKey string) (AdvanceResult, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return AdvanceResult{}, err
	}
	defer s.release(sess)
	if !sess.advancing.CompareAndSwap(false, true) {
		return AdvanceResult{}, ErrWeekInProgress
	}
	defer sess.advancing.Store(false)

	sess.mu.Lock()
	if idempotencyKey != "" && idempotencyKey == sess.lastKey {
		replay := sess.lastAdvance
		sess.mu.Unlock()
		replay.Replayed = true
		return replay, nil
	}
	week := sess.sim.Week() + 1
	sess.sim.WeeklyTick(week)
	summary := sess.sim.Summary()
	rows := s.rowsLocked(sess, "")
	result := AdvanceResult{SessionID: sess.id, Week: week, Summary: summary, Prices: rows}
	sess.lastKey, sess.lastAdvance = idempotencyKey, result
	save, seq := sess.snapshotLocked()
	sess.mu.Unlock()

	s.persist(sess, save, seq)
	s.log.Info("week advanced",
		"session_id", sess.id,
		"week", week,
		"updated", summary.Updated,
		"failed", summary.Failed,
		"condition", summary.Balance.Condition)
	return result, nil
}

// ApplyMarketModifier is the market effect of a narrative event.
func (s *Service) ApplyMarketModifier(ctx context.Context, sessionID, scope, key string, value float64) (market.ModifierSet, error) {
	sc, key, value, err := ParseModifierEvent(scope, key, value)
	if err != nil {
		return market.ModifierSet{}, err
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return market.ModifierSet{}, err
	}
	defer s.release(sess)

	sess.mu.Lock()
	if err := sess.sim.ApplyModifier(sc, key, value); err != nil {
		sess.mu.Unlock()
		return market.ModifierSet{}, fmt.Errorf("%w: %w", ErrInvalidModifier, err)
	}
	set := sess.sim.Registry().Snapshot()
	save, seq := sess.snapshotLocked()
	sess.mu.Unlock()

	s.persist(sess, save, seq)
	s.log.Info("market modifier applied", "session_id", sess.id, "scope", sc.String(), "key", key, "value", value)
	return set, nil
}

// Prices lists every product sorted by id. With a location the prices are
// that district's.
func (s *Service) Prices(ctx context.Context, sessionID, location string) ([]PriceRow, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if location != "" && !slices.Contains(sess.sim.Locations(), location) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
	}
	return s.rowsLocked(sess, location), nil
}

func (s *Service) Price(ctx context.Context, sessionID, productID, location string) (PriceRow, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return PriceRow{}, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if location != "" && !slices.Contains(sess.sim.Locations(), location) {
		return PriceRow{}, fmt.Errorf("%w: %s", ErrUnknownLocation, location)
	}
	spec, ok := s.catalog.Lookup(productID)
	if !ok {
		return PriceRow{}, fmt.Errorf("%w: %s", market.ErrProductNotFound, productID)
	}
	return s.rowLocked(sess, sess.sim.Records(), spec, location)
}

func (s *Service) History(ctx context.Context, sessionID, productID string) (HistoryView, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return HistoryView{}, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	prices, err := sess.sim.History(productID)
	if err != nil {
		return HistoryView{}, err
	}
	return HistoryView{ProductID: productID, Week: sess.sim.Week(), Prices: prices}, nil
}

func (s *Service) Modifiers(ctx context.Context, sessionID string) (market.ModifierSet, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return market.ModifierSet{}, err
	}
	defer s.release(sess)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.sim.Registry().Snapshot(), nil
}

// Saves lists stored sessions, newest first.
func (s *Service) Saves(ctx context.Context) ([]store.Entry, error) {
	return s.store.List(ctx)
}

// EndGame drops the session from memory and deletes its save.
func (s *Service) EndGame(ctx context.Context, sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	s.mu.Lock()
	sess, live := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if live {
		// Pending background saves must not resurrect the file.
		sess.saveMu.Lock()
		sess.savedSeq = math.MaxUint64
		sess.saveMu.Unlock()
	}
	if err := s.store.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, store.ErrSaveNotFound) {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return err
	}
	s.log.Info("game ended", "session_id", sessionID)
	return nil
}

// Wait blocks until every background save has finished.
func (s *Service) Wait() {
	s.saves.Wait()
}

func (s *Service) rowsLocked(sess *session, location string) []PriceRow {
	specs := sess.sim.Specs()
	records := sess.sim.Records()
	rows := make([]PriceRow, 0, len(specs))
	for _, spec := range specs {
		row, err := s.rowLocked(sess, records, spec, location)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (s *Service) rowLocked(sess *session, records map[string]market.PriceRecord, spec market.ProductSpec, location string) (PriceRow, error) {
	rec, ok := records[spec.ID]
	if !ok {
		return PriceRow{}, fmt.Errorf("%w: %s has no price", market.ErrProductNotFound, spec.ID)
	}
	view, err := sess.sim.Trend(spec.ID)
	if err != nil {
		return PriceRow{}, err
	}
	district := rec.Price
	if location != "" {
		if district, err = sess.sim.PriceAt(spec.ID, location); err != nil {
			return PriceRow{}, err
		}
	}
	return priceRow(spec, rec, view, district, location), nil
}

// snapshotLocked captures the session for persistence. Each snapshot gets
// the next sequence number; callers hold sess.mu.
func (sess *session) snapshotLocked() (market.SaveFile, uint64) {
	save := sess.sim.Save(sess.id)
	save.LastAdvanceKey = sess.lastKey
	sess.seq++
	return save, sess.seq
}

// persist writes a snapshot in the background. Goroutines may reach the
// store out of order, so a snapshot older than the last one written is
// dropped.
func (s *Service) persist(sess *session, save market.SaveFile, seq uint64) {
	s.saves.Add(1)
	sess.pending.Add(1)
	go func() {
		defer s.saves.Done()
		defer sess.pending.Add(-1)
		sess.saveMu.Lock()
		defer sess.saveMu.Unlock()
		if seq <= sess.savedSeq {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
		defer cancel()
		if err := s.store.Save(ctx, save); err != nil {
			s.log.Error("save failed", "session_id", sess.id, "week", save.CurrentWeek, "err", err)
			return
		}
		sess.savedSeq = seq
	}()
}

func (s *Service) session(ctx context.Context, sessionID string) (*session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.refs.Add(1)
	}
	s.mu.Unlock()
	if ok {
		sess.lastUsed.Store(time.Now().UnixNano())
		return sess, nil
	}

	save, err := s.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSaveNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	sim := s.newSimulator()
	if err := sim.Restore(save); err != nil {
		return nil, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	sess = &session{id: sessionID, createdAt: save.SavedAt, sim: sim, lastKey: save.LastAdvanceKey}
	if sess.lastKey != "" {
		sess.lastAdvance = AdvanceResult{
			SessionID: sess.id,
			Week:      sim.Week(),
			Summary:   sim.Summary(),
			Prices:    s.rowsLocked(sess, ""),
		}
	}
	s.log.Info("game loaded", "session_id", sessionID, "week", save.CurrentWeek)
	return s.track(sess), nil
}

// track registers a live session and returns it pinned. When the limit is
// hit the least recently used unpinned session is dropped; its state is
// already persisted.
func (s *Service) track(sess *session) *session {
	sess.lastUsed.Store(time.Now().UnixNano())
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.id]; ok {
		existing.refs.Add(1)
		return existing
	}
	for len(s.sessions) >= s.opts.SessionLimit {
		var victim *session
		for _, candidate := range s.sessions {
			if candidate.refs.Load() > 0 || candidate.advancing.Load() || candidate.pending.Load() > 0 {
				continue
			}
			if victim == nil || candidate.lastUsed.Load() < victim.lastUsed.Load() {
				victim = candidate
			}
		}
		if victim == nil {
			break
		}
		delete(s.sessions, victim.id)
		s.log.Debug("session evicted", "session_id", victim.id)
	}
	sess.refs.Add(1)
	s.sessions[sess.id] = sess
	return sess
}

func (s *Service) release(sess *session) {
	sess.refs.Add(-1)
}
