package game

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"bazaar/internal/catalog"
	"bazaar/internal/market"
	"bazaar/internal/store"
)

func newTestService(t *testing.T, st store.Store, opts Options) *Service {
	t.Helper()
	if opts.Seed == 0 {
		opts.Seed = 7
	}
	return NewService(catalog.Default(), st, nil, opts)
}

func memoryStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestAdvanceWeekPersistsAndResumes(t *testing.T) {
	ctx := context.Background()
	st := memoryStore(t)
	svc := newTestService(t, st, Options{})

	info, err := svc.NewGame(ctx)
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	var last AdvanceResult
	for i := 1; i <= 3; i++ {
		last, err = svc.AdvanceWeek(ctx, info.SessionID, "")
		if err != nil {
			t.Fatalf("AdvanceWeek: %v", err)
		}
		if last.Week != i {
			t.Fatalf("week got=%d want=%d", last.Week, i)
		}
	}
	if len(last.Prices) != len(catalog.Default().All()) {
		t.Fatalf("prices got=%d", len(last.Prices))
	}
	svc.Wait()

	save, err := st.Load(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if save.CurrentWeek != 3 {
		t.Fatalf("saved week got=%d want=3", save.CurrentWeek)
	}

	resumed := newTestService(t, st, Options{})
	got, err := resumed.LoadGame(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if got.Week != 3 {
		t.Fatalf("resumed week got=%d", got.Week)
	}
	before, _ := svc.Price(ctx, info.SessionID, "rice", "")
	after, _ := resumed.Price(ctx, info.SessionID, "rice", "")
	if before.Price != after.Price {
		t.Fatalf("resumed price %v != %v", after.Price, before.Price)
	}
	next, err := resumed.AdvanceWeek(ctx, info.SessionID, "")
	if err != nil || next.Week != 4 {
		t.Fatalf("advance after resume: week=%d err=%v", next.Week, err)
	}
	resumed.Wait()
}

func TestAdvanceWeekRefusesConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{})
	info, err := svc.NewGame(ctx)
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	sess, err := svc.session(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	defer svc.release(sess)

	sess.advancing.Store(true)
	if _, err := svc.AdvanceWeek(ctx, info.SessionID, ""); !errors.Is(err, ErrWeekInProgress) {
		t.Fatalf("expected ErrWeekInProgress, got %v", err)
	}
	sess.advancing.Store(false)

	res, err := svc.AdvanceWeek(ctx, info.SessionID, "")
	if err != nil || res.Week != 1 {
		t.Fatalf("advance after guard cleared: week=%d err=%v", res.Week, err)
	}
	svc.Wait()
}

func TestAdvanceWeekReplaysIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{})
	info, _ := svc.NewGame(ctx)

	first, err := svc.AdvanceWeek(ctx, info.SessionID, "key-1")
	if err != nil {
		t.Fatalf("AdvanceWeek: %v", err)
	}
	again, err := svc.AdvanceWeek(ctx, info.SessionID, "key-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !again.Replayed || again.Week != first.Week {
		t.Fatalf("replay got week=%d replayed=%v", again.Week, again.Replayed)
	}
	next, err := svc.AdvanceWeek(ctx, info.SessionID, "key-2")
	if err != nil || next.Week != 2 || next.Replayed {
		t.Fatalf("new key: week=%d replayed=%v err=%v", next.Week, next.Replayed, err)
	}
	svc.Wait()
}

func TestAdvanceWeekReplaysAfterReload(t *testing.T) {
	ctx := context.Background()
	st := memoryStore(t)
	svc := newTestService(t, st, Options{})
	info, _ := svc.NewGame(ctx)

	first, err := svc.AdvanceWeek(ctx, info.SessionID, "key-k")
	if err != nil {
		t.Fatalf("AdvanceWeek: %v", err)
	}
	svc.Wait()

	resumed := newTestService(t, st, Options{})
	again, err := resumed.AdvanceWeek(ctx, info.SessionID, "key-k")
	if err != nil {
		t.Fatalf("replay after reload: %v", err)
	}
	if !again.Replayed || again.Week != 1 {
		t.Fatalf("replay after reload got week=%d replayed=%v", again.Week, again.Replayed)
	}
	if len(again.Prices) != len(first.Prices) || again.Prices[0].Price != first.Prices[0].Price {
		t.Fatalf("replayed prices differ: got=%+v want=%+v", again.Prices[0], first.Prices[0])
	}
	if again.Summary.Rising != first.Summary.Rising || again.Summary.Falling != first.Summary.Falling {
		t.Fatalf("replayed summary got=%+v want=%+v", again.Summary, first.Summary)
	}

	next, err := resumed.AdvanceWeek(ctx, info.SessionID, "key-l")
	if err != nil || next.Replayed || next.Week != 2 {
		t.Fatalf("fresh key after reload: week=%d replayed=%v err=%v", next.Week, next.Replayed, err)
	}
	resumed.Wait()
}

func TestModifierSavesKeepLatest(t *testing.T) {
	ctx := context.Background()
	st := memoryStore(t)
	svc := newTestService(t, st, Options{})
	info, _ := svc.NewGame(ctx)

	for i := 0; i < 20; i++ {
		for _, v := range []float64{0.8, 1.2} {
			if _, err := svc.ApplyMarketModifier(ctx, info.SessionID, "global", "", v); err != nil {
				t.Fatalf("ApplyMarketModifier(%v): %v", v, err)
			}
		}
		svc.Wait()
		save, err := st.Load(ctx, info.SessionID)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if save.MarketModifiers.Global != 1.2 {
			t.Fatalf("run %d: stored global got=%v want=1.2", i, save.MarketModifiers.Global)
		}
	}
}

func TestApplyMarketModifierMovesDistrictPrices(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{})
	info, _ := svc.NewGame(ctx)
	if _, err := svc.AdvanceWeek(ctx, info.SessionID, ""); err != nil {
		t.Fatalf("AdvanceWeek: %v", err)
	}

	set, err := svc.ApplyMarketModifier(ctx, info.SessionID, "location", "harbor", 1.15)
	if err != nil {
		t.Fatalf("ApplyMarketModifier: %v", err)
	}
	if set.Locations["harbor"] != 1.15 {
		t.Fatalf("harbor modifier got=%v", set.Locations["harbor"])
	}

	base, _ := svc.Price(ctx, info.SessionID, "rice", "")
	harbor, err := svc.Price(ctx, info.SessionID, "rice", "harbor")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	spec, _ := catalog.Default().Lookup("rice")
	want := math.Min(math.Max(math.Round(base.Price*1.15), spec.MinPrice), spec.MaxPrice)
	if harbor.Price != want {
		t.Fatalf("harbor rice got=%v want=%v", harbor.Price, want)
	}
	if harbor.Location != "harbor" || harbor.Trend != base.Trend {
		t.Fatalf("harbor row %+v", harbor)
	}

	if _, err := svc.Prices(ctx, info.SessionID, "atlantis"); !errors.Is(err, ErrUnknownLocation) {
		t.Fatalf("expected ErrUnknownLocation, got %v", err)
	}
	if _, err := svc.ApplyMarketModifier(ctx, info.SessionID, "tides", "x", 1); !errors.Is(err, ErrInvalidModifier) {
		t.Fatalf("expected ErrInvalidModifier, got %v", err)
	}
	svc.Wait()
}

func TestQueriesReportMissing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{})

	if _, err := svc.LoadGame(ctx, uuid.NewString()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.LoadGame(ctx, "nope"); !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("expected ErrInvalidSessionID, got %v", err)
	}
	info, _ := svc.NewGame(ctx)
	if _, err := svc.History(ctx, info.SessionID, "unicorn"); !errors.Is(err, market.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	h, err := svc.History(ctx, info.SessionID, "rice")
	if err != nil || len(h.Prices) != 1 {
		t.Fatalf("fresh history got=%v err=%v", h.Prices, err)
	}
	if _, err := svc.Price(ctx, info.SessionID, "unicorn", ""); !errors.Is(err, market.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	row, err := svc.Price(ctx, info.SessionID, "rice", "")
	if err != nil || row.ProductID != "rice" || row.Category == "" {
		t.Fatalf("rice price got=%+v err=%v", row, err)
	}
}

func TestSessionEvictionReloadsFromStore(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{SessionLimit: 1})

	first, _ := svc.NewGame(ctx)
	if _, err := svc.AdvanceWeek(ctx, first.SessionID, ""); err != nil {
		t.Fatalf("AdvanceWeek: %v", err)
	}
	svc.Wait()
	second, _ := svc.NewGame(ctx)

	svc.mu.Lock()
	live := len(svc.sessions)
	svc.mu.Unlock()
	if live != 1 {
		t.Fatalf("live sessions got=%d want=1", live)
	}
	info, err := svc.LoadGame(ctx, first.SessionID)
	if err != nil || info.Week != 1 {
		t.Fatalf("reload evicted session: week=%d err=%v", info.Week, err)
	}
	if _, err := svc.LoadGame(ctx, second.SessionID); err != nil {
		t.Fatalf("second session: %v", err)
	}
}

func TestInUseSessionIsNotEvicted(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{SessionLimit: 1})

	first, _ := svc.NewGame(ctx)
	sess, err := svc.session(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	second, _ := svc.NewGame(ctx)

	svc.mu.Lock()
	held, live := svc.sessions[first.SessionID], len(svc.sessions)
	svc.mu.Unlock()
	if held != sess || live != 2 {
		t.Fatalf("in-use session dropped: same=%v live=%d", held == sess, live)
	}
	res, err := svc.AdvanceWeek(ctx, first.SessionID, "")
	if err != nil || res.Week != 1 {
		t.Fatalf("advance in-use session: week=%d err=%v", res.Week, err)
	}
	if sess.sim.Week() != 1 {
		t.Fatalf("advance went to another copy: held week=%d", sess.sim.Week())
	}

	svc.release(sess)
	svc.Wait()
	if _, err := svc.NewGame(ctx); err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	svc.mu.Lock()
	_, firstLive := svc.sessions[first.SessionID]
	_, secondLive := svc.sessions[second.SessionID]
	live = len(svc.sessions)
	svc.mu.Unlock()
	if firstLive || secondLive || live != 1 {
		t.Fatalf("released sessions kept: first=%v second=%v live=%d", firstLive, secondLive, live)
	}
}

func TestEndGame(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memoryStore(t), Options{})
	info, _ := svc.NewGame(ctx)
	if _, err := svc.AdvanceWeek(ctx, info.SessionID, ""); err != nil {
		t.Fatalf("AdvanceWeek: %v", err)
	}
	if err := svc.EndGame(ctx, info.SessionID); err != nil {
		t.Fatalf("EndGame: %v", err)
	}
	svc.Wait()
	if _, err := svc.LoadGame(ctx, info.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after end, got %v", err)
	}
	if err := svc.EndGame(ctx, info.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second end: %v", err)
	}
}
