package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fitsa/fitsa/internal/composer"
	"github.com/fitsa/fitsa/internal/identity"
	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/refit"
	"github.com/fitsa/fitsa/internal/storage"
	"github.com/fitsa/fitsa/internal/usage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func pngImage(tag string) []byte {
	return append(append([]byte{}, pngHeader...), tag...)
}

// fakeComposer returns the person image with the garment appended.
type fakeComposer struct {
	mu     sync.Mutex
	calls  []composer.Input
	err    error
	block  bool
	failAt int
}

func (f *fakeComposer) Compose(ctx context.Context, in composer.Input) (*composer.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	n := len(f.calls)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil && (f.failAt == 0 || f.failAt == n) {
		return nil, f.err
	}
	img := append(append([]byte{}, in.Person...), in.Garment[len(pngHeader):]...)
	return &composer.Output{Image: img, ContentType: "image/png", Provider: "fake"}, nil
}

func (f *fakeComposer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fittingEnv struct {
	svc      *FittingService
	ledger   *ledger.MemoryStore
	window   *refit.MemoryStore
	composer *fakeComposer
	blobs    *storage.MemoryStore
	usage    *usage.MemoryLog
	metrics  *metrics.InMemoryRecorder
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFittingEnv(t *testing.T, opts FittingOptions) *fittingEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	policy := opts.Policy
	if policy.Limit == 0 {
		policy = refit.DefaultPolicy
		opts.Policy = policy
	}
	env := &fittingEnv{
		ledger:   ledger.NewMemoryStore(3),
		window:   refit.NewMemoryStore(policy, 24*time.Hour).WithClock(clock.Now),
		composer: &fakeComposer{},
		blobs:    storage.NewMemoryStore("http://localhost:8080"),
		usage:    usage.NewMemoryLog(0),
		metrics:  metrics.NewInMemory(),
		clock:    clock,
	}
	env.svc = NewFittingService(FittingDeps{
		Ledger:   env.ledger,
		Window:   env.window,
		Composer: env.composer,
		Blobs:    env.blobs,
		Usage:    env.usage,
	}, opts, slog.New(slog.NewTextHandler(io.Discard, nil)), env.metrics)
	return env
}

func request(userID, person string, garments ...string) *model.FittingRequest {
	cats := []model.Category{model.CategoryUpperBody, model.CategoryLowerBody, model.CategoryDress}
	req := &model.FittingRequest{RequestID: "req-" + person, UserID: userID, Person: pngImage(person)}
	for i, g := range garments {
		req.Stages = append(req.Stages, model.Stage{Category: cats[i%len(cats)], Garment: pngImage(g)})
	}
	return req
}

func (e *fittingEnv) balance(t *testing.T, userID string) model.Balance {
	t.Helper()
	b, err := e.ledger.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	return b
}

func TestSubmit_NewFittingsUseFreeAllotmentThenDeny(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := env.svc.Submit(ctx, request("u1", fmt.Sprintf("person-%d", i), "shirt"))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if !res.Charged || res.ChargedFrom != model.DebitSourceFree {
			t.Errorf("submit %d: charged=%v from=%q, want free charge", i, res.Charged, res.ChargedFrom)
		}
		if res.Balance.FreeRemaining != 2-i {
			t.Errorf("submit %d: free remaining = %d, want %d", i, res.Balance.FreeRemaining, 2-i)
		}
		if res.Refit.IsRefitting || res.Refit.Limit != 5 || res.Refit.ResetsAt == nil {
			t.Errorf("submit %d: unexpected refit snapshot %+v", i, res.Refit)
		}
	}

	_, err := env.svc.Submit(ctx, request("u1", "person-new", "shirt"))
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if quotaErr.Balance.Total() != 0 {
		t.Errorf("expected empty balance, got %+v", quotaErr.Balance)
	}
	if env.composer.Calls() != 3 {
		t.Errorf("composer calls = %d, want 3 (denied request must not compose)", env.composer.Calls())
	}

	snap := env.metrics.Snapshot()
	if snap.FittingsQuotaExceeded != 1 || snap.FittingsCompleted != 3 || snap.DebitsDenied != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
}

func TestSubmit_CreditsAfterFree(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	if _, err := env.ledger.Credit(ctx, "u1", 1); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := env.svc.Submit(ctx, request("u1", fmt.Sprintf("p%d", i), "g")); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	res, err := env.svc.Submit(ctx, request("u1", "p-credit", "g"))
	if err != nil {
		t.Fatalf("credit submit: %v", err)
	}
	if res.ChargedFrom != model.DebitSourceCredit || res.Balance.Credits != 0 {
		t.Errorf("expected credit charge, got from=%q balance=%+v", res.ChargedFrom, res.Balance)
	}
}

func TestSubmit_RefitsAreFreeUntilLimit(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, request("u1", "me", "shirt"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Charged {
		t.Fatal("first submission must be charged")
	}

	for i := 1; i <= 5; i++ {
		res, err := env.svc.Submit(ctx, request("u1", "me", "shirt"))
		if err != nil {
			t.Fatalf("refit %d: %v", i, err)
		}
		if res.Charged || !res.Refit.IsRefitting || res.Refit.Count != i {
			t.Errorf("refit %d: charged=%v refit=%+v", i, res.Charged, res.Refit)
		}
		if res.IdentityKey != first.IdentityKey {
			t.Errorf("refit %d: identity key changed", i)
		}
		if res.Balance.FreeRemaining != 2 {
			t.Errorf("refit %d: free remaining = %d, want 2", i, res.Balance.FreeRemaining)
		}
	}

	// Seventh identical submission.
	_, err = env.svc.Submit(ctx, request("u1", "me", "shirt"))
	var limitErr *RateLimitedError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limitErr.Count != 5 || limitErr.Limit != 5 {
		t.Errorf("unexpected limit error %+v", limitErr)
	}
	if want := env.clock.Now().Add(time.Hour); !limitErr.ResetsAt.Equal(want) {
		t.Errorf("ResetsAt = %s, want %s", limitErr.ResetsAt, want)
	}
	if got := env.balance(t, "u1"); got.FreeRemaining != 2 {
		t.Errorf("limit exceeded must not charge, free remaining = %d", got.FreeRemaining)
	}
	if env.composer.Calls() != 6 {
		t.Errorf("composer calls = %d, want 6", env.composer.Calls())
	}
}

func TestSubmit_WindowResetAfterElapsed(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	if _, err := env.svc.Submit(ctx, request("u1", "me", "shirt")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := env.svc.Submit(ctx, request("u1", "me", "shirt")); err != nil {
			t.Fatalf("refit %d: %v", i, err)
		}
	}

	env.clock.Advance(time.Hour + time.Second)

	res, err := env.svc.Submit(ctx, request("u1", "me", "shirt"))
	if err != nil {
		t.Fatalf("submit after window: %v", err)
	}
	if res.Charged || !res.Refit.IsRefitting || res.Refit.Count != 1 || !res.Refit.WindowReset {
		t.Errorf("expected free refit #1 of a new window, got charged=%v refit=%+v", res.Charged, res.Refit)
	}
	if env.metrics.Snapshot().RefitWindowResets != 1 {
		t.Error("expected a window_reset metric")
	}
}

func TestSubmit_ChangedInputIsNewFitting(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	base := request("u1", "me", "shirt")
	if _, err := env.svc.Submit(ctx, base); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	if _, err := env.ledger.Credit(ctx, "u1", 1); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	otherCategory := request("u1", "me", "shirt")
	otherCategory.Stages[0].Category = model.CategoryDress

	variants := []struct {
		name string
		req  *model.FittingRequest
	}{
		{"other garment", request("u1", "me", "coat")},
		{"swapped slots", request("u1", "shirt", "me")},
		{"other category", otherCategory},
	}
	for _, v := range variants {
		res, err := env.svc.Submit(ctx, v.req)
		if err != nil {
			t.Fatalf("%s: %v", v.name, err)
		}
		if !res.Charged || res.Refit.IsRefitting {
			t.Errorf("%s: expected a charged new fitting", v.name)
		}
		if res.IdentityKey == identity.ForRequest(base) {
			t.Errorf("%s: identity key must differ", v.name)
		}
	}
	if got := env.balance(t, "u1"); got.Total() != 0 {
		t.Errorf("balance = %+v, want empty", got)
	}
}

func TestSubmit_QualityIsNotPartOfIdentity(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	if _, err := env.svc.Submit(ctx, request("u1", "me", "shirt")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	req := request("u1", "me", "shirt")
	req.Quality = model.QualityHigh
	res, err := env.svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("quality resubmit: %v", err)
	}
	if res.Charged || !res.Refit.IsRefitting {
		t.Errorf("expected refit, got charged=%v", res.Charged)
	}
}

func TestSubmit_MultiStageChargedOnce(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	req := request("u1", "me", "shirt", "jeans")
	res, err := env.svc.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Stages != 2 || !res.Charged {
		t.Errorf("unexpected result %+v", res)
	}
	if got := env.balance(t, "u1"); got.FreeRemaining != 2 {
		t.Errorf("free remaining = %d, want 2 (one debit per request)", got.FreeRemaining)
	}

	env.composer.mu.Lock()
	calls := append([]composer.Input{}, env.composer.calls...)
	env.composer.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("composer calls = %d, want 2", len(calls))
	}
	if calls[1].Category != model.CategoryLowerBody {
		t.Errorf("second stage category = %q", calls[1].Category)
	}
	if !bytes.Equal(calls[1].Person, pngImage("meshirt")) {
		t.Errorf("second stage must start from the first stage output, got %q", calls[1].Person)
	}

	stored, err := env.blobs.Get(ctx, res.ResultURL)
	if err != nil {
		t.Fatalf("stored result not found: %v", err)
	}
	if !bytes.Equal(stored, pngImage("meshirtjeans")) {
		t.Errorf("stored result = %q", stored)
	}
}

func TestSubmit_ComposeFailureKeepsChargeAndOpensNoEntry(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()
	env.composer.err = errors.New("provider down")
	env.composer.failAt = 2

	req := request("u1", "me", "shirt", "jeans")
	_, err := env.svc.Submit(ctx, req)
	var composeErr *ComposeError
	if !errors.As(err, &composeErr) {
		t.Fatalf("expected ComposeError, got %v", err)
	}
	if composeErr.Stage != 2 || composeErr.Category != model.CategoryLowerBody || composeErr.Timeout() {
		t.Errorf("unexpected compose error %+v", composeErr)
	}
	if composeErr.Balance.FreeRemaining != 2 {
		t.Errorf("error balance = %+v, want the charged balance", composeErr.Balance)
	}
	if got := env.balance(t, "u1"); got.FreeRemaining != 2 {
		t.Errorf("charge must stand after failure, free remaining = %d", got.FreeRemaining)
	}

	entry, err := env.window.Lookup(ctx, "u1", identity.ForRequest(req))
	if err != nil || entry != nil {
		t.Errorf("failed fitting must not open a refit entry, got %+v, %v", entry, err)
	}
	if env.blobs.Len() != 0 {
		t.Error("failed fitting must not store a result")
	}

	events, _, err := env.usage.List(ctx, "u1", "", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected one usage event, got %d (%v)", len(events), err)
	}
	if events[0].Outcome != model.UsageFailed || events[0].ErrorCode != codeComposeFailed || events[0].ChargedFrom != model.DebitSourceFree {
		t.Errorf("unexpected usage event %+v", events[0])
	}
}

func TestSubmit_StageTimeout(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{StageTimeout: 20 * time.Millisecond})
	env.composer.block = true

	_, err := env.svc.Submit(context.Background(), request("u1", "me", "shirt"))
	var composeErr *ComposeError
	if !errors.As(err, &composeErr) {
		t.Fatalf("expected ComposeError, got %v", err)
	}
	if !composeErr.Timeout() {
		t.Errorf("expected timeout, got %v", composeErr.Err)
	}
}

func TestSubmit_RefitFailureKeepsIncrement(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	req := request("u1", "me", "shirt")
	if _, err := env.svc.Submit(ctx, req); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	env.composer.err = errors.New("boom")
	if _, err := env.svc.Submit(ctx, req); err == nil {
		t.Fatal("expected compose failure")
	}

	entry, _ := env.window.Lookup(ctx, "u1", identity.ForRequest(req))
	if entry == nil || entry.Count != 1 {
		t.Errorf("failed refit must still count, entry = %+v", entry)
	}
}

func TestSubmit_InvalidRequestsTouchNothing(t *testing.T) {
	t.Parallel()

	tooMany := request("u1", "me", "a", "b", "c")
	tooMany.Stages = append(tooMany.Stages, model.Stage{Category: model.CategoryUpperBody, Garment: pngImage("d")})

	dup := request("u1", "me", "a", "b")
	dup.Stages[1].Category = model.CategoryUpperBody

	badCat := request("u1", "me", "a")
	badCat.Stages[0].Category = "shoes"

	notImage := request("u1", "me", "a")
	notImage.Person = []byte("hello, I am text")

	noGarment := request("u1", "me", "a")
	noGarment.Stages[0].Garment = nil

	badQuality := request("u1", "me", "a")
	badQuality.Quality = "ultra"

	noUser := request("", "me", "a")

	jpeg := request("u1", "me", "a")
	jpeg.Person = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")

	tests := []struct {
		name    string
		req     *model.FittingRequest
		wantErr bool
	}{
		{"no stages", request("u1", "me"), true},
		{"too many stages", tooMany, true},
		{"duplicate category", dup, true},
		{"unknown category", badCat, true},
		{"person not an image", notImage, true},
		{"missing garment", noGarment, true},
		{"unknown quality", badQuality, true},
		{"missing user", noUser, true},
		{"nil request", nil, true},
		{"jpeg person", jpeg, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newFittingEnv(t, FittingOptions{})
			_, err := env.svc.Submit(context.Background(), tt.req)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if env.composer.Calls() != 0 || env.window.Len() != 0 {
				t.Error("invalid request must not compose or touch the window")
			}
			if got := env.balance(t, "u1"); got.FreeRemaining != 3 {
				t.Errorf("invalid request must not debit, free remaining = %d", got.FreeRemaining)
			}
		})
	}
}

func TestSubmit_ConcurrentNewFittingsNeverOverspend(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()
	if _, err := env.ledger.Credit(ctx, "u1", 2); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	const n = 20
	var ok, denied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Submit(ctx, request("u1", fmt.Sprintf("p%d", i), "g"))
			var quotaErr *QuotaExceededError
			switch {
			case err == nil:
				ok.Add(1)
			case errors.As(err, &quotaErr):
				denied.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok.Load() != 5 || denied.Load() != n-5 {
		t.Errorf("ok=%d denied=%d, want 5 and %d", ok.Load(), denied.Load(), n-5)
	}
	if got := env.balance(t, "u1"); got.Total() != 0 {
		t.Errorf("balance = %+v, want empty", got)
	}
}

// barrierComposer holds the first parties calls until all of them arrived.
type barrierComposer struct {
	inner   *fakeComposer
	parties int32
	seen    atomic.Int32
	wg      sync.WaitGroup
}

func newBarrierComposer(inner *fakeComposer, parties int) *barrierComposer {
	c := &barrierComposer{inner: inner, parties: int32(parties)}
	c.wg.Add(parties)
	return c
}

func (c *barrierComposer) Compose(ctx context.Context, in composer.Input) (*composer.Output, error) {
	if c.seen.Add(1) <= c.parties {
		c.wg.Done()
		c.wg.Wait()
	}
	return c.inner.Compose(ctx, in)
}

func TestSubmit_ConcurrentIdenticalFirstSubmissionsAreChargedSeparately(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	ctx := context.Background()

	// Both submissions reach the composer before either opens a refit entry.
	svc := NewFittingService(FittingDeps{
		Ledger:   env.ledger,
		Window:   env.window,
		Composer: newBarrierComposer(env.composer, 2),
		Blobs:    env.blobs,
		Usage:    env.usage,
	}, FittingOptions{Policy: refit.DefaultPolicy}, slog.New(slog.NewTextHandler(io.Discard, nil)), env.metrics)

	results := make([]*model.FittingResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Submit(ctx, request("u1", "same-person", "same-shirt"))
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res == nil || !res.Charged || res.Refit.IsRefitting {
			t.Errorf("submit %d: want a charged new fitting, got %+v", i, res)
		}
	}
	if got := env.balance(t, "u1"); got.FreeRemaining != 1 {
		t.Errorf("free remaining = %d, want 1", got.FreeRemaining)
	}

	key := identity.ForRequest(request("u1", "same-person", "same-shirt"))
	entry, err := env.window.Lookup(ctx, "u1", key)
	if err != nil || entry == nil || entry.Count != 0 {
		t.Fatalf("want one open entry with count 0, got %+v (err %v)", entry, err)
	}

	res, err := svc.Submit(ctx, request("u1", "same-person", "same-shirt"))
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.Charged || !res.Refit.IsRefitting || res.Refit.Count != 1 {
		t.Errorf("resubmit: want free refit 1, got charged=%v refit=%+v", res.Charged, res.Refit)
	}
}

// vanishingWindow reports an entry on lookup that is gone by the time the
// submission is recorded.
type vanishingWindow struct {
	refit.Store
	opened atomic.Int32
}

func (w *vanishingWindow) Lookup(context.Context, string, model.IdentityKey) (*model.RefitEntry, error) {
	return &model.RefitEntry{}, nil
}

func (w *vanishingWindow) ClassifyAndRecord(context.Context, string, model.IdentityKey) (model.RefitOutcome, error) {
	return model.RefitOutcome{Kind: model.RefitFresh, Limit: 5}, nil
}

func (w *vanishingWindow) Open(_ context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error) {
	w.opened.Add(1)
	return &model.RefitEntry{UserID: userID, Key: key, WindowStart: time.Now()}, nil
}

func TestSubmit_VanishedEntryIsChargedAsNew(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	window := &vanishingWindow{}
	env.svc.window = window

	res, err := env.svc.Submit(context.Background(), request("u1", "me", "shirt"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Charged || res.Refit.IsRefitting {
		t.Errorf("expected charged new fitting, got %+v", res)
	}
	if window.opened.Load() != 1 {
		t.Errorf("expected the entry to be reopened once, got %d", window.opened.Load())
	}
}

type brokenOpenWindow struct {
	*refit.MemoryStore
}

func (w brokenOpenWindow) Open(context.Context, string, model.IdentityKey) (*model.RefitEntry, error) {
	return nil, errors.New("redis unavailable")
}

func TestSubmit_OpenFailureStillReturnsResult(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{})
	env.svc.window = brokenOpenWindow{env.window}

	res, err := env.svc.Submit(context.Background(), request("u1", "me", "shirt"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.ResultURL == "" || !res.Charged {
		t.Errorf("expected a completed, charged fitting, got %+v", res)
	}
	if res.Refit.ResetsAt != nil {
		t.Error("no window was opened, so no reset time is known")
	}
}

func TestSubmit_RecordsOneUsageEventPerSubmission(t *testing.T) {
	t.Parallel()
	env := newFittingEnv(t, FittingOptions{Policy: refit.Policy{Limit: 1, Window: time.Hour}})
	ctx := context.Background()

	req := request("u1", "me", "shirt")
	for i := 0; i < 3; i++ {
		_, _ = env.svc.Submit(ctx, req)
	}

	events, _, err := env.usage.List(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	counts := map[model.UsageOutcome]int{}
	for _, e := range events {
		counts[e.Outcome]++
		if e.IdentityKey != identity.ForRequest(req) {
			t.Errorf("event has wrong identity key")
		}
	}
	if counts[model.UsageCompleted] != 2 || counts[model.UsageRateLimited] != 1 {
		t.Errorf("unexpected outcomes %v", counts)
	}
}

func TestRateLimitedError_RetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Now()
	e := &RateLimitedError{ResetsAt: now.Add(90 * time.Second)}
	if got := e.RetryAfter(now); got != 90*time.Second {
		t.Errorf("RetryAfter = %s", got)
	}
	e.ResetsAt = now.Add(-time.Minute)
	if got := e.RetryAfter(now); got != time.Second {
		t.Errorf("RetryAfter for past reset = %s, want 1s", got)
	}
}
