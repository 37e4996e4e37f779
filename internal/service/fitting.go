package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fitsa/fitsa/internal/composer"
	"github.com/fitsa/fitsa/internal/identity"
	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/refit"
	"github.com/fitsa/fitsa/internal/storage"
	"github.com/fitsa/fitsa/internal/usage"
)

const (
	defaultMaxStages    = 3
	defaultStageTimeout = 120 * time.Second
	openEntryTimeout    = 5 * time.Second
)

// Usage event error codes.
const (
	codeComposeFailed  = "compose_failed"
	codeComposeTimeout = "compose_timeout"
	codeStoreFailed    = "store_failed"
	codeInternal       = "internal"
)

// FittingDeps are the collaborators of a FittingService.
type FittingDeps struct {
	Ledger   ledger.Store
	Window   refit.Store
	Composer composer.Composer
	Blobs    storage.BlobStore
	Usage    usage.Recorder
}

// FittingOptions bound a submission.
type FittingOptions struct {
	MaxStages    int
	StageTimeout time.Duration
	Policy       refit.Policy
}

// FittingService runs one fitting request from authorization to a stored result.
type FittingService struct {
	ledger   ledger.Store
	window   refit.Store
	composer composer.Composer
	blobs    storage.BlobStore
	usage    usage.Recorder

	maxStages    int
	stageTimeout time.Duration
	policy       refit.Policy

	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewFittingService creates a FittingService.
func NewFittingService(deps FittingDeps, opts FittingOptions, logger *slog.Logger, recorder metrics.Recorder) *FittingService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxStages <= 0 {
		opts.MaxStages = defaultMaxStages
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.Policy.Limit <= 0 || opts.Policy.Window <= 0 {
		opts.Policy = refit.DefaultPolicy
	}
	if deps.Usage == nil {
		deps.Usage = usage.NewMemoryLog(0)
	}
	return &FittingService{
		ledger:       deps.Ledger,
		window:       deps.Window,
		composer:     deps.Composer,
		blobs:        deps.Blobs,
		usage:        deps.Usage,
		maxStages:    opts.MaxStages,
		stageTimeout: opts.StageTimeout,
		policy:       opts.Policy,
		logger:       logger.With("component", "fitting"),
		metrics:      recorder,
		now:          time.Now,
	}
}

// MaxStages returns the stage limit per request.
func (s *FittingService) MaxStages() int {
	return s.maxStages
}

// authorization is the payment decision for one submission.
type authorization struct {
	newFitting bool
	source     model.DebitSource
	balance    model.Balance
	refit      model.RefitOutcome
}

// Submit validates, authorizes, composes and stores one fitting.
//
// A new fitting is charged once, before composition, whatever its stage count.
// An identical resubmission inside an open refit window is free. Charges and
// refit increments are never reverted when composition fails.
func (s *FittingService) Submit(ctx context.Context, req *model.FittingRequest) (*model.FittingResult, error) {
	start := s.now()

	if err := s.validate(req); err != nil {
		s.metrics.IncFittingOutcome(metrics.OutcomeInvalid)
		return nil, err
	}

	key := identity.ForRequest(req)
	log := s.logger.With("request_id", req.RequestID, "user_id", req.UserID, "identity_key", key.Short())
	event := model.UsageEvent{
		UserID:      req.UserID,
		IdentityKey: key,
		Categories:  categories(req.Stages),
	}
	finish := func(outcome model.UsageOutcome, code string) {
		event.Outcome = outcome
		event.ErrorCode = code
		event.DurationMS = s.now().Sub(start).Milliseconds()
		event.OccurredAt = s.now().UTC()
		s.usage.Record(event)
		s.metrics.IncFittingOutcome(string(outcome))
		s.metrics.ObserveFittingDuration(s.now().Sub(start))
	}
	transition(log, model.FittingReceived)

	auth, err := s.authorize(ctx, log, req.UserID, key)
	if err != nil {
		var quotaErr *QuotaExceededError
		var limitErr *RateLimitedError
		switch {
		case errors.As(err, &quotaErr):
			log.Info("quota_exceeded", "remaining_free", quotaErr.Balance.FreeRemaining, "credits", quotaErr.Balance.Credits)
			finish(model.UsageQuotaExceeded, "")
		case errors.As(err, &limitErr):
			event.IsRefit = true
			event.RefitCount = limitErr.Count
			log.Info("refit_limit_exceeded", "refit_count", limitErr.Count, "refit_limit", limitErr.Limit, "resets_at", limitErr.ResetsAt)
			finish(model.UsageRateLimited, "")
		default:
			log.Error("fitting_authorize_failed", "error", err)
			finish(model.UsageFailed, codeInternal)
		}
		transition(log, model.FittingFailed)
		return nil, err
	}
	event.ChargedFrom = auth.source
	event.IsRefit = !auth.newFitting
	event.RefitCount = auth.refit.Count
	transition(log, model.FittingAuthorized)

	transition(log, model.FittingComposing)
	out, err := s.compose(ctx, req)
	if err != nil {
		var composeErr *ComposeError
		if errors.As(err, &composeErr) {
			composeErr.Balance = s.snapshot(ctx, log, req.UserID, auth)
			code := codeComposeFailed
			if composeErr.Timeout() {
				code = codeComposeTimeout
			}
			log.Warn("fitting_failed", "stage", composeErr.Stage, "category", composeErr.Category, "error", composeErr.Err)
			finish(model.UsageFailed, code)
		} else {
			log.Error("fitting_failed", "error", err)
			finish(model.UsageFailed, codeInternal)
		}
		transition(log, model.FittingFailed)
		return nil, err
	}
	event.Provider = out.Provider

	transition(log, model.FittingCommitting)
	url, err := s.blobs.Put(ctx, out.Image, out.ContentType)
	if err != nil {
		log.Error("fitting_failed", "error", err, "step", "store_result")
		finish(model.UsageFailed, codeStoreFailed)
		transition(log, model.FittingFailed)
		return nil, fmt.Errorf("store result: %w", err)
	}

	snapshot := model.RefitSnapshot{Limit: s.policy.Limit}
	if auth.newFitting {
		// The entry is opened only once the fitting fully succeeded.
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openEntryTimeout)
		entry, err := s.window.Open(openCtx, req.UserID, key)
		cancel()
		if err != nil {
			log.Error("refit_open_failed", "error", err)
		} else {
			resets := entry.WindowStart.Add(s.policy.Window)
			snapshot.ResetsAt = &resets
			snapshot.Count = entry.Count
		}
	} else {
		resets := auth.refit.ResetsAt
		snapshot = model.RefitSnapshot{
			IsRefitting: true,
			Count:       auth.refit.Count,
			Limit:       auth.refit.Limit,
			ResetsAt:    &resets,
			WindowReset: auth.refit.WindowReset,
		}
	}

	result := &model.FittingResult{
		ID:          ulid.Make().String(),
		State:       model.FittingCompleted,
		IdentityKey: key,
		ResultURL:   url,
		Charged:     auth.newFitting,
		ChargedFrom: auth.source,
		Balance:     s.snapshot(ctx, log, req.UserID, auth),
		Refit:       snapshot,
		Stages:      len(req.Stages),
		Provider:    out.Provider,
		Duration:    s.now().Sub(start),
		CompletedAt: s.now().UTC(),
	}

	finish(model.UsageCompleted, "")
	transition(log, model.FittingCompleted)
	log.Info("fitting_completed",
		"fitting_id", result.ID,
		"charged", result.Charged,
		"charged_from", result.ChargedFrom,
		"is_refitting", snapshot.IsRefitting,
		"refit_count", snapshot.Count,
		"stages", result.Stages,
		"provider", result.Provider,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// authorize decides how the submission is paid for. It performs at most one
// debit.
func (s *FittingService) authorize(ctx context.Context, log *slog.Logger, userID string, key model.IdentityKey) (*authorization, error) {
	entry, err := s.window.Lookup(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("lookup refit entry: %w", err)
	}

	if entry != nil {
		out, err := s.window.ClassifyAndRecord(ctx, userID, key)
		if err != nil {
			return nil, fmt.Errorf("record refit: %w", err)
		}
		switch out.Kind {
		case model.RefitAccepted:
			if out.WindowReset {
				s.metrics.IncRefit("window_reset")
			}
			s.metrics.IncRefit("refit")
			return &authorization{refit: out}, nil
		case model.RefitLimitExceeded:
			s.metrics.IncRefit("limit_exceeded")
			return nil, &RateLimitedError{Count: out.Count, Limit: out.Limit, ResetsAt: out.ResetsAt}
		}
		// Entry expired between lookup and record; charge as new.
		log.Debug("refit_entry_vanished")
	}

	debit, err := s.ledger.TryDebit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("debit: %w", err)
	}
	if !debit.Charged {
		s.metrics.IncDebit("denied")
		return nil, &QuotaExceededError{Balance: debit.Balance}
	}
	s.metrics.IncDebit(string(debit.Source))
	return &authorization{newFitting: true, source: debit.Source, balance: debit.Balance}, nil
}

// compose runs the stages in order, feeding each output into the next stage.
func (s *FittingService) compose(ctx context.Context, req *model.FittingRequest) (*composer.Output, error) {
	person := req.Person
	var out *composer.Output

	for i, st := range req.Stages {
		stageStart := s.now()
		stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		res, err := s.composer.Compose(stageCtx, composer.Input{
			Person:   person,
			Garment:  st.Garment,
			Category: st.Category,
			Quality:  req.Quality,
		})
		if err == nil && (res == nil || len(res.Image) == 0) {
			err = composer.ErrEmptyResult
		}
		if err != nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		cancel()

		s.metrics.ObserveComposeStage(string(st.Category), s.now().Sub(stageStart), err == nil)
		if err != nil {
			return nil, &ComposeError{Stage: i + 1, Category: st.Category, Err: err}
		}
		out = res
		person = res.Image
	}
	return out, nil
}

// snapshot returns the balance to report after a submission. A refit did not
// touch the ledger, so its balance is read fresh.
func (s *FittingService) snapshot(ctx context.Context, log *slog.Logger, userID string, auth *authorization) model.Balance {
	if auth.newFitting {
		return auth.balance
	}
	balance, err := s.ledger.Status(context.WithoutCancel(ctx), userID)
	if err != nil {
		log.Warn("balance_snapshot_failed", "error", err)
	}
	return balance
}

func (s *FittingService) validate(req *model.FittingRequest) error {
	if req == nil {
		return invalidf("empty request")
	}
	if req.UserID == "" {
		return invalidf("client id is required")
	}
	if err := validateImage("person image", req.Person); err != nil {
		return err
	}
	if len(req.Stages) == 0 {
		return invalidf("at least one garment is required")
	}
	if len(req.Stages) > s.maxStages {
		return invalidf("at most %d garments per request", s.maxStages)
	}

	seen := make(map[model.Category]bool, len(req.Stages))
	for i, st := range req.Stages {
		if !st.Category.IsValid() {
			return invalidf("garment %d: unknown category %q", i+1, st.Category)
		}
		if seen[st.Category] {
			return invalidf("garment %d: category %s given twice", i+1, st.Category)
		}
		seen[st.Category] = true
		if err := validateImage(fmt.Sprintf("garment %d", i+1), st.Garment); err != nil {
			return err
		}
	}

	if req.Quality != "" && !req.Quality.IsValid() {
		return invalidf("unknown quality %q", req.Quality)
	}
	return nil
}

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

func validateImage(role string, data []byte) error {
	if len(data) == 0 {
		return invalidf("%s is required", role)
	}
	if ct := http.DetectContentType(data); !allowedImageTypes[ct] {
		return invalidf("%s must be png, jpeg or webp, got %s", role, ct)
	}
	return nil
}

func categories(stages []model.Stage) []string {
	out := make([]string, len(stages))
	for i, st := range stages {
		out[i] = string(st.Category)
	}
	return out
}

func transition(log *slog.Logger, state model.FittingState) {
	log.Debug("fitting_state", "state", state)
}
