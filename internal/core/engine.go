package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ledger"
	vmath "VaultLedger/internal/math"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/protocol"
	"VaultLedger/internal/request"
	"VaultLedger/internal/state"
)

// DefaultLRUCapacity bounds the in-memory dedup cache when no explicit
// capacity is configured.
const DefaultLRUCapacity = 1_000_000

// Global zero-sum verification runs every N sequences; per-request checks
// cover the accounts the request touched.
const globalCheckInterval = 1000

// DeterministicCore is the single-threaded request processor. All vault
// state lives here; every mutation flows through ProcessRequest, which
// either applies a request completely or leaves no trace of it.
type DeterministicCore struct {
	sequence int64
	hasher   *StateHasher

	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	configManager  *state.ConfigManager
	depositManager *state.DepositManager
	priceCache     *state.PriceCache
	admins         map[addressing.Identity]bool

	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	lastEvictions     int64

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what the core emits per applied request. Deposit and Config
// are detached copies; consumers on other goroutines never see live state.
type CoreOutput struct {
	Envelope   *request.Envelope
	Batch      *ledger.Batch     // nil when no funds moved
	StateDelta []byte            // canonical digest hashed into the chain
	Deposit    *state.Deposit    // affected record after the request, if any
	Config     *state.PoolConfig // new configuration, when it changed
}

// Outcome reports the result of one request back to a waiting submitter.
type Outcome struct {
	Sequence  int64 // assigned global sequence, -1 when nothing was applied
	StateHash [32]byte
	Skipped   bool // duplicate or stale price: consumed without a state entry
	Err       error
}

// Submission pairs a request with an optional completion channel. Done is
// nil for sources that do not wait (stream ingestion, replay); a non-nil
// Done (HTTP) receives exactly one Outcome.
type Submission struct {
	Request request.Request
	Done    chan Outcome
}

func NewDeterministicCore(
	startSequence int64,
	admins []addressing.Identity,
	lruCapacity int,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	balanceTracker := ledger.NewBalanceTracker()
	validator := ledger.NewInvariantValidator(balanceTracker)
	journalGen := ledger.NewJournalGenerator(balanceTracker)

	adminSet := make(map[addressing.Identity]bool, len(admins))
	for _, a := range admins {
		adminSet[a] = true
	}

	if lruCapacity <= 0 {
		lruCapacity = DefaultLRUCapacity
	}
	idempotencyChecker := NewIdempotencyChecker(lruCapacity, dbChecker)
	if metrics != nil {
		idempotencyChecker.onDuplicate = func(requestType, tier string) {
			metrics.IdempotencyDuplicates.WithLabelValues(requestType, tier).Inc()
		}
		idempotencyChecker.onTier2 = func(seconds float64) {
			metrics.DedupTier2Duration.Observe(seconds)
		}
	}

	return &DeterministicCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        journalGen,
		validator:         validator,
		configManager:     state.NewConfigManager(),
		depositManager:    state.NewDepositManager(),
		priceCache:        state.NewPriceCache(),
		admins:            adminSet,
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// applyResult is what a handler returns: the funds movement, the state it
// touched, or a skip reason when the request is consumed without effect.
type applyResult struct {
	batch     *ledger.Batch
	deposit   *state.Deposit
	config    *state.PoolConfig
	priceFeed string
	price     *state.PriceState
	skipped   string
}

// ProcessRequest is the main processing pipeline. Validation happens before
// any mutation; once a journal batch applies, every later step must succeed
// or the process halts rather than continue from a half-applied state.
func (c *DeterministicCore) ProcessRequest(req request.Request) Outcome {
	start := time.Now()
	typeName := req.RequestType().String()
	key := req.IdempotencyKey()

	isDuplicate := c.idempotency.IsDuplicate(typeName, key)

	// Strict ordering applies only to sources that carry a sequence
	// (custody notifications). Operator and user requests are unordered;
	// price updates order inside the price cache.
	if partition, srcSeq, ok := sourcePartition(req); ok {
		expected := c.sequenceValidator.GetExpectedSequence(partition)
		if err := c.sequenceValidator.ValidateSequence(partition, srcSeq, key, isDuplicate); err != nil {
			if c.metrics != nil {
				if srcSeq > expected {
					c.metrics.RequestSequenceGap.WithLabelValues(partition).Inc()
				} else {
					c.metrics.RequestOutOfOrder.WithLabelValues(partition).Inc()
				}
			}
			return c.reject(typeName, start, protocol.ErrInvalidRequest(err.Error()))
		}
	}

	if isDuplicate {
		return c.skip(typeName, "duplicate", start)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return c.reject(typeName, start, protocol.ErrInvalidRequest(fmt.Sprintf("encode payload: %v", err)))
	}

	res, err := c.dispatchRequest(req)
	if err != nil {
		return c.reject(typeName, start, err)
	}

	if res.skipped != "" {
		c.idempotency.MarkProcessed(typeName, key)
		return c.skip(typeName, res.skipped, start)
	}

	// Validation is complete. A failure past this point is a programming
	// error and must halt the process, not produce a partial state.
	if res.batch != nil {
		if err := c.validator.ValidateBatchBalance(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch for %s %s: %v", typeName, key, err))
		}
		if err := c.balanceTracker.ApplyBatch(res.batch); err != nil {
			panic(fmt.Sprintf("FATAL: batch apply failed for %s %s: %v", typeName, key, err))
		}
	}

	hashStart := time.Now()
	digest := c.computeStateDigest(res)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &request.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: key,
		RequestType:    req.RequestType(),
		Actor:          req.Actor(),
		Timestamp:      getRequestTimestamp(req),
		SourceSequence: req.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	seq := c.sequence
	c.sequence++

	c.postCheckInvariants(req)

	var depositCopy *state.Deposit
	if res.deposit != nil {
		d := *res.deposit
		depositCopy = &d
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      res.batch,
		StateDelta: digest,
		Deposit:    depositCopy,
		Config:     res.config,
	}

	// Persist path blocks: the durable log must never lose an applied
	// request.
	select {
	case c.persistChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.PersistBackpressure.Inc()
		}
		c.persistChan <- output
	}

	// Projection path drops under pressure; projections rebuild from the
	// log.
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	c.idempotency.MarkProcessed(typeName, key)

	if c.metrics != nil {
		c.metrics.CoreRequestsApplied.WithLabelValues(typeName).Inc()
		c.metrics.CoreRequestDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(seq))
		if res.batch != nil {
			for _, j := range res.batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
		if evictions := c.idempotency.lru.Evictions(); evictions > c.lastEvictions {
			c.metrics.DedupLRUEvictions.Add(float64(evictions - c.lastEvictions))
			c.lastEvictions = evictions
		}
		c.updateVaultGauges()
	}

	return Outcome{Sequence: seq, StateHash: stateHash}
}

func (c *DeterministicCore) reject(typeName string, start time.Time, err error) Outcome {
	if c.metrics != nil {
		c.metrics.RequestErrors.WithLabelValues(protocol.CodeLabel(err)).Inc()
		c.metrics.CoreRequestDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
	}
	return Outcome{Sequence: -1, Err: err}
}

func (c *DeterministicCore) skip(typeName, reason string, start time.Time) Outcome {
	if c.metrics != nil {
		c.metrics.CoreRequestsSkipped.WithLabelValues(typeName, reason).Inc()
		c.metrics.CoreRequestDuration.WithLabelValues(typeName).Observe(time.Since(start).Seconds())
	}
	return Outcome{Sequence: -1, Skipped: true}
}

// sourcePartition names the strict-ordering partition for requests that
// carry a source sequence.
func sourcePartition(req request.Request) (string, int64, bool) {
	if r, ok := req.(*request.CustodyCredit); ok {
		return PartitionCustody, r.CustodySequence, true
	}
	return "", 0, false
}

func (c *DeterministicCore) requireAdmin(actor addressing.Identity) error {
	if !c.admins[actor] {
		return protocol.ErrNotAdmin(actor.String())
	}
	return nil
}

func expectAddress(name string, got, want addressing.Address) error {
	if err := addressing.Expect(name, got, want); err != nil {
		return protocol.ErrAddressMismatch(err)
	}
	return nil
}

func (c *DeterministicCore) dispatchRequest(req request.Request) (applyResult, error) {
	switch r := req.(type) {
	case *request.Initialize:
		return c.handleInitialize(r)
	case *request.UpdateConfig:
		return c.handleUpdateConfig(r)
	case *request.WithdrawCollateralForInvestment:
		return c.handleWithdrawCollateralForInvestment(r)
	case *request.PrepareWithdrawal:
		return c.handlePrepareWithdrawal(r)
	case *request.DepositInterest:
		return c.handleDepositInterest(r)
	case *request.WithdrawInterest:
		return c.handleWithdrawInterest(r)
	case *request.DepositCollateral:
		return c.handleDepositCollateral(r)
	case *request.RequestWithdrawalEarly:
		return c.handleRequestWithdrawalEarly(r)
	case *request.RequestWithdrawal:
		return c.handleRequestWithdrawal(r)
	case *request.WithdrawCollateral:
		return c.handleWithdrawCollateral(r)
	case *request.PriceUpdate:
		return c.handlePriceUpdate(r)
	case *request.CustodyCredit:
		return c.handleCustodyCredit(r)
	default:
		return applyResult{}, protocol.ErrInvalidRequest(fmt.Sprintf("unhandled request type %T", req))
	}
}

// --- Handlers ---

func (c *DeterministicCore) handleInitialize(r *request.Initialize) (applyResult, error) {
	if err := c.requireAdmin(r.Admin); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("withdrawal pool", r.WithdrawalPoolAddress, addressing.WithdrawalPoolAddress()); err != nil {
		return applyResult{}, err
	}

	cfg := &state.PoolConfig{
		InterestAsset:      r.InterestAsset,
		CollateralAsset:    r.CollateralAsset,
		BaseInterestRate:   r.BaseInterestRate,
		PriceMaxAge:        r.PriceMaxAge,
		MinCommissionRate:  r.MinCommissionRate,
		MaxCommissionRate:  r.MaxCommissionRate,
		MinDepositAmount:   r.MinDepositAmount,
		MaxDepositAmount:   r.MaxDepositAmount,
		AllowedLockPeriods: r.AllowedLockPeriods,
	}
	if err := c.configManager.Initialize(cfg); err != nil {
		return applyResult{}, err
	}

	stored, err := c.configManager.Get()
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{config: stored.Clone()}, nil
}

func (c *DeterministicCore) handleUpdateConfig(r *request.UpdateConfig) (applyResult, error) {
	if err := c.requireAdmin(r.Admin); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}

	field, err := c.configManager.Apply(r)
	if err != nil {
		return applyResult{}, err
	}
	if field == "" {
		// Absent optional value: the request succeeds without a change.
		return applyResult{}, nil
	}

	cfg, err := c.configManager.Get()
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{config: cfg.Clone()}, nil
}

func (c *DeterministicCore) handleWithdrawCollateralForInvestment(r *request.WithdrawCollateralForInvestment) (applyResult, error) {
	if err := c.requireAdmin(r.Admin); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if _, err := c.configManager.Get(); err != nil {
		return applyResult{}, err
	}

	batch, err := c.journalGen.GenerateInvestmentSweep(c.sequence, r.RequestID.String(), r.Admin, r.Timestamp.Unix())
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{batch: batch}, nil
}

func (c *DeterministicCore) handlePrepareWithdrawal(r *request.PrepareWithdrawal) (applyResult, error) {
	if err := c.requireAdmin(r.Admin); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("withdrawal pool", r.WithdrawalPoolAddress, addressing.WithdrawalPoolAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("deposit", r.DepositAddress, addressing.DepositAddress(r.User)); err != nil {
		return applyResult{}, err
	}
	if _, err := c.configManager.Get(); err != nil {
		return applyResult{}, err
	}

	dep := c.depositManager.Get(r.User)
	if dep == nil {
		return applyResult{}, protocol.ErrNoDepositFound(r.User.String())
	}
	if dep.State != state.DepositStateWithdrawRequested {
		return applyResult{}, protocol.ErrInvalidDepositState(dep.State.String(), state.DepositStateWithdrawRequested.String())
	}

	batch, err := c.journalGen.GenerateWithdrawalStage(c.sequence, r.RequestID.String(), r.Admin, dep.Amount, r.Timestamp.Unix())
	if err != nil {
		return applyResult{}, err
	}

	dep.State = state.DepositStateWithdrawReady
	dep.Version++
	return applyResult{batch: batch, deposit: dep}, nil
}

func (c *DeterministicCore) handleDepositInterest(r *request.DepositInterest) (applyResult, error) {
	if err := c.requireAdmin(r.Admin); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if _, err := c.configManager.Get(); err != nil {
		return applyResult{}, err
	}

	batch, err := c.journalGen.GenerateInterestFund(c.sequence, r.RequestID.String(), r.Admin, r.Amount, r.Timestamp.Unix())
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{batch: batch}, nil
}

func (c *DeterministicCore) handleWithdrawInterest(r *request.WithdrawInterest) (applyResult, error) {
	if err := c.requireAdmin(r.Admin); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if _, err := c.configManager.Get(); err != nil {
		return applyResult{}, err
	}

	batch, err := c.journalGen.GenerateInterestDefund(c.sequence, r.RequestID.String(), r.Admin, r.Amount, r.Timestamp.Unix())
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{batch: batch}, nil
}

func (c *DeterministicCore) handleDepositCollateral(r *request.DepositCollateral) (applyResult, error) {
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("deposit", r.DepositAddress, addressing.DepositAddress(r.User)); err != nil {
		return applyResult{}, err
	}

	cfg, err := c.configManager.Get()
	if err != nil {
		return applyResult{}, err
	}

	if existing := c.depositManager.Get(r.User); existing != nil {
		return applyResult{}, protocol.ErrDepositAlreadyExists(r.User.String())
	}
	if r.Amount < cfg.MinDepositAmount || r.Amount > cfg.MaxDepositAmount {
		return applyResult{}, protocol.ErrDepositAmountOutOfBounds(r.Amount, cfg.MinDepositAmount, cfg.MaxDepositAmount)
	}
	if r.CommissionRate < cfg.MinCommissionRate || r.CommissionRate > cfg.MaxCommissionRate {
		return applyResult{}, protocol.ErrCommissionRateOutOfBounds(r.CommissionRate, cfg.MinCommissionRate, cfg.MaxCommissionRate)
	}
	if !cfg.IsAllowedPeriod(r.LockPeriod) {
		return applyResult{}, protocol.ErrInvalidLockPeriod(r.LockPeriod)
	}

	now := r.Timestamp.Unix()
	price, err := c.priceCache.Fresh(cfg.CollateralFeedID(), now, cfg.PriceMaxAge)
	if err != nil {
		return applyResult{}, err
	}

	interest, err := vmath.ComputeInterest(r.Amount, price.Price, price.Exponent, cfg.BaseInterestRate, r.CommissionRate, r.LockPeriod)
	if err != nil {
		return applyResult{}, err
	}

	batch, err := c.journalGen.GenerateOpenDeposit(c.sequence, r.RequestID.String(), r.User, r.Amount, interest, now)
	if err != nil {
		return applyResult{}, err
	}

	dep := &state.Deposit{
		User:             r.User,
		Address:          r.DepositAddress,
		Amount:           r.Amount,
		DepositTime:      now,
		UnlockTime:       now + r.LockPeriod,
		InterestCredited: interest,
		CommissionRate:   r.CommissionRate,
		State:            state.DepositStateDeposited,
	}
	c.depositManager.Open(dep)

	if c.metrics != nil && interest > 0 {
		c.metrics.InterestCredited.Add(float64(interest))
	}
	return applyResult{batch: batch, deposit: dep}, nil
}

func (c *DeterministicCore) handleRequestWithdrawalEarly(r *request.RequestWithdrawalEarly) (applyResult, error) {
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("deposit", r.DepositAddress, addressing.DepositAddress(r.User)); err != nil {
		return applyResult{}, err
	}
	if _, err := c.configManager.Get(); err != nil {
		return applyResult{}, err
	}

	dep := c.depositManager.Get(r.User)
	if dep == nil {
		return applyResult{}, protocol.ErrNoDepositFound(r.User.String())
	}
	if dep.User != r.User {
		return applyResult{}, protocol.ErrNotOwner(r.User.String(), dep.User.String())
	}
	if dep.State != state.DepositStateDeposited {
		return applyResult{}, protocol.ErrInvalidDepositState(dep.State.String(), state.DepositStateDeposited.String())
	}

	now := r.Timestamp.Unix()
	clawback, err := vmath.ComputeClawback(dep.InterestCredited, dep.Elapsed(now), dep.LockDuration())
	if err != nil {
		return applyResult{}, err
	}

	// Zero clawback yields no batch; the state transition alone is applied.
	batch, err := c.journalGen.GenerateClawback(c.sequence, r.RequestID.String(), r.User, clawback, now)
	if err != nil {
		return applyResult{}, err
	}

	dep.State = state.DepositStateWithdrawRequested
	dep.Version++

	if c.metrics != nil && clawback > 0 {
		c.metrics.InterestClawedBack.Add(float64(clawback))
	}
	return applyResult{batch: batch, deposit: dep}, nil
}

func (c *DeterministicCore) handleRequestWithdrawal(r *request.RequestWithdrawal) (applyResult, error) {
	if err := expectAddress("deposit", r.DepositAddress, addressing.DepositAddress(r.User)); err != nil {
		return applyResult{}, err
	}

	dep := c.depositManager.Get(r.User)
	if dep == nil {
		return applyResult{}, protocol.ErrNoDepositFound(r.User.String())
	}
	if dep.User != r.User {
		return applyResult{}, protocol.ErrNotOwner(r.User.String(), dep.User.String())
	}
	if dep.State != state.DepositStateWithdrawRequested {
		return applyResult{}, protocol.ErrInvalidDepositState(dep.State.String(), state.DepositStateWithdrawRequested.String())
	}

	now := r.Timestamp.Unix()
	if !dep.Unlocked(now) {
		return applyResult{}, protocol.ErrNotUnlockedYet(now, dep.UnlockTime)
	}

	dep.State = state.DepositStateWithdrawReady
	dep.Version++
	return applyResult{deposit: dep}, nil
}

func (c *DeterministicCore) handleWithdrawCollateral(r *request.WithdrawCollateral) (applyResult, error) {
	if err := expectAddress("config", r.ConfigAddress, addressing.ConfigAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("authority", r.AuthorityAddress, addressing.AuthorityAddress()); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("deposit", r.DepositAddress, addressing.DepositAddress(r.User)); err != nil {
		return applyResult{}, err
	}
	if err := expectAddress("withdrawal pool", r.WithdrawalPoolAddress, addressing.WithdrawalPoolAddress()); err != nil {
		return applyResult{}, err
	}
	if _, err := c.configManager.Get(); err != nil {
		return applyResult{}, err
	}

	dep := c.depositManager.Get(r.User)
	if dep == nil {
		return applyResult{}, protocol.ErrNoDepositFound(r.User.String())
	}
	if dep.User != r.User {
		return applyResult{}, protocol.ErrNotOwner(r.User.String(), dep.User.String())
	}
	if dep.State != state.DepositStateWithdrawReady {
		return applyResult{}, protocol.ErrInvalidDepositState(dep.State.String(), state.DepositStateWithdrawReady.String())
	}

	batch, err := c.journalGen.GeneratePrincipalRelease(c.sequence, r.RequestID.String(), r.User, dep.Amount, r.Timestamp.Unix())
	if err != nil {
		return applyResult{}, err
	}

	dep.State = state.DepositStateWithdrawCompleted
	dep.Version++
	c.depositManager.Remove(r.User)
	return applyResult{batch: batch, deposit: dep}, nil
}

func (c *DeterministicCore) handlePriceUpdate(r *request.PriceUpdate) (applyResult, error) {
	if r.FeedID == "" {
		return applyResult{}, protocol.ErrInvalidInput("price update feed id must be set")
	}
	if r.Price <= 0 {
		return applyResult{}, protocol.ErrInvalidInput("price must be positive")
	}

	if !c.priceCache.Update(r.FeedID, r.Price, r.Exponent, r.PublishTime, r.PriceSequence, r.Timestamp.Unix()) {
		if c.metrics != nil {
			c.metrics.PriceUpdatesStale.WithLabelValues(r.FeedID).Inc()
		}
		return applyResult{skipped: "stale_price"}, nil
	}

	ps, _ := c.priceCache.Get(r.FeedID)
	return applyResult{priceFeed: r.FeedID, price: ps}, nil
}

func (c *DeterministicCore) handleCustodyCredit(r *request.CustodyCredit) (applyResult, error) {
	if r.Owner.IsZero() {
		return applyResult{}, protocol.ErrInvalidInput("custody credit owner must be set")
	}
	assetID, ok := ledger.GetAssetID(r.Asset)
	if !ok {
		return applyResult{}, protocol.ErrInvalidInput(fmt.Sprintf("unknown asset %q", r.Asset))
	}

	batch, err := c.journalGen.GenerateCustodyCredit(c.sequence, r.CreditID.String(), r.Owner, assetID, r.Amount, r.Timestamp.Unix())
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{batch: batch}, nil
}

// --- Determinism helpers ---

// getRequestTimestamp extracts the versioned input time. Every request type
// must be listed here; the deterministic core never reads the wall clock.
func getRequestTimestamp(req request.Request) time.Time {
	switch r := req.(type) {
	case *request.Initialize:
		return r.Timestamp
	case *request.UpdateConfig:
		return r.Timestamp
	case *request.WithdrawCollateralForInvestment:
		return r.Timestamp
	case *request.PrepareWithdrawal:
		return r.Timestamp
	case *request.DepositInterest:
		return r.Timestamp
	case *request.WithdrawInterest:
		return r.Timestamp
	case *request.DepositCollateral:
		return r.Timestamp
	case *request.RequestWithdrawalEarly:
		return r.Timestamp
	case *request.RequestWithdrawal:
		return r.Timestamp
	case *request.WithdrawCollateral:
		return r.Timestamp
	case *request.PriceUpdate:
		return time.Unix(r.PublishTime, 0)
	case *request.CustodyCredit:
		return r.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getRequestTimestamp called with unhandled request type %T: deterministic core cannot use wall-clock time", req))
	}
}

// computeStateDigest builds the canonical byte encoding of everything the
// request changed: post-apply balances of the touched accounts (sorted by
// path), the affected deposit record, the new configuration, and an
// accepted price reading.
func (c *DeterministicCore) computeStateDigest(res applyResult) []byte {
	digest := make([]byte, 0, 256)

	if res.batch != nil {
		seen := make(map[ledger.AccountKey]bool, len(res.batch.Journals)*2)
		accounts := make([]ledger.AccountKey, 0, len(res.batch.Journals)*2)
		for _, j := range res.batch.Journals {
			if !seen[j.DebitAccount] {
				seen[j.DebitAccount] = true
				accounts = append(accounts, j.DebitAccount)
			}
			if !seen[j.CreditAccount] {
				seen[j.CreditAccount] = true
				accounts = append(accounts, j.CreditAccount)
			}
		}
		sort.Slice(accounts, func(i, k int) bool {
			return accounts[i].AccountPath() < accounts[k].AccountPath()
		})
		for _, key := range accounts {
			path := key.AccountPath()
			digest = append(digest, byte(len(path)))
			digest = append(digest, path...)
			digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
		}
	}

	if res.deposit != nil {
		digest = append(digest, res.deposit.CanonicalBytes()...)
	}

	if res.config != nil {
		digest = append(digest, res.config.CanonicalBytes()...)
	}

	if res.price != nil {
		digest = append(digest, byte(len(res.priceFeed)))
		digest = append(digest, res.priceFeed...)
		digest = appendInt64LE(digest, res.price.Price)
		digest = appendInt64LE(digest, int64(res.price.Exponent))
		digest = appendInt64LE(digest, res.price.PublishTime)
		digest = appendInt64LE(digest, res.price.PriceSequence)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// postCheckInvariants verifies the books after an applied request. A
// violation here means a handler produced an inconsistent mutation; the
// process halts immediately.
func (c *DeterministicCore) postCheckInvariants(req request.Request) {
	if err := c.validator.ValidatePoolsNonNegative(); err != nil {
		panic(fmt.Sprintf("FATAL: pool invariant violated after %s %s: %v",
			req.RequestType(), req.IdempotencyKey(), err))
	}

	actor := req.Actor()
	if !actor.IsZero() {
		if err := c.validator.ValidateHoldingsNonNegative(actor); err != nil {
			panic(fmt.Sprintf("FATAL: holding invariant violated after %s %s: %v",
				req.RequestType(), req.IdempotencyKey(), err))
		}
	}

	if c.sequence%globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			panic(fmt.Sprintf("FATAL: global balance invariant violated at sequence %d: %v",
				c.sequence, err))
		}
	}
}

func (c *DeterministicCore) updateVaultGauges() {
	c.metrics.PoolBalance.WithLabelValues("collateral").Set(float64(c.balanceTracker.CollateralPool()))
	c.metrics.PoolBalance.WithLabelValues("interest").Set(float64(c.balanceTracker.InterestPool()))
	c.metrics.PoolBalance.WithLabelValues("withdrawal").Set(float64(c.balanceTracker.WithdrawalPool()))
	c.metrics.DepositsOpen.Set(float64(c.depositManager.Count()))
}

// --- Snapshots & recovery ---

// SnapshotState is the complete core state at a sequence boundary. Every
// field is detached from the live structures; a snapshot taken between
// requests stays valid while processing continues.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Balances map[ledger.AccountKey]int64
	Config   *state.PoolConfig
	Deposits []*state.Deposit
	Prices   map[string]*state.PriceState

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the state after the last applied request.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	deposits := make([]*state.Deposit, 0, c.depositManager.Count())
	for _, d := range c.depositManager.All() {
		cp := *d
		deposits = append(deposits, &cp)
	}
	sort.Slice(deposits, func(i, j int) bool {
		return deposits[i].User.String() < deposits[j].User.String()
	})

	prices := make(map[string]*state.PriceState)
	for feed, ps := range c.priceCache.All() {
		cp := *ps
		prices[feed] = &cp
	}

	var cfg *state.PoolConfig
	if stored, err := c.configManager.Get(); err == nil {
		cfg = stored.Clone()
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Config:          cfg,
		Deposits:        deposits,
		Prices:          prices,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot loads a snapshot into an empty core. Processing
// resumes at the sequence after the snapshot boundary.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)
	c.balanceTracker.Restore(snap.Balances)

	if snap.Config != nil {
		c.configManager.Restore(snap.Config)
	}
	for _, d := range snap.Deposits {
		c.depositManager.Restore(d)
	}
	for feed, ps := range snap.Prices {
		c.priceCache.Restore(feed, ps)
	}
	for partition, seq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, seq)
	}
}

// WarmLRU preloads recently processed idempotency keys after a restart.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// SetDBChecker arms the tier-2 idempotency lookup. Boot constructs the core
// without it so that replaying the request log is not rejected as duplicate
// by the very log being replayed; call this after replay, before serving.
func (c *DeterministicCore) SetDBChecker(checker DBIdempotencyChecker) {
	c.idempotency.dbChecker = checker
}

// GetSequence returns the next sequence to be assigned
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current chain tip
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}
