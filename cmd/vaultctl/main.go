package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/request"
	"VaultLedger/internal/state"
)

const publishTimeout = 10 * time.Second

func usage() {
	fmt.Println("Usage: vaultctl <command> [flags]")
	fmt.Println()
	fmt.Println("Admin commands:")
	fmt.Println("  init                 create the pool configuration")
	fmt.Println("  update-config        change one configuration field")
	fmt.Println("  invest               sweep the collateral pool for investment")
	fmt.Println("  prepare-withdrawal   stage a user's requested withdrawal")
	fmt.Println("  deposit-interest     fund the interest pool")
	fmt.Println("  withdraw-interest    defund the interest pool")
	fmt.Println()
	fmt.Println("User commands:")
	fmt.Println("  deposit              lock collateral into a new deposit")
	fmt.Println("  request-early        request early exit with interest clawback")
	fmt.Println("  request-withdrawal   request withdrawal at maturity")
	fmt.Println("  withdraw             claim a staged withdrawal")
	fmt.Println()
	fmt.Println("Stream injection:")
	fmt.Println("  price                publish an oracle price update")
	fmt.Println("  custody-credit       publish a custody credit")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  VAULT_NATS_URL       NATS server (default: nats://localhost:4222)")
	os.Exit(1)
}

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init":
		cmdInit(args)
	case "update-config":
		cmdUpdateConfig(args)
	case "invest":
		cmdInvest(args)
	case "prepare-withdrawal":
		cmdPrepareWithdrawal(args)
	case "deposit-interest":
		cmdPoolInterest(args, true)
	case "withdraw-interest":
		cmdPoolInterest(args, false)
	case "deposit":
		cmdDeposit(args)
	case "request-early":
		cmdRequestEarly(args)
	case "request-withdrawal":
		cmdRequestWithdrawal(args)
	case "withdraw":
		cmdWithdraw(args)
	case "price":
		cmdPrice(args)
	case "custody-credit":
		cmdCustodyCredit(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
	}
}

// --- Admin commands ---

func cmdInit(args []string) {
	dc := state.DefaultConfig

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	admin := fs.String("admin", "", "admin identity, hex (required)")
	interestAsset := fs.String("interest-asset", "", "interest asset identity, hex (required)")
	collateralAsset := fs.String("collateral-asset", "", "collateral asset identity, hex (required)")
	baseRate := fs.Int64("base-rate", dc.BaseInterestRate, "annual interest rate, parts-per-thousand")
	priceMaxAge := fs.Int64("price-max-age", dc.PriceMaxAge, "oracle staleness bound, seconds")
	minCommission := fs.Int64("min-commission", dc.MinCommissionRate, "minimum commission, parts-per-thousand")
	maxCommission := fs.Int64("max-commission", dc.MaxCommissionRate, "maximum commission, parts-per-thousand")
	minDeposit := fs.Int64("min-deposit", dc.MinDepositAmount, "minimum deposit amount")
	maxDeposit := fs.Int64("max-deposit", dc.MaxDepositAmount, "maximum deposit amount")
	periods := fs.String("lock-periods", formatPeriods(dc.AllowedLockPeriods), "allowed lock periods, seconds, comma-separated")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	req := &request.Initialize{
		Admin:                 mustIdentity("admin", *admin),
		ConfigAddress:         addressing.ConfigAddress(),
		AuthorityAddress:      addressing.AuthorityAddress(),
		WithdrawalPoolAddress: addressing.WithdrawalPoolAddress(),
		InterestAsset:         mustIdentity("interest-asset", *interestAsset),
		CollateralAsset:       mustIdentity("collateral-asset", *collateralAsset),
		BaseInterestRate:      *baseRate,
		PriceMaxAge:           *priceMaxAge,
		MinCommissionRate:     *minCommission,
		MaxCommissionRate:     *maxCommission,
		MinDepositAmount:      *minDeposit,
		MaxDepositAmount:      *maxDeposit,
		AllowedLockPeriods:    mustPeriods(*periods),
	}
	publishRequest(req, *requestID)
}

func cmdUpdateConfig(args []string) {
	fs := flag.NewFlagSet("update-config", flag.ExitOnError)
	admin := fs.String("admin", "", "admin identity, hex (required)")
	baseRate := fs.Int64("base-rate", 0, "new annual interest rate, parts-per-thousand")
	priceMaxAge := fs.Int64("price-max-age", 0, "new oracle staleness bound, seconds")
	minCommission := fs.Int64("min-commission", 0, "new minimum commission")
	maxCommission := fs.Int64("max-commission", 0, "new maximum commission")
	minDeposit := fs.Int64("min-deposit", 0, "new minimum deposit amount")
	maxDeposit := fs.Int64("max-deposit", 0, "new maximum deposit amount")
	periods := fs.String("lock-periods", "", "new allowed lock periods, comma-separated")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	req := &request.UpdateConfig{
		Admin:         mustIdentity("admin", *admin),
		ConfigAddress: addressing.ConfigAddress(),
	}

	// One field per call: the selector comes from whichever flag was set.
	var set []string
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-rate":
			req.Selector = request.SelectorBaseInterestRate
			req.BaseInterestRate = baseRate
		case "price-max-age":
			req.Selector = request.SelectorPriceMaxAge
			req.PriceMaxAge = priceMaxAge
		case "min-commission":
			req.Selector = request.SelectorMinCommissionRate
			req.MinCommissionRate = minCommission
		case "max-commission":
			req.Selector = request.SelectorMaxCommissionRate
			req.MaxCommissionRate = maxCommission
		case "min-deposit":
			req.Selector = request.SelectorMinDepositAmount
			req.MinDepositAmount = minDeposit
		case "max-deposit":
			req.Selector = request.SelectorMaxDepositAmount
			req.MaxDepositAmount = maxDeposit
		case "lock-periods":
			req.Selector = request.SelectorAllowedLockPeriods
			req.AllowedLockPeriods = mustPeriods(*periods)
		default:
			return
		}
		set = append(set, f.Name)
	})
	if len(set) != 1 {
		log.Fatalf("update-config changes exactly one field per call, got %d (%s)", len(set), strings.Join(set, ", "))
	}

	publishRequest(req, *requestID)
}

func cmdInvest(args []string) {
	fs := flag.NewFlagSet("invest", flag.ExitOnError)
	admin := fs.String("admin", "", "admin identity, hex (required)")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	publishRequest(&request.WithdrawCollateralForInvestment{
		Admin:            mustIdentity("admin", *admin),
		ConfigAddress:    addressing.ConfigAddress(),
		AuthorityAddress: addressing.AuthorityAddress(),
	}, *requestID)
}

func cmdPrepareWithdrawal(args []string) {
	fs := flag.NewFlagSet("prepare-withdrawal", flag.ExitOnError)
	admin := fs.String("admin", "", "admin identity, hex (required)")
	user := fs.String("user", "", "deposit owner identity, hex (required)")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	owner := mustIdentity("user", *user)
	publishRequest(&request.PrepareWithdrawal{
		Admin:                 mustIdentity("admin", *admin),
		ConfigAddress:         addressing.ConfigAddress(),
		WithdrawalPoolAddress: addressing.WithdrawalPoolAddress(),
		DepositAddress:        addressing.DepositAddress(owner),
		User:                  owner,
	}, *requestID)
}

func cmdPoolInterest(args []string, deposit bool) {
	name := "withdraw-interest"
	if deposit {
		name = "deposit-interest"
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	admin := fs.String("admin", "", "admin identity, hex (required)")
	amount := fs.Int64("amount", 0, "amount in base units (required)")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	if *amount <= 0 {
		log.Fatalf("-amount must be positive")
	}

	if deposit {
		publishRequest(&request.DepositInterest{
			Admin:            mustIdentity("admin", *admin),
			ConfigAddress:    addressing.ConfigAddress(),
			AuthorityAddress: addressing.AuthorityAddress(),
			Amount:           *amount,
		}, *requestID)
		return
	}
	publishRequest(&request.WithdrawInterest{
		Admin:            mustIdentity("admin", *admin),
		ConfigAddress:    addressing.ConfigAddress(),
		AuthorityAddress: addressing.AuthorityAddress(),
		Amount:           *amount,
	}, *requestID)
}

// --- User commands ---

func cmdDeposit(args []string) {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	user := fs.String("user", "", "depositor identity, hex (required)")
	amount := fs.Int64("amount", 0, "collateral amount in base units (required)")
	lockPeriod := fs.Int64("lock-period", state.DefaultConfig.AllowedLockPeriods[0], "lock period, seconds")
	commission := fs.Int64("commission", state.DefaultConfig.MinCommissionRate, "commission rate, parts-per-thousand")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	if *amount <= 0 {
		log.Fatalf("-amount must be positive")
	}

	owner := mustIdentity("user", *user)
	publishRequest(&request.DepositCollateral{
		User:             owner,
		ConfigAddress:    addressing.ConfigAddress(),
		AuthorityAddress: addressing.AuthorityAddress(),
		DepositAddress:   addressing.DepositAddress(owner),
		Amount:           *amount,
		LockPeriod:       *lockPeriod,
		CommissionRate:   *commission,
	}, *requestID)
}

func cmdRequestEarly(args []string) {
	fs := flag.NewFlagSet("request-early", flag.ExitOnError)
	user := fs.String("user", "", "depositor identity, hex (required)")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	owner := mustIdentity("user", *user)
	publishRequest(&request.RequestWithdrawalEarly{
		User:             owner,
		ConfigAddress:    addressing.ConfigAddress(),
		AuthorityAddress: addressing.AuthorityAddress(),
		DepositAddress:   addressing.DepositAddress(owner),
	}, *requestID)
}

func cmdRequestWithdrawal(args []string) {
	fs := flag.NewFlagSet("request-withdrawal", flag.ExitOnError)
	user := fs.String("user", "", "depositor identity, hex (required)")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	owner := mustIdentity("user", *user)
	publishRequest(&request.RequestWithdrawal{
		User:           owner,
		DepositAddress: addressing.DepositAddress(owner),
	}, *requestID)
}

func cmdWithdraw(args []string) {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	user := fs.String("user", "", "depositor identity, hex (required)")
	requestID := fs.String("request-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	owner := mustIdentity("user", *user)
	publishRequest(&request.WithdrawCollateral{
		User:                  owner,
		ConfigAddress:         addressing.ConfigAddress(),
		AuthorityAddress:      addressing.AuthorityAddress(),
		DepositAddress:        addressing.DepositAddress(owner),
		WithdrawalPoolAddress: addressing.WithdrawalPoolAddress(),
	}, *requestID)
}

// --- Stream injection ---

func cmdPrice(args []string) {
	fs := flag.NewFlagSet("price", flag.ExitOnError)
	feedID := fs.String("feed", "", "oracle feed id (required)")
	price := fs.Int64("price", 0, "price mantissa (required)")
	exponent := fs.Int("exponent", 0, "price exponent")
	publishTime := fs.Int64("publish-time", time.Now().Unix(), "publish time, epoch seconds")
	sequence := fs.Int64("sequence", 0, "oracle sequence (required, monotonic per feed)")
	fs.Parse(args)

	if *feedID == "" {
		log.Fatalf("-feed is required")
	}
	if *sequence <= 0 {
		log.Fatalf("-sequence is required and must be positive")
	}

	payload := map[string]any{
		"feed_id":        *feedID,
		"price":          *price,
		"exponent":       int32(*exponent),
		"publish_time":   *publishTime,
		"price_sequence": *sequence,
	}
	publishJSON(fmt.Sprintf("vault.prices.%s", *feedID), payload)
}

func cmdCustodyCredit(args []string) {
	fs := flag.NewFlagSet("custody-credit", flag.ExitOnError)
	owner := fs.String("owner", "", "credited owner identity, hex (required)")
	asset := fs.String("asset", "collateral", "asset name: collateral or interest")
	amount := fs.Int64("amount", 0, "credited amount in base units (required)")
	sequence := fs.Int64("sequence", 0, "custody source sequence (required, monotonic)")
	creditID := fs.String("credit-id", "", "idempotency id, defaults to a fresh UUID")
	fs.Parse(args)

	if *amount <= 0 {
		log.Fatalf("-amount must be positive")
	}
	if *sequence <= 0 {
		log.Fatalf("-sequence is required and must be positive")
	}

	id := *creditID
	if id == "" {
		id = uuid.New().String()
	} else if _, err := uuid.Parse(id); err != nil {
		log.Fatalf("-credit-id: %v", err)
	}

	payload := map[string]any{
		"credit_id":        id,
		"owner":            mustIdentity("owner", *owner).String(),
		"asset":            *asset,
		"amount":           *amount,
		"custody_sequence": *sequence,
		"timestamp_us":     time.Now().UnixMicro(),
	}
	publishJSON("vault.custody.credits", payload)
}

// --- Publishing ---

func connectJetStream() (*nats.Conn, jetstream.JetStream) {
	url := os.Getenv("VAULT_NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	nc, js, err := ingestion.ConnectNATS(url)
	if err != nil {
		log.Fatalf("nats connect: %v", err)
	}
	return nc, js
}

// publishRequest encodes a protocol request and publishes it on the request
// stream. The idempotency id travels in the Vault-Request-Id header, so
// re-running a command with -request-id set is safe.
func publishRequest(req request.Request, requestID string) {
	if requestID == "" {
		requestID = uuid.New().String()
	} else if _, err := uuid.Parse(requestID); err != nil {
		log.Fatalf("-request-id: %v", err)
	}

	data, err := request.EncodeRequest(req)
	if err != nil {
		log.Fatalf("encode %s: %v", req.RequestType(), err)
	}

	nc, js := connectJetStream()
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	msg := &nats.Msg{
		Subject: fmt.Sprintf("vault.requests.%s", req.RequestType()),
		Header:  nats.Header{ingestion.RequestIDHeader: []string{requestID}},
		Data:    data,
	}
	ack, err := js.PublishMsg(ctx, msg)
	if err != nil {
		log.Fatalf("publish %s: %v", req.RequestType(), err)
	}

	fmt.Printf("published %s (request_id=%s, stream=%s, seq=%d)\n", req.RequestType(), requestID, ack.Stream, ack.Sequence)
	fmt.Printf("outcome on vault.ledger.outcomes.%s\n", req.RequestType())
}

func publishJSON(subject string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}

	nc, js := connectJetStream()
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	ack, err := js.Publish(ctx, subject, data)
	if err != nil {
		log.Fatalf("publish %s: %v", subject, err)
	}
	fmt.Printf("published to %s (stream=%s, seq=%d)\n", subject, ack.Stream, ack.Sequence)
}

// --- Helpers ---

func mustIdentity(name, value string) addressing.Identity {
	if value == "" {
		log.Fatalf("-%s is required", name)
	}
	id, err := addressing.ParseIdentity(value)
	if err != nil {
		log.Fatalf("-%s: %v", name, err)
	}
	return id
}

func mustPeriods(s string) []int64 {
	var periods []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := strconv.ParseInt(part, 10, 64)
		if err != nil || p <= 0 {
			log.Fatalf("-lock-periods: %q is not a positive integer", part)
		}
		periods = append(periods, p)
	}
	if len(periods) == 0 {
		log.Fatalf("-lock-periods must list at least one period")
	}
	return periods
}

func formatPeriods(periods []int64) string {
	parts := make([]string, len(periods))
	for i, p := range periods {
		parts[i] = strconv.FormatInt(p, 10)
	}
	return strings.Join(parts, ",")
}
