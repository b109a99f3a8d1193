package request

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/protocol"
)

// Wire op codes. These values are the protocol contract and never change.
const (
	OpInitialize                      uint8 = 0
	OpUpdateConfig                    uint8 = 1
	OpWithdrawCollateralForInvestment uint8 = 2
	OpPrepareWithdrawal               uint8 = 3
	OpDepositInterest                 uint8 = 4
	OpWithdrawInterest                uint8 = 5
	OpDepositCollateral               uint8 = 6
	OpRequestWithdrawalEarly          uint8 = 7
	OpRequestWithdrawal               uint8 = 8
	OpWithdrawCollateral              uint8 = 9
)

// DeriveRequestID builds a deterministic request id from the raw wire bytes,
// used when a message arrives without a Vault-Request-Id header. Redelivery
// of identical bytes dedupes to the same id.
func DeriveRequestID(raw []byte) uuid.UUID {
	sum := sha256.Sum256(raw)
	var id uuid.UUID
	copy(id[:], sum[:16])
	return id
}

// DecodeRequest parses a binary protocol request:
//
//	[1B op code][32B signer identity][1B account count]
//	[count x 32B account references][op payload, little-endian]
//
// Account reference order is fixed per op. Variable-length lists are
// u16-length-prefixed. Optional values carry a leading presence byte (0 or 1).
// Unsigned values above the int64 range, unknown op codes, bad account counts,
// truncated payloads, and trailing bytes all reject with InvalidRequest.
//
// The supplied request id and timestamp are stamped onto the decoded request;
// neither is part of the wire form.
func DecodeRequest(data []byte, id uuid.UUID, receivedAt time.Time) (Request, error) {
	r := &wireReader{data: data}
	op := r.u8()
	signer := r.identity()
	if r.err != nil {
		return nil, r.err
	}

	var req Request
	switch op {
	case OpInitialize:
		a := r.accounts(3)
		req = &Initialize{
			RequestID:             id,
			Admin:                 signer,
			ConfigAddress:         a[0],
			AuthorityAddress:      a[1],
			WithdrawalPoolAddress: a[2],
			InterestAsset:         r.identity(),
			CollateralAsset:       r.identity(),
			BaseInterestRate:      r.u64(),
			PriceMaxAge:           r.u64(),
			MinCommissionRate:     r.u64(),
			MaxCommissionRate:     r.u64(),
			MinDepositAmount:      r.u64(),
			MaxDepositAmount:      r.u64(),
			AllowedLockPeriods:    r.periodList(),
			Timestamp:             receivedAt,
		}
	case OpUpdateConfig:
		a := r.accounts(1)
		req = &UpdateConfig{
			RequestID:          id,
			Admin:              signer,
			ConfigAddress:      a[0],
			Selector:           r.u8(),
			BaseInterestRate:   r.optionalU64(),
			PriceMaxAge:        r.optionalU64(),
			MinCommissionRate:  r.optionalU64(),
			MaxCommissionRate:  r.optionalU64(),
			MinDepositAmount:   r.optionalU64(),
			MaxDepositAmount:   r.optionalU64(),
			AllowedLockPeriods: r.optionalPeriodList(),
			Timestamp:          receivedAt,
		}
	case OpWithdrawCollateralForInvestment:
		a := r.accounts(2)
		req = &WithdrawCollateralForInvestment{
			RequestID:        id,
			Admin:            signer,
			ConfigAddress:    a[0],
			AuthorityAddress: a[1],
			Timestamp:        receivedAt,
		}
	case OpPrepareWithdrawal:
		a := r.accounts(3)
		req = &PrepareWithdrawal{
			RequestID:             id,
			Admin:                 signer,
			ConfigAddress:         a[0],
			WithdrawalPoolAddress: a[1],
			DepositAddress:        a[2],
			User:                  r.identity(),
			Timestamp:             receivedAt,
		}
	case OpDepositInterest:
		a := r.accounts(2)
		req = &DepositInterest{
			RequestID:        id,
			Admin:            signer,
			ConfigAddress:    a[0],
			AuthorityAddress: a[1],
			Amount:           r.u64(),
			Timestamp:        receivedAt,
		}
	case OpWithdrawInterest:
		a := r.accounts(2)
		req = &WithdrawInterest{
			RequestID:        id,
			Admin:            signer,
			ConfigAddress:    a[0],
			AuthorityAddress: a[1],
			Amount:           r.u64(),
			Timestamp:        receivedAt,
		}
	case OpDepositCollateral:
		a := r.accounts(3)
		req = &DepositCollateral{
			RequestID:        id,
			User:             signer,
			ConfigAddress:    a[0],
			AuthorityAddress: a[1],
			DepositAddress:   a[2],
			Amount:           r.u64(),
			LockPeriod:       r.u64(),
			CommissionRate:   r.u64(),
			Timestamp:        receivedAt,
		}
	case OpRequestWithdrawalEarly:
		a := r.accounts(3)
		req = &RequestWithdrawalEarly{
			RequestID:        id,
			User:             signer,
			ConfigAddress:    a[0],
			AuthorityAddress: a[1],
			DepositAddress:   a[2],
			Timestamp:        receivedAt,
		}
	case OpRequestWithdrawal:
		a := r.accounts(1)
		req = &RequestWithdrawal{
			RequestID:      id,
			User:           signer,
			DepositAddress: a[0],
			Timestamp:      receivedAt,
		}
	case OpWithdrawCollateral:
		a := r.accounts(4)
		req = &WithdrawCollateral{
			RequestID:             id,
			User:                  signer,
			ConfigAddress:         a[0],
			AuthorityAddress:      a[1],
			DepositAddress:        a[2],
			WithdrawalPoolAddress: a[3],
			Timestamp:             receivedAt,
		}
	default:
		return nil, protocol.ErrInvalidRequest(fmt.Sprintf("unknown op code %d", op))
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeRequest serializes a protocol request to wire form. RequestID and
// Timestamp are transport concerns and are not encoded. Price and custody
// inputs travel as JSON and have no binary form.
func EncodeRequest(req Request) ([]byte, error) {
	w := &wireWriter{}
	switch q := req.(type) {
	case *Initialize:
		w.u8(OpInitialize)
		w.identity(q.Admin)
		w.accounts(q.ConfigAddress, q.AuthorityAddress, q.WithdrawalPoolAddress)
		w.identity(q.InterestAsset)
		w.identity(q.CollateralAsset)
		w.u64(q.BaseInterestRate)
		w.u64(q.PriceMaxAge)
		w.u64(q.MinCommissionRate)
		w.u64(q.MaxCommissionRate)
		w.u64(q.MinDepositAmount)
		w.u64(q.MaxDepositAmount)
		w.periodList(q.AllowedLockPeriods)
	case *UpdateConfig:
		w.u8(OpUpdateConfig)
		w.identity(q.Admin)
		w.accounts(q.ConfigAddress)
		w.u8(q.Selector)
		w.optionalU64(q.BaseInterestRate)
		w.optionalU64(q.PriceMaxAge)
		w.optionalU64(q.MinCommissionRate)
		w.optionalU64(q.MaxCommissionRate)
		w.optionalU64(q.MinDepositAmount)
		w.optionalU64(q.MaxDepositAmount)
		w.optionalPeriodList(q.AllowedLockPeriods)
	case *WithdrawCollateralForInvestment:
		w.u8(OpWithdrawCollateralForInvestment)
		w.identity(q.Admin)
		w.accounts(q.ConfigAddress, q.AuthorityAddress)
	case *PrepareWithdrawal:
		w.u8(OpPrepareWithdrawal)
		w.identity(q.Admin)
		w.accounts(q.ConfigAddress, q.WithdrawalPoolAddress, q.DepositAddress)
		w.identity(q.User)
	case *DepositInterest:
		w.u8(OpDepositInterest)
		w.identity(q.Admin)
		w.accounts(q.ConfigAddress, q.AuthorityAddress)
		w.u64(q.Amount)
	case *WithdrawInterest:
		w.u8(OpWithdrawInterest)
		w.identity(q.Admin)
		w.accounts(q.ConfigAddress, q.AuthorityAddress)
		w.u64(q.Amount)
	case *DepositCollateral:
		w.u8(OpDepositCollateral)
		w.identity(q.User)
		w.accounts(q.ConfigAddress, q.AuthorityAddress, q.DepositAddress)
		w.u64(q.Amount)
		w.u64(q.LockPeriod)
		w.u64(q.CommissionRate)
	case *RequestWithdrawalEarly:
		w.u8(OpRequestWithdrawalEarly)
		w.identity(q.User)
		w.accounts(q.ConfigAddress, q.AuthorityAddress, q.DepositAddress)
	case *RequestWithdrawal:
		w.u8(OpRequestWithdrawal)
		w.identity(q.User)
		w.accounts(q.DepositAddress)
	case *WithdrawCollateral:
		w.u8(OpWithdrawCollateral)
		w.identity(q.User)
		w.accounts(q.ConfigAddress, q.AuthorityAddress, q.DepositAddress, q.WithdrawalPoolAddress)
	default:
		return nil, fmt.Errorf("no binary encoding for request type %s", req.RequestType())
	}
	return w.finish()
}

// wireReader walks the wire bytes with a sticky error: after the first
// failure every read returns a zero value and the error surfaces at finish.
type wireReader struct {
	data []byte
	off  int
	err  error
}

func (r *wireReader) fail(detail string) {
	if r.err == nil {
		r.err = protocol.ErrInvalidRequest(detail)
	}
}

func (r *wireReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.data) {
		r.fail("truncated request")
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *wireReader) u16() int {
	if r.err != nil {
		return 0
	}
	if r.off+2 > len(r.data) {
		r.fail("truncated request")
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return int(v)
}

func (r *wireReader) u64() int64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.fail("truncated request")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	if v > math.MaxInt64 {
		r.fail(fmt.Sprintf("value %d exceeds int64 range", v))
		return 0
	}
	return int64(v)
}

func (r *wireReader) bytes32() (out [32]byte) {
	if r.err != nil {
		return out
	}
	if r.off+32 > len(r.data) {
		r.fail("truncated request")
		return out
	}
	copy(out[:], r.data[r.off:])
	r.off += 32
	return out
}

func (r *wireReader) identity() addressing.Identity {
	return addressing.Identity(r.bytes32())
}

func (r *wireReader) address() addressing.Address {
	return addressing.Address(r.bytes32())
}

// accounts reads the account count byte and the references that follow. The
// count must match the op's fixed list. The returned slice always has want
// entries so callers can index it before checking the reader error.
func (r *wireReader) accounts(want int) []addressing.Address {
	out := make([]addressing.Address, want)
	n := int(r.u8())
	if r.err != nil {
		return out
	}
	if n != want {
		r.fail(fmt.Sprintf("expected %d account references, got %d", want, n))
		return out
	}
	for i := range out {
		out[i] = r.address()
	}
	return out
}

func (r *wireReader) optionalU64() *int64 {
	switch r.u8() {
	case 0:
		return nil
	case 1:
		v := r.u64()
		if r.err != nil {
			return nil
		}
		return &v
	default:
		r.fail("invalid presence byte")
		return nil
	}
}

func (r *wireReader) periodList() []int64 {
	n := r.u16()
	if r.err != nil {
		return nil
	}
	if r.off+8*n > len(r.data) {
		r.fail("truncated request")
		return nil
	}
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.u64())
	}
	if r.err != nil {
		return nil
	}
	return out
}

func (r *wireReader) optionalPeriodList() []int64 {
	switch r.u8() {
	case 0:
		return nil
	case 1:
		return r.periodList()
	default:
		r.fail("invalid presence byte")
		return nil
	}
}

func (r *wireReader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.data) {
		return protocol.ErrInvalidRequest(fmt.Sprintf("%d trailing bytes after payload", len(r.data)-r.off))
	}
	return nil
}

// wireWriter builds the wire bytes, also with a sticky error.
type wireWriter struct {
	buf []byte
	err error
}

func (w *wireWriter) fail(detail string) {
	if w.err == nil {
		w.err = fmt.Errorf("encode request: %s", detail)
	}
}

func (w *wireWriter) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *wireWriter) u16(v int) {
	if v < 0 || v > math.MaxUint16 {
		w.fail(fmt.Sprintf("list length %d out of u16 range", v))
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
}

func (w *wireWriter) u64(v int64) {
	if v < 0 {
		w.fail(fmt.Sprintf("negative value %d", v))
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *wireWriter) identity(id addressing.Identity) {
	w.buf = append(w.buf, id[:]...)
}

func (w *wireWriter) accounts(addrs ...addressing.Address) {
	w.u8(uint8(len(addrs)))
	for _, a := range addrs {
		w.buf = append(w.buf, a[:]...)
	}
}

func (w *wireWriter) optionalU64(v *int64) {
	if v == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.u64(*v)
}

func (w *wireWriter) periodList(periods []int64) {
	w.u16(len(periods))
	for _, p := range periods {
		w.u64(p)
	}
}

func (w *wireWriter) optionalPeriodList(periods []int64) {
	if periods == nil {
		w.u8(0)
		return
	}
	w.u8(1)
	w.periodList(periods)
}

func (w *wireWriter) finish() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}
