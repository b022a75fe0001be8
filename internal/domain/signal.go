// Package domain defines the core types shared across the signal vault:
// attested trade signals, vault accounting records, capability bindings, the
// error taxonomy, and the interfaces through which external collaborators
// (tokens, routers, fee policies, stores) are consumed.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Side indicates the direction of a signal relative to its base asset.
type Side uint8

const (
	SideBuyBase  Side = 0
	SideSellBase Side = 1
)

// String returns a human-readable side label.
func (s Side) String() string {
	switch s {
	case SideBuyBase:
		return "buy_base"
	case SideSellBase:
		return "sell_base"
	default:
		return "unknown"
	}
}

// Valid reports whether the side is one of the two defined values.
func (s Side) Valid() bool {
	return s == SideBuyBase || s == SideSellBase
}

// Signal is an attested trade recommendation produced by an off-ledger
// strategy. The field set and order are canonical: the attestation is a
// signature over the EIP-712 encoding of exactly these fields, and the
// signal identifier is the keccak hash of that encoding.
type Signal struct {
	Base            common.Address // asset being bought (side 0) or sold (side 1)
	Quote           common.Address // counter asset
	Side            Side
	SizeBps         uint32   // trade notional as bps of vault AUM
	PriceRef        *big.Int // reference price, quote units per base unit
	ConfidenceBps   uint32   // strategy confidence, 0-10000
	StrategyVersion uint64
	Deadline        uint64      // unix seconds; signal is dead strictly after this
	Nonce           common.Hash // single-use across all time
	PayloadURI      string      // off-chain evidence reference, e.g. ipfs://...
}

// Expired reports whether the signal's deadline has passed at the given time.
// Expiry is derived, never stored: a posted signal stays in the record store
// after its deadline but becomes non-executable.
func (s Signal) Expired(now time.Time) bool {
	return uint64(now.Unix()) > s.Deadline
}

// SignalRecord is the stored form of a validated signal.
type SignalRecord struct {
	ID          common.Hash // EIP-712 digest of the signal's canonical encoding
	Signal      Signal
	Attestation []byte         // 65-byte r||s||v signature
	Signer      common.Address // recovered attester
	Poster      common.Address // identity that submitted the signal
	Seq         uint64         // monotonically increasing per oracle instance
	PostedAt    time.Time
}

// TradeIntent carries the execution-time parameters for a posted signal. It
// is ephemeral: nothing of it persists beyond the execution attempt.
type TradeIntent struct {
	SignalID       common.Hash
	MaxSlippageBps uint32   // max divergence between PriceRef and realized price
	MinOut         *big.Int // absolute floor on swap output
	Deadline       uint64   // unix seconds; must not exceed the signal's deadline
	RouteData      []byte   // opaque, forwarded to the router untouched
}
