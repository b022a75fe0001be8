package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tgcapital/signalvault/internal/domain"
)

// Domain constants for signal attestations. The verifying contract slot is
// filled with the oracle instance identity, binding every attestation to one
// oracle on one chain.
const (
	attestDomainName    = "TGSignalOracle"
	attestDomainVersion = "1"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Signal(address base,address quote,uint8 side,uint32 sizeBps,uint256 priceRef,uint32 confidenceBps,uint64 strategyVersion,uint64 deadline,bytes32 nonce,string payloadUri)
	signalTypeHash = ethcrypto.Keccak256(
		[]byte("Signal(address base,address quote,uint8 side,uint32 sizeBps,uint256 priceRef,uint32 confidenceBps,uint64 strategyVersion,uint64 deadline,bytes32 nonce,string payloadUri)"),
	)
)

// DomainSeparator returns the EIP-712 domain separator binding attestations
// to the given chain and oracle instance.
func DomainSeparator(chainID int64, oracle common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(attestDomainName)),
			ethcrypto.Keccak256([]byte(attestDomainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(oracle.Bytes(), 32),
		),
	)
}

// signalStructHash encodes and hashes a Signal according to EIP-712. The
// dynamic payloadUri field is keccak-hashed as EIP-712 requires; every fixed
// field is left-padded to 32 bytes in declaration order.
func signalStructHash(s domain.Signal) []byte {
	priceRef := s.PriceRef
	if priceRef == nil {
		priceRef = new(big.Int)
	}
	return ethcrypto.Keccak256(
		concatBytes(
			signalTypeHash,
			common.LeftPadBytes(s.Base.Bytes(), 32),
			common.LeftPadBytes(s.Quote.Bytes(), 32),
			bigIntTo32Bytes(big.NewInt(int64(s.Side))),
			bigIntTo32Bytes(big.NewInt(int64(s.SizeBps))),
			bigIntTo32Bytes(priceRef),
			bigIntTo32Bytes(big.NewInt(int64(s.ConfidenceBps))),
			bigIntTo32Bytes(new(big.Int).SetUint64(s.StrategyVersion)),
			bigIntTo32Bytes(new(big.Int).SetUint64(s.Deadline)),
			s.Nonce.Bytes(),
			ethcrypto.Keccak256([]byte(s.PayloadURI)),
		),
	)
}

// SignalDigest computes the final EIP-712 digest for a signal:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func SignalDigest(chainID int64, oracle common.Address, s domain.Signal) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			DomainSeparator(chainID, oracle),
			signalStructHash(s),
		),
	))
}

// SignalID is the deterministic identifier of a signal: its attestation
// digest. Identical canonical fields always produce the same id, so the id
// is never taken from event ordering.
func SignalID(chainID int64, oracle common.Address, s domain.Signal) common.Hash {
	return SignalDigest(chainID, oracle, s)
}

// RecoverSigner recovers the attesting identity from a 65-byte r||s||v
// signature over the signal's canonical digest. Both v in {0,1} and the
// Ethereum convention {27,28} are accepted.
func RecoverSigner(chainID int64, oracle common.Address, s domain.Signal, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: attestation must be 65 bytes, got %d: %w", len(sig), domain.ErrBadAttestation)
	}

	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return common.Address{}, fmt.Errorf("crypto: invalid recovery id %d: %w", norm[64], domain.ErrBadAttestation)
	}

	digest := SignalDigest(chainID, oracle, s)
	pub, err := ethcrypto.SigToPub(digest.Bytes(), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover attester: %w", domain.ErrBadAttestation)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Attester signs signals on behalf of an off-ledger strategy. It is used by
// the attest tooling and by tests; the oracle itself only ever recovers.
type Attester struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int64
	oracle     common.Address
}

// NewAttester creates an Attester from a hex-encoded secp256k1 private key,
// bound to one chain and oracle instance.
func NewAttester(privateKeyHex string, chainID int64, oracle common.Address) (*Attester, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}

	return &Attester{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
		oracle:     oracle,
	}, nil
}

// Address returns the identity derived from the attester's private key.
func (a *Attester) Address() common.Address {
	return a.address
}

// Sign produces a 65-byte r||s||v attestation over the signal's canonical
// encoding, with v in {27,28} per the Ethereum signature convention.
func (a *Attester) Sign(s domain.Signal) ([]byte, error) {
	digest := SignalDigest(a.chainID, a.oracle, s)
	sig, err := ethcrypto.Sign(digest.Bytes(), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: signing attestation: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
