package domain

import "errors"

// Sentinel errors, grouped by taxonomy. Every public operation fails with
// exactly one of these (possibly wrapped); Reason maps any of them to a
// stable reason code for the API surface. None are retried internally.
var (
	// Validation: bad input shape or range.
	ErrDeadlinePassed  = errors.New("deadline not in the future")
	ErrDeadlineTooFar  = errors.New("deadline beyond expiry window")
	ErrWrongVersion    = errors.New("strategy version mismatch")
	ErrLowConfidence   = errors.New("confidence below minimum")
	ErrInvalidSignal   = errors.New("invalid signal parameters")
	ErrZeroAmount      = errors.New("amount must be positive")

	// Authorization: missing capability or bad attestation.
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadAttestation = errors.New("attestation does not recover to a registered signer")

	// State: replay, double-execution, not-found, guard violations.
	ErrNotFound        = errors.New("not found")
	ErrNonceUsed       = errors.New("nonce already used")
	ErrAlreadyExecuted = errors.New("signal already executed")
	ErrSignalExpired   = errors.New("signal expired")
	ErrIntentExpired   = errors.New("trade intent expired")
	ErrReentrant       = errors.New("re-entrant call rejected")
	ErrPaused          = errors.New("vault paused")
	ErrLockHeld        = errors.New("lock already held")

	// Economic: would breach a solvency or pricing invariant.
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrInsufficientLiquidity = errors.New("insufficient liquid balance")
	ErrInsufficientShares    = errors.New("insufficient share balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
)

// reasonCodes maps sentinels to the stable reason codes surfaced to callers.
var reasonCodes = map[error]string{
	ErrDeadlinePassed:        "invalid-deadline",
	ErrDeadlineTooFar:        "invalid-deadline",
	ErrWrongVersion:          "wrong-version",
	ErrLowConfidence:         "low-confidence",
	ErrInvalidSignal:         "invalid-signal",
	ErrZeroAmount:            "zero-amount",
	ErrUnauthorized:          "unauthorized-caller",
	ErrBadAttestation:        "bad-attestation",
	ErrNotFound:              "signal-not-found",
	ErrNonceUsed:             "nonce-reuse",
	ErrAlreadyExecuted:       "already-executed",
	ErrSignalExpired:         "signal-expired",
	ErrIntentExpired:         "intent-expired",
	ErrReentrant:             "reentrant-call",
	ErrPaused:                "vault-paused",
	ErrLockHeld:              "lock-held",
	ErrSlippageExceeded:      "slippage-exceeded",
	ErrInsufficientLiquidity: "insufficient-liquidity",
	ErrInsufficientShares:    "insufficient-shares",
	ErrInsufficientAllowance: "insufficient-allowance",
	ErrInsufficientBalance:   "insufficient-balance",
}

// Reason returns the stable reason code for err, unwrapping as needed.
// Unknown errors map to "internal".
func Reason(err error) string {
	for sentinel, code := range reasonCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// ErrorKind classifies an error into the four taxonomy buckets.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindState         ErrorKind = "state"
	KindEconomic      ErrorKind = "economic"
	KindInternal      ErrorKind = "internal"
)

var kindOf = map[error]ErrorKind{
	ErrDeadlinePassed:        KindValidation,
	ErrDeadlineTooFar:        KindValidation,
	ErrWrongVersion:          KindValidation,
	ErrLowConfidence:         KindValidation,
	ErrInvalidSignal:         KindValidation,
	ErrZeroAmount:            KindValidation,
	ErrUnauthorized:          KindAuthorization,
	ErrBadAttestation:        KindAuthorization,
	ErrNotFound:              KindState,
	ErrNonceUsed:             KindState,
	ErrAlreadyExecuted:       KindState,
	ErrSignalExpired:         KindState,
	ErrIntentExpired:         KindState,
	ErrReentrant:             KindState,
	ErrPaused:                KindState,
	ErrLockHeld:              KindState,
	ErrSlippageExceeded:      KindEconomic,
	ErrInsufficientLiquidity: KindEconomic,
	ErrInsufficientShares:    KindEconomic,
	ErrInsufficientAllowance: KindEconomic,
	ErrInsufficientBalance:   KindEconomic,
}

// Kind returns the taxonomy bucket for err.
func Kind(err error) ErrorKind {
	for sentinel, k := range kindOf {
		if errors.Is(err, sentinel) {
			return k
		}
	}
	return KindInternal
}
