package domain

// Capability is a named permission bindable to an identity. Every privileged
// operation checks exactly one capability before mutating state.
type Capability string

const (
	// CapAdmin may grant/revoke capabilities, mutate oracle and vault
	// configuration, and pause the vault.
	CapAdmin Capability = "admin"

	// CapPostSignal may submit attested signals to the oracle.
	CapPostSignal Capability = "post-signal"

	// CapExecute may trigger execution of a posted signal.
	CapExecute Capability = "execute"

	// CapSigner marks an identity whose attestations the oracle accepts.
	CapSigner Capability = "signer"
)

// KnownCapabilities enumerates every capability the registry will accept.
var KnownCapabilities = []Capability{CapAdmin, CapPostSignal, CapExecute, CapSigner}

// Valid reports whether c is one of the defined capabilities.
func (c Capability) Valid() bool {
	for _, k := range KnownCapabilities {
		if c == k {
			return true
		}
	}
	return false
}
