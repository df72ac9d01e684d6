package solana

// Well-known addresses.
const (
	// SystemProgramID owns native SOL balances.
	SystemProgramID = "11111111111111111111111111111111"

	// WrappedSOLMint is the SPL mint backing wrapped SOL. Swap venues quote
	// against this mint; native SOL has no mint of its own.
	WrappedSOLMint = "So11111111111111111111111111111111111111112"

	// NativeSOLMint is the pseudo-mint some feeds report for unwrapped SOL.
	NativeSOLMint = "So11111111111111111111111111111111111111111"
)

// WrapMint translates native SOL identifiers to the wrapped SOL mint.
// Other mints pass through unchanged.
func WrapMint(mint string) string {
	switch mint {
	case SystemProgramID, NativeSOLMint:
		return WrappedSOLMint
	}
	return mint
}

// Commitment levels, weakest first.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// SendOptions defines optional parameters for sendTransaction.
type SendOptions struct {
	SkipPreflight bool // Skip the preflight simulation
	MaxRetries    int  // Node-side rebroadcast attempts
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *int
	Err                interface{}
	ConfirmationStatus string
}

// Failed reports whether the transaction landed with an on-chain error.
func (s *SignatureStatus) Failed() bool {
	return s != nil && s.Err != nil
}

// Reached reports whether the status satisfies the wanted commitment.
// An unknown commitment is treated as confirmed.
func (s *SignatureStatus) Reached(commitment string) bool {
	if s == nil {
		return false
	}
	want := commitmentRank(commitment)
	if want == 0 {
		want = commitmentRank(CommitmentConfirmed)
	}
	return commitmentRank(s.ConfirmationStatus) >= want
}

func commitmentRank(commitment string) int {
	switch commitment {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}
