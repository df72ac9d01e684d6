package solana

import "context"

// Ledger defines the Solana RPC surface used for swap execution.
type Ledger interface {
	// SendRawTransaction submits a signed transaction and returns its
	// signature. The request is sent exactly once; retry policy belongs
	// to the caller.
	SendRawTransaction(ctx context.Context, raw []byte, opts *SendOptions) (string, error)

	// GetSignatureStatus returns the processed status of a signature, or
	// nil when the cluster has not seen it.
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)

	// ConfirmTransaction polls until the signature reaches the requested
	// commitment, fails on chain, or ctx expires.
	ConfirmTransaction(ctx context.Context, signature, commitment string) error
}
