package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeSignature subscribes to the outcome of one transaction signature.
	// The returned channel yields at most one notification and is then closed.
	SubscribeSignature(ctx context.Context, signature, commitment string) (<-chan SignatureNotification, error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification reports that a signature reached the subscribed commitment.
type SignatureNotification struct {
	Signature string
	Slot      int64
	Err       interface{}
}
