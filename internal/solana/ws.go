package solana

import "context"

// WSClient defines the Solana WebSocket subscriptions used for confirmation.
type WSClient interface {
	// SubscribeSignature delivers at most one notification when the transaction
	// reaches the client's commitment. The channel is closed on unsubscribe or shutdown.
	// The returned func unsubscribes and is safe to call after a notification.
	SubscribeSignature(ctx context.Context, signature string) (<-chan SignatureNotification, func(), error)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification reports the execution result of a subscribed signature.
type SignatureNotification struct {
	Signature string
	Slot      uint64
	Err       interface{}
}
