package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	// KindWalletTransfer is sent to the owner of a wallet that received a transfer.
	KindWalletTransfer = "wallet_transfer"
	// KindTransactionReversed is sent to owners of wallets touched by a reversal.
	KindTransactionReversed = "transaction_reversed"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Reference   string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.String("reference", message.Reference),
		slog.String("body", message.Body),
	)
	return nil
}

// Recorder keeps every message in memory. Useful for tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

// Send records message.
func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
