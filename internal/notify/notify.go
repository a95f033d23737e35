// Package notify informs signing parties that a document awaits their
// signature. Delivery is currently a stub: parties are recorded and logged,
// no mail is sent.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Party is one signing party to a document.
type Party struct {
	Email string `json:"email"`
	Sent  bool   `json:"sent"`
}

// PartyNotifier delivers signature requests to document parties.
type PartyNotifier interface {
	NotifyParties(ctx context.Context, documentHash string, parties []Party) ([]Party, error)
}

// LogNotifier is the stub implementation: it marks every delivery as not
// sent and logs the failures, matching the behavior callers must tolerate
// until a mail transport exists.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the stub notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// NotifyParties records the intended recipients without delivering anything.
func (n *LogNotifier) NotifyParties(ctx context.Context, documentHash string, parties []Party) ([]Party, error) {
	result := make([]Party, 0, len(parties))
	for _, party := range parties {
		party.Sent = false
		result = append(result, party)
		n.logger.Info("party notification pending delivery transport",
			zap.String("document_hash", documentHash),
			zap.String("email", party.Email))
	}
	return result, nil
}
