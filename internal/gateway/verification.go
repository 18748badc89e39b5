// ABOUTME: Verification code delivery for the send-verification-code endpoint
// ABOUTME: CodeSender is the delivery seam; LogSender only logs codes for local use

package gateway

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
)

// CodeSender delivers a verification code to a phone number.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender logs codes instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "verification")}
}

// SendCode implements CodeSender.
func (s *LogSender) SendCode(_ context.Context, phone, code string) error {
	s.logger.Info("verification code generated", "phone", phone, "code", code)
	return nil
}

// generateCode returns a random six digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
