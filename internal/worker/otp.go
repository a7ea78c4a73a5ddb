package worker

import (
	"context"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"
	"github.com/boddenberg/bankbot-go/internal/port"
)

// DefaultOTPTimeout bounds how long a transfer waits for its OTP.
const DefaultOTPTimeout = 60 * time.Second

// WaitForOTP polls automation until the OTP for ref arrives. It gives up
// after timeout with *domain.ErrOTPTimeout.
func WaitForOTP(ctx context.Context, automation port.BankAutomation, ref string, timeout, interval time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultOTPTimeout
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		otp, err := automation.ResolveOTP(ctx, ref)
		if err != nil {
			return "", err
		}
		if otp != "" {
			return otp, nil
		}
		if !time.Now().Before(deadline) {
			return "", &domain.ErrOTPTimeout{Reference: ref, Waited: timeout.String()}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
