// Package automation runs the bank specific UI flows. Each bank's flow is an
// external script that attaches to the shared browser or device; this
// package only speaks the script protocol.
//
// A script is invoked as `<script> <action> [arg]` with a JSON document on
// stdin and answers on stdout:
//
//	authenticate          stdin: credentials
//	transfer              stdin: job           stdout: bank reference code
//	otp <ref>                                  stdout: OTP, or nothing yet
//	confirm <otp>         stdin: job
//
// A non-zero exit status fails the step; the last stderr line is the reason.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/boddenberg/bankbot-go/internal/domain"

	"go.uber.org/zap"
)

// Script drives one bank through its automation script.
type Script struct {
	bankKey string
	path    string
	timeout time.Duration
	env     []string
	logger  *zap.Logger
}

// NewScript uses dir/<bank key in lower case> as the bank's script. env is
// appended to the process environment, e.g. the browser's CDP URL.
func NewScript(dir, bankKey string, timeout time.Duration, env []string, logger *zap.Logger) *Script {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &Script{
		bankKey: bankKey,
		path:    filepath.Join(dir, strings.ToLower(bankKey)),
		timeout: timeout,
		env:     env,
		logger:  logger.With(zap.String("bank", bankKey)),
	}
}

func (s *Script) Authenticate(ctx context.Context, creds domain.Credentials) error {
	_, err := s.run(ctx, "authenticate", creds)
	return err
}

func (s *Script) SubmitTransfer(ctx context.Context, job *domain.PayoutJob) (string, error) {
	ref, err := s.run(ctx, "transfer", job)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", fmt.Errorf("%s transfer: script printed no reference code", s.bankKey)
	}
	return ref, nil
}

func (s *Script) ResolveOTP(ctx context.Context, ref string) (string, error) {
	return s.run(ctx, "otp", nil, ref)
}

func (s *Script) ConfirmTransfer(ctx context.Context, job *domain.PayoutJob, otp string) error {
	_, err := s.run(ctx, "confirm", job, otp)
	return err
}

// run executes one action and returns the last non-empty stdout line.
func (s *Script) run(ctx context.Context, action string, input any, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.path, append([]string{action}, args...)...)
	cmd.Env = append(cmd.Environ(), s.env...)
	cmd.WaitDelay = time.Second

	if input != nil {
		data, err := json.Marshal(input)
		if err != nil {
			return "", err
		}
		cmd.Stdin = bytes.NewReader(data)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	s.logger.Debug("script step finished",
		zap.String("action", action),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &domain.ErrTimeout{Operation: s.bankKey + " " + action}
	}
	if err != nil {
		reason := lastLine(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return "", fmt.Errorf("%s %s: %s", s.bankKey, action, reason)
	}
	return lastLine(stdout.String()), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
