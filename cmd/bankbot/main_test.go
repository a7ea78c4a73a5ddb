package main

import (
	"testing"
	"time"

	"github.com/boddenberg/bankbot-go/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestSyncPayoutBudget_CoversEveryScriptAndOTPWait(t *testing.T) {
	cfg := &config.Config{ScriptTimeout: 2 * time.Minute, OTPTimeout: time.Minute}

	budget := syncPayoutBudget(cfg)

	assert.Equal(t, 9*time.Minute, budget)
}
