// Command workertoken prints credentials for the bankbot control plane: a
// signed worker token for the /jobs routes, or a bcrypt hash for
// PAYOUT_API_KEY_HASH.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/boddenberg/bankbot-go/internal/auth"
	"github.com/boddenberg/bankbot-go/internal/config"
	"github.com/boddenberg/bankbot-go/internal/domain"
)

func main() {
	workerName := flag.String("worker", "", "worker name embedded in the token")
	banks := flag.String("banks", "", "comma separated bank keys the worker may claim (empty = all)")
	apiKey := flag.String("hash-api-key", "", "print the bcrypt hash of this API key and exit")
	flag.Parse()

	if *apiKey != "" {
		hash, err := auth.HashAPIKey(*apiKey)
		if err != nil {
			fail(err)
		}
		fmt.Println(hash)
		return
	}

	if *workerName == "" {
		fail(fmt.Errorf("-worker is required"))
	}

	_ = config.LoadDotEnv(".env")
	cfg := config.Load()
	if cfg.WorkerJWTSecret == "" {
		fail(fmt.Errorf("WORKER_JWT_SECRET is not set"))
	}

	var keys []string
	for _, b := range strings.Split(*banks, ",") {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		key, ok := domain.BankKeyFor(b)
		if !ok {
			fail(fmt.Errorf("unsupported bank: %s", b))
		}
		keys = append(keys, key)
	}

	token, err := auth.NewTokenIssuer(cfg.WorkerJWTSecret, cfg.WorkerJWTTTL).Issue(*workerName, keys)
	if err != nil {
		fail(err)
	}
	fmt.Println(token)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "workertoken:", err)
	os.Exit(1)
}
