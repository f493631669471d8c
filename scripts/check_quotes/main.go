// Package main provides a utility for checking quote provider connectivity.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/wheel_tracker/internal/flex"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
)

func main() {
	var (
		sandbox bool
		timeout time.Duration
		asJSON  bool
	)
	flag.BoolVar(&sandbox, "sandbox", true, "Use Tradier sandbox endpoints (default: true)")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.BoolVar(&asJSON, "json", false, "Print quotes as JSON")
	flag.Parse()

	apiKey := os.Getenv("TRADIER_API_KEY")
	if apiKey == "" {
		fmt.Println("❌ TRADIER_API_KEY not set")
		fmt.Println("   export TRADIER_API_KEY='your_token_here'")
		os.Exit(1)
	}

	symbols := underlyings(flag.Args())
	if len(symbols) == 0 {
		symbols = []string{"SPY"}
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	source := quotes.NewRetryingSource(
		quotes.NewTradierSource(apiKey, sandbox, "", logger).WithTimeout(timeout),
		logger,
	)

	mode := "Live"
	if sandbox {
		mode = "Sandbox"
	}
	fmt.Printf("✓ Tradier quote source (%s mode), key %s\n\n", mode, maskAPIKey(apiKey))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(symbols)+1)*timeout)
	defer cancel()

	failed := 0
	for _, sym := range symbols {
		q, err := source.GetQuote(ctx, sym)
		if err != nil {
			failed++
			fmt.Printf("❌ %s: %v\n", sym, err)
			continue
		}
		if asJSON {
			prettyPrint(q)
			continue
		}
		fmt.Printf("✓ %-6s $%.2f (age %s)\n", q.Symbol, q.Price, q.Age(time.Now()).Round(time.Second))
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// underlyings maps option symbols to their underlying and drops duplicates.
func underlyings(args []string) []string {
	seen := make(map[string]bool, len(args))
	out := make([]string, 0, len(args))
	for _, a := range args {
		sym := strings.ToUpper(strings.TrimSpace(a))
		if opt, ok := flex.DecodeOptionSymbol(sym); ok {
			sym = opt.Underlying
		}
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func prettyPrint(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Printf("%s\n", string(b))
}

func maskAPIKey(apiKey string) string {
	const minLength = 12 // Minimum length to show partial key
	const showFirst = 4  // Show first 4 characters
	const showLast = 4   // Show last 4 characters

	if len(apiKey) < minLength {
		return "<redacted>"
	}

	return fmt.Sprintf("%s...%s", apiKey[:showFirst], apiKey[len(apiKey)-showLast:])
}
