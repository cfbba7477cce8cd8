// Command mailvetter runs the validation engine directly against stdin/argv
// input, with no Redis or Postgres dependency — useful for local checks and
// CI smoke tests where spinning up the full HTTP service is overkill.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mailvetter/internal/batch"
	"mailvetter/internal/cache"
	"mailvetter/internal/dnsfacade"
	"mailvetter/internal/engine"
	"mailvetter/internal/provider"
	"mailvetter/internal/proxy"
	"mailvetter/internal/verifier"
)

func main() {
	var (
		email        = flag.String("email", "", "validate a single address and exit")
		listFile     = flag.String("file", "", "validate one address per line from a file (- for stdin)")
		proxyFile    = flag.String("proxies", "", "path to a proxy list file (host:port[:user[:pass]] per line)")
		providerFile = flag.String("providers", "", "path to a YAML provider overrides file")
		rps          = flag.Float64("rate", 5, "max outbound SMTP dial attempts per second")
	)
	flag.Parse()

	if *email == "" && *listFile == "" {
		fmt.Fprintln(os.Stderr, "usage: mailvetter -email=<addr> | -file=<path|->")
		os.Exit(2)
	}

	proxyPool := proxy.New()
	if *proxyFile != "" {
		var err error
		proxyPool, err = proxy.Load(*proxyFile)
		if err != nil {
			log.Fatalf("❌ failed to load proxy list: %v", err)
		}
		log.Printf("🛡️  loaded %d proxy entries", proxyPool.Len())
	}

	registry := provider.NewRegistry()
	if *providerFile != "" {
		if err := registry.LoadOverrides(*providerFile); err != nil {
			log.Fatalf("❌ failed to load provider overrides: %v", err)
		}
	}

	resolver := dnsfacade.New(10*time.Second, cache.New())
	v := verifier.New(proxyPool).WithRateLimit(*rps, int(*rps)+1)
	eng := engine.New(resolver, registry, v)

	ctx := context.Background()

	if *email != "" {
		result := eng.Validate(ctx, *email)
		emit(result)
		return
	}

	emails, err := readAddresses(*listFile)
	if err != nil {
		log.Fatalf("❌ failed to read %s: %v", *listFile, err)
	}

	sched := batch.New(eng)
	results := sched.ValidateStream(ctx, emails, func(ev batch.ProgressEvent) {
		// EventComplete's Results is the full, already-printed set — only
		// EventProgress carries addresses not yet emitted.
		if ev.Type == batch.EventProgress {
			for _, r := range ev.Results {
				emit(r)
			}
		}
		if ev.Type == batch.EventError {
			log.Printf("⚠️  stream aborted: %s", ev.Error)
		}
	})
	log.Printf("✅ processed %d addresses", len(results))
}

func readAddresses(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
	}

	var emails []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			emails = append(emails, line)
		}
	}
	return emails, scanner.Err()
}

func emit(result engine.ValidationResult) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Printf("❌ failed to encode result for %s: %v", result.Email, err)
		return
	}
	fmt.Println(string(data))
}
