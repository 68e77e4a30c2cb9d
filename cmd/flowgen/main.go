package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"

	"flowsentry/internal/dataset"
	"flowsentry/internal/generator"
)

func main() {
	mode := flag.String("mode", "redis", "Output mode: redis or csv")
	addr := flag.String("addr", "127.0.0.1:6379", "Redis address")
	password := flag.String("password", "", "Redis password")
	db := flag.Int("db", 0, "Redis database")
	key := flag.String("key", "network_flows", "Redis list key")
	output := flag.String("output", "data/base_corpus.csv", "CSV output path (csv mode)")
	count := flag.Int("count", 0, "Total flows to generate; 0 runs until interrupted (redis mode)")
	batch := flag.Int("batch", 10, "Flows per batch")
	interval := flag.Duration("interval", 2*time.Second, "Delay between batches (redis mode)")
	anomalyRate := flag.Float64("anomaly-rate", 0.2, "Fraction of anomalous flows")
	seed := flag.Int64("seed", 0, "Random seed")
	flag.Parse()

	gen := generator.New(generator.Config{AnomalyRate: *anomalyRate, Seed: *seed})

	switch *mode {
	case "csv":
		if *count <= 0 {
			*count = 1000
		}
		records := gen.Batch(*count)
		if err := dataset.Save(*output, records); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write corpus: %v\n", err)
			os.Exit(1)
		}
		anomalies := 0
		for _, rec := range records {
			if rec.Label == 1 {
				anomalies++
			}
		}
		fmt.Printf("generated flows=%d anomalies=%d output=%s\n", len(records), anomalies, *output)
	case "redis":
		if err := runRedis(gen, *addr, *password, *db, *key, *count, *batch, *interval); err != nil {
			fmt.Fprintf(os.Stderr, "generator failed: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n", *mode)
		os.Exit(2)
	}
}

func runRedis(gen *generator.Generator, addr, password string, db int, key string, count, batch int, interval time.Duration) error {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	sent := 0
	anomalies := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		payloads := make([]interface{}, 0, batch)
		for i := 0; i < batch; i++ {
			rec := gen.Next()
			if rec.Label == 1 {
				anomalies++
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode flow: %w", err)
			}
			payloads = append(payloads, data)
		}
		if err := client.RPush(ctx, key, payloads...).Err(); err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("push flows: %w", err)
		}
		sent += len(payloads)
		if count > 0 && sent >= count {
			break
		}

		select {
		case <-ctx.Done():
			fmt.Printf("interrupted after flows=%d anomalies=%d\n", sent, anomalies)
			return nil
		case <-ticker.C:
		}
	}

	fmt.Printf("generated flows=%d anomalies=%d key=%s\n", sent, anomalies, key)
	return nil
}
