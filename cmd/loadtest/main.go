// Command loadtest drives concurrent transfers through the executor against
// the backend configured in the environment, and reports throughput and
// conflict rates.
//
//	N=20000 W=16 ACCOUNTS=32 DCB_STORE=sqlite go run ./cmd/loadtest
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	promadapter "github.com/codewandler/dcb-go/adapters/prometheus"
	"github.com/codewandler/dcb-go/core/app"
	"github.com/codewandler/dcb-go/core/config"
	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/internal/backend"
	"github.com/codewandler/dcb-go/internal/bank"
)

// === Config ===

var (
	N           = getEnvInt("N", 10_000)
	workers     = getEnvInt("W", 8)
	numAccounts = max(getEnvInt("ACCOUNTS", 16), 2)
	batchSize   = getEnvInt("B", 1_000)
	maxTries    = getEnvInt("MAX_TRIES", 20)
)

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

type counters struct {
	ok           atomic.Int64
	conflicts    atomic.Int64
	insufficient atomic.Int64
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	checkErr(err)
	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	fmt.Printf("Transfers: %d\n", N)
	fmt.Printf("  Workers: %d\n", workers)
	fmt.Printf(" Accounts: %d\n", numAccounts)
	fmt.Printf("  Backend: %s\n", cfg.Store)

	types := bank.EventTypes()
	be, err := backend.Open(ctx, cfg, log, types)
	checkErr(err)
	defer be.Close()

	reg := prometheus.NewRegistry()
	metrics := promadapter.NewAllMetrics(reg)
	projOpts := cfg.ProjectionOptions()

	a, err := app.Run(app.Config{
		Context:           ctx,
		Log:               log,
		Store:             be.Store,
		Publisher:         be.Publisher,
		Subscriber:        be.Subscriber,
		Types:             types,
		TagProjectors:     bank.TagProjectors(),
		HostOptions:       be.HostOptions(cfg),
		Metrics:           metrics.DCB,
		Projectors:        bank.Projectors(),
		ProjectionOptions: &projOpts,
		ProjectionMetrics: metrics.Projection,
		Blob:              be.Blob,
		Snapshots:         be.Snapshots,
	})
	checkErr(err)
	defer a.Stop()

	exec := a.Executor()

	// === accounts ===

	runID := strconv.FormatInt(time.Now().UnixMilli(), 36)
	accounts := make([]string, numAccounts)
	for i := range accounts {
		accounts[i] = fmt.Sprintf("lt-%s-%d", runID, i)
		_, err := exec.Execute(ctx, bank.OpenAccount(accounts[i], "loadtest", 1_000_000))
		checkErr(err)
	}

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	var (
		stats    counters
		next     atomic.Int64
		wg       sync.WaitGroup
		startAt  = time.Now()
		lastTime = startAt
		reportMu sync.Mutex
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1))
				if i > N || ctx.Err() != nil {
					return
				}
				from := rand.IntN(numAccounts)
				to := (from + 1 + rand.IntN(numAccounts-1)) % numAccounts
				_, err := exec.ExecuteWithRetry(
					ctx, bank.Transfer(accounts[from], accounts[to], 1+rand.IntN(100)),
					dcb.WithMaxTries(uint(maxTries)),
				)
				switch {
				case err == nil:
					stats.ok.Add(1)
				case errors.Is(err, dcb.ErrConflict):
					stats.conflicts.Add(1)
				case errors.Is(err, bank.ErrInsufficientFunds):
					stats.insufficient.Add(1)
				default:
					checkErr(err)
				}

				if i%batchSize == 0 {
					reportMu.Lock()
					mu := getMemUsage()
					n := time.Now()
					took := n.Sub(lastTime)
					fmt.Printf(" | %5d transfers | %6d ms | %6d transfers/s | %5d conflicts | (%d / %d) MiB mem (sys) |\n", batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), stats.conflicts.Load(), mu.Alloc/1024/1024, mu.Sys/1024/1024)
					lastTime = n
					reportMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// === stats ===
	println("")
	println("==========================================")

	took := time.Since(startAt)
	runtime.GC()

	total := 0
	for _, id := range accounts {
		acc, err := bank.ReadAccount(ctx, a.Host(), id)
		checkErr(err)
		total += acc.Balance
	}

	fmt.Printf("  total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("      transfers: %d\n", stats.ok.Load())
	fmt.Printf("      conflicts: %d (gave up after %d tries)\n", stats.conflicts.Load(), maxTries)
	fmt.Printf("   insufficient: %d\n", stats.insufficient.Load())
	fmt.Printf("  total balance: %d (expected %d)\n", total, numAccounts*1_000_000)
	fmt.Printf("avg. transfers/s: %d\n", int(float64(stats.ok.Load())/took.Seconds()))
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
