// Package bench drives concurrent request scenarios and summarizes latencies.
package bench

import (
	"math"
	"sort"
	"sync"
	"time"
)

type Result struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

const maxErrorSamples = 5

// Run calls requestFn once per index in [0, total) from concurrency goroutines.
func Run(name string, total, concurrency int, requestFn func(index int) error) Result {
	if total <= 0 {
		return Result{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	type sample struct {
		durationMS float64
		err        string
	}

	startedAt := time.Now()
	indexes := make(chan int, total)
	samples := make(chan sample, total)
	for i := 0; i < total; i++ {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexes {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				samples <- s
			}
		}()
	}
	wg.Wait()
	close(samples)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, maxErrorSamples)
	success := 0
	for item := range samples {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		if len(errorSamples) < maxErrorSamples {
			errorSamples = append(errorSamples, item.err)
		}
	}
	sort.Float64s(durations)

	throughput := 0.0
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
		throughput = float64(total) / elapsed
	}

	return Result{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        total - success,
		P50MS:         Percentile(durations, 0.50),
		P95MS:         Percentile(durations, 0.95),
		P99MS:         Percentile(durations, 0.99),
		MaxMS:         Percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

// Percentile uses the nearest-rank method on an ascending slice.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(sorted[0])
	}
	if p >= 1 {
		return round2(sorted[len(sorted)-1])
	}
	rank := int(math.Ceil(float64(len(sorted))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return round2(sorted[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
