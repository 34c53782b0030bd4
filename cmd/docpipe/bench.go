package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/ai"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/bench"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/cache"
	httpserver "github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http/handlers"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/repository"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/service"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/storage"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/worker"
)

var benchOpts struct {
	uploads      int
	concurrency  int
	owners       int
	aiLatency    time.Duration
	drainTimeout time.Duration
	output       string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load the in-process pipeline with simulated model latency and report percentiles",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVar(&benchOpts.uploads, "uploads", 200, "total uploads")
	benchCmd.Flags().IntVar(&benchOpts.concurrency, "concurrency", 16, "concurrent upload clients")
	benchCmd.Flags().IntVar(&benchOpts.owners, "owners", 8, "distinct owner ids")
	benchCmd.Flags().DurationVar(&benchOpts.aiLatency, "ai-latency", 20*time.Millisecond, "simulated latency of each model call")
	benchCmd.Flags().DurationVar(&benchOpts.drainTimeout, "drain-timeout", 2*time.Minute, "how long workers get to finish the backlog")
	benchCmd.Flags().StringVar(&benchOpts.output, "output", "", "optional path to persist results JSON")
	rootCmd.AddCommand(benchCmd)
}

type simulatedModel struct {
	latency time.Duration
}

func (m simulatedModel) wait(ctx context.Context) error {
	timer := time.NewTimer(m.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m simulatedModel) Extract(ctx context.Context, source ai.Source) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("simulated text for %d bytes", len(source.Data)), nil
}

func (m simulatedModel) Summarize(ctx context.Context, text string) (string, error) {
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	return "summary: " + text, nil
}

type benchReport struct {
	GeneratedAtUTC string       `json:"generated_at_utc"`
	Upload         bench.Result `json:"upload"`
	DrainMS        int64        `json:"drain_ms"`
	Drained        bool         `json:"drained"`
	Workers        worker.Stats `json:"workers"`
	DeadLettered   int          `json:"dead_lettered"`
}

func runBench(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	quiet := zerolog.Nop()
	model := simulatedModel{latency: benchOpts.aiLatency}
	repo := repository.NewMemoryDocumentsRepository()
	statusCache := cache.NewMemoryStatusCache(cache.Config{TTL: 10 * time.Minute, MaxEntries: 4000})
	keys := cache.NewMemoryKeyStore()
	jobs := queue.NewLocalQueue(time.Minute, quiet)

	gateway := service.NewGateway(repo, storage.NewMemoryBlobStore(), model, jobs, statusCache, service.GatewayConfig{}, quiet)
	documents := service.NewDocumentsService(repo, statusCache, quiet)
	router := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(gateway, documents, newScaler(cfg, jobs), 10<<20, quiet),
		Logger:         quiet,
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})
	server := httptest.NewServer(router)
	defer server.Close()

	processor := worker.NewProcessor(repo, jobs, model, statusCache, keys, worker.ProcessorConfig{
		MaxAttempts: cfg.WorkerMaxAttempts,
	}, quiet)
	pool := worker.NewPool(jobs, processor, worker.PoolConfig{
		Workers:   cfg.WorkerConcurrency,
		BatchSize: cfg.WorkerBatchSize,
		IdleBase:  5 * time.Millisecond,
		IdleMax:   50 * time.Millisecond,
	}, quiet)

	client := &http.Client{Timeout: 30 * time.Second}
	owners := max(benchOpts.owners, 1)
	upload := bench.Run("upload", benchOpts.uploads, benchOpts.concurrency, func(index int) error {
		return postUpload(client, server.URL, fmt.Sprintf("owner-%d", index%owners), fmt.Sprintf("bench-%d", index))
	})

	drainStart := time.Now()
	poolCtx, stopPool := context.WithTimeout(ctx, benchOpts.drainTimeout)
	defer stopPool()
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Run(poolCtx)
	}()

	drained := false
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
drain:
	for !drained {
		select {
		case <-poolCtx.Done():
			logger.Warn().Msg("drain timeout reached with work still queued")
			break drain
		case <-ticker.C:
			backlog, err := jobs.Backlog(poolCtx)
			drained = err == nil && backlog == 0
		}
	}
	stopPool()
	<-poolDone

	report := benchReport{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339),
		Upload:         upload,
		DrainMS:        time.Since(drainStart).Milliseconds(),
		Drained:        drained,
		Workers:        pool.Stats(),
		DeadLettered:   jobs.DLQSize(),
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if benchOpts.output != "" {
		if err := os.WriteFile(benchOpts.output, encoded, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", benchOpts.output, err)
		}
	}
	_, err = fmt.Fprintln(os.Stdout, string(encoded))
	return err
}

func postUpload(client *http.Client, baseURL, owner, displayName string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("display_name", displayName); err != nil {
		return err
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="scan.png"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := part.Write(bytes.Repeat([]byte{0x89}, 2048)); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/v1/documents", &body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("X-Owner-Id", owner)

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusAccepted {
		payload, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", response.StatusCode, string(payload))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}
