// Command audio-server runs the HTTP-facing audio conversion
// orchestration core: accepts conversion requests, streams them through
// the media-tool subprocess, and serves job status, progress and
// download endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/apresai/audioconv/internal/config"
	"github.com/apresai/audioconv/internal/httpapi"
	"github.com/apresai/audioconv/internal/jobstore"
	"github.com/apresai/audioconv/internal/observability"
	"github.com/apresai/audioconv/internal/orchestrator"
	"github.com/apresai/audioconv/internal/progress"
	"github.com/apresai/audioconv/internal/recovery"
	"github.com/apresai/audioconv/internal/storage"
	"github.com/apresai/audioconv/internal/transcoder"
)

const stuckScanInterval = 2 * time.Minute

func main() {
	root := &cobra.Command{
		Use:   "audio-server",
		Short: "Serve the audio conversion orchestration API",
		RunE:  run,
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := observability.InitLogger()
	cfg := config.DefaultConfig()

	tp, err := observability.InitTracer(ctx, "audio-server", "0.1.0")
	if err != nil {
		log.Warn("tracing disabled: failed to init tracer", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	redisClient, closeRedis, err := newRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("init progress primary: %w", err)
	}
	defer closeRedis()

	gw := storage.NewGateway(s3Client)
	jobs := jobstore.NewStore(dynamoClient, cfg.JobTableName)
	prog := progress.NewChannel(redisClient, dynamoClient, cfg.JobTableName, log)
	super := transcoder.NewSupervisor(cfg.TranscoderPath)

	orch := orchestrator.New(gw, jobs, prog, super, log, orchestrator.Config{
		DefaultBucket: cfg.StorageBucket,
	})
	defer orch.Shutdown()

	scanner := recovery.NewScanner(jobs, prog, super, log)
	if n, err := scanner.ScanOrphans(ctx); err != nil {
		log.Warn("startup orphan scan failed", "error", err)
	} else if n > 0 {
		log.Info("startup orphan scan recovered jobs", "count", n)
	}

	scanCtx, stopScan := context.WithCancel(ctx)
	defer stopScan()
	go scanner.Run(scanCtx, stuckScanInterval)

	server := httpapi.NewServer(cfg.ListenAddr, orch, prog, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func loadAWSConfig(ctx context.Context, cfg config.Config) (aws.Config, error) {
	var (
		awsCfg aws.Config
		err    error
	)
	if cfg.UseRealCloud {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	} else {
		opts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
		}
		if cfg.StorageEndpoint != "" {
			opts = append(opts, awsconfig.WithBaseEndpoint(cfg.StorageEndpoint))
		}
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, opts...)
	}
	if err != nil {
		return aws.Config{}, err
	}

	otelaws.AppendMiddlewares(&awsCfg.APIOptions)
	return awsCfg, nil
}

// newRedisClient connects to the configured progress primary, or - when
// USE_REAL_CLOUD is unset - starts an embedded miniredis instance so the
// server runs standalone for local development without a real Redis.
func newRedisClient(cfg config.Config) (*redis.Client, func(), error) {
	if cfg.UseRealCloud {
		client := redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:%s", cfg.ProgressPrimaryHost, cfg.ProgressPrimaryPort),
		})
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start embedded redis: %w", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
