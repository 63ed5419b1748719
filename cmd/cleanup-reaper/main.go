// Command cleanup-reaper is a standalone batch job: it scans the job
// store for orphaned and stuck conversions and fails them, without
// running the HTTP server. Intended to run on a schedule (cron,
// EventBridge) alongside the long-lived audio-server process.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	"github.com/apresai/audioconv/internal/config"
	"github.com/apresai/audioconv/internal/observability"
	"github.com/apresai/audioconv/internal/progress"
	"github.com/apresai/audioconv/internal/recovery"
	"github.com/apresai/audioconv/internal/transcoder"

	"github.com/apresai/audioconv/internal/jobstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log := observability.InitLogger()
	cfg := config.DefaultConfig()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	jobs := jobstore.NewStore(dynamoClient, cfg.JobTableName)

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.ProgressPrimaryHost, cfg.ProgressPrimaryPort),
	})
	defer redisClient.Close()
	prog := progress.NewChannel(redisClient, dynamoClient, cfg.JobTableName, log)

	super := transcoder.NewSupervisor(cfg.TranscoderPath)
	scanner := recovery.NewScanner(jobs, prog, super, log)

	orphaned, err := scanner.ScanOrphans(ctx)
	if err != nil {
		return fmt.Errorf("scan orphans: %w", err)
	}

	stuck, err := scanner.ScanStuck(ctx)
	if err != nil {
		return fmt.Errorf("scan stuck jobs: %w", err)
	}

	log.Info("cleanup reaper finished", "orphanedRecovered", orphaned, "stuckRecovered", stuck)
	return nil
}
