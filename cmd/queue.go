package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaypoint/email-gateway/internal/config"
	"github.com/relaypoint/email-gateway/internal/db"
	"github.com/relaypoint/email-gateway/internal/logger"
	"github.com/relaypoint/email-gateway/internal/queue"
)

// newQueueCmd groups the maintenance operations. Every subcommand takes the
// queue name ("email" or "webhook") as its first argument.
func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue maintenance (pause, resume, clean, health)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "pause <email|webhook>",
		Short: "Stop handing out jobs to workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(args[0], func(ctx context.Context, q *queue.Queue) error {
				if err := q.Pause(ctx); err != nil {
					return err
				}
				fmt.Printf(">> %s paused\n", q.Name())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "resume <email|webhook>",
		Short: "Resume a paused queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(args[0], func(ctx context.Context, q *queue.Queue) error {
				if err := q.Resume(ctx); err != nil {
					return err
				}
				fmt.Printf(">> %s resumed\n", q.Name())
				return nil
			})
		},
	})

	var olderThan time.Duration
	cleanCmd := &cobra.Command{
		Use:   "clean <email|webhook>",
		Short: "Remove completed jobs older than the threshold (failed kept 7x longer)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(args[0], func(ctx context.Context, q *queue.Queue) error {
				n, err := q.Clean(ctx, olderThan)
				if err != nil {
					return err
				}
				fmt.Printf(">> %s cleaned: %d jobs removed\n", q.Name(), n)
				return nil
			})
		},
	}
	cleanCmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "completed-job retention threshold")
	cmd.AddCommand(cleanCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "health <email|webhook>",
		Short: "Print queue counts and the derived health signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(args[0], func(ctx context.Context, q *queue.Queue) error {
				counts, err := q.Counts(ctx)
				if err != nil {
					return err
				}
				out, _ := json.MarshalIndent(map[string]any{
					"queue":   q.Name(),
					"counts":  counts,
					"healthy": counts.Healthy(queue.DefaultHealthThresholds),
				}, "", "  ")
				fmt.Println(string(out))
				return nil
			})
		},
	})

	return cmd
}

func withQueue(name string, fn func(context.Context, *queue.Queue) error) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var queueName string
	switch name {
	case "email":
		queueName = cfg.Queue.EmailQueue
	case "webhook":
		queueName = cfg.Queue.WebhookQueue
	default:
		return fmt.Errorf("unknown queue %q (want email or webhook)", name)
	}

	rds, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer func() { _ = rds.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return fn(ctx, queue.New(rds, queueName, logger.L()))
}
