package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/psds-microservice/support-service/internal/database"
	"github.com/psds-microservice/support-service/internal/events"
	"github.com/psds-microservice/support-service/internal/kafka"
	"github.com/psds-microservice/support-service/internal/logging"
	"github.com/psds-microservice/support-service/internal/searchindex"
	"github.com/psds-microservice/support-service/internal/service"
	"github.com/spf13/cobra"
)

const reindexPageSize = 200

var reindexBrokers string

var reindexSearchCmd = &cobra.Command{
	Use:   "reindex-search",
	Short: "Reindex all tickets into search. Prefers Kafka; falls back to HTTP if SEARCH_SERVICE_URL set.",
	RunE:  runReindexSearch,
}

func init() {
	reindexSearchCmd.Flags().StringVar(&reindexBrokers, "brokers", "", "override KAFKA_BROKERS (host1:9092,host2:9092)")
	rootCmd.AddCommand(reindexSearchCmd)
}

func runReindexSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if reindexBrokers != "" {
		cfg.KafkaBrokers = kafka.ParseBrokers(reindexBrokers)
	}
	conn, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	tickets := service.NewTicketService(conn, nil, nil)

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	var (
		send func(ctx context.Context, ev events.Event) error
		via  string
	)
	// Prefer Kafka, then HTTP
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicTicket, log)
	defer producer.Close()
	search := searchindex.NewClient(cfg.SearchServiceURL, log)
	switch {
	case producer.Enabled():
		via = "kafka"
		send = func(ctx context.Context, ev events.Event) error {
			producer.Publish(ctx, ev)
			return nil
		}
	case search.Enabled():
		via = "http"
		send = func(ctx context.Context, ev events.Event) error {
			return search.IndexTicket(ctx, &ev.Ticket)
		}
	default:
		log.Warn("reindex-search: neither KAFKA_BROKERS nor SEARCH_SERVICE_URL set, nothing to do")
		return nil
	}

	var sent, failed int
	for offset := 0; ; offset += reindexPageSize {
		page, total, err := tickets.List(ctx, service.ListFilter{Limit: reindexPageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("list tickets: %w", err)
		}
		for i := range page {
			if err := send(ctx, events.Event{Name: events.TicketUpdated, Ticket: page[i]}); err != nil {
				failed++
				log.Warn("reindex-search: ticket failed", slog.Uint64("ticket_id", page[i].ID), logging.Err(err))
				continue
			}
			sent++
		}
		log.Info("reindex-search: progress", slog.String("via", via), slog.Int("sent", sent), slog.Int64("total", total))
		if len(page) < reindexPageSize {
			break
		}
	}
	log.Info("reindex-search: done", slog.String("via", via), slog.Int("sent", sent), slog.Int("failed", failed))
	return nil
}
