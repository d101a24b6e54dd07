package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"variantenbaum-go/pkg/kafka"
)

func newEventsCmd(configPath *string) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the change-event topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			if cfg.Kafka.Brokers == "" {
				return errors.New("kafka.brokers is not configured")
			}
			if group == "" {
				// 默认使用新的消费组，从主题起始位置读取
				group = "typecodectl-" + uuid.NewString()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return kafka.Tail(ctx, cfg.Kafka, group, func(ev kafka.ChangeEvent) {
				if err := enc.Encode(ev); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			})
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group id (default: a fresh group)")
	return cmd
}
