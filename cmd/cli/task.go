package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicestudio/conversion-service/internal/broker"
	"github.com/voicestudio/conversion-service/internal/database"
	"github.com/voicestudio/conversion-service/internal/task"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and repair conversion tasks",
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Print a task row as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer database.Close()
		store := task.NewStore(database.Pool())

		t, err := store.Get(context.Background(), args[0])
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(encoded))
		return nil
	},
}

var taskHistoryCmd = &cobra.Command{
	Use:   "history <task-id>",
	Short: "Print a task's transition history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer database.Close()
		store := task.NewStore(database.Pool())

		// Surface a clean error for unknown ids before listing history.
		if _, err := store.Get(context.Background(), args[0]); err != nil {
			return err
		}

		records, err := store.History(context.Background(), args[0])
		if err != nil {
			return err
		}

		for _, r := range records {
			fmt.Fprintf(os.Stdout, "%s  %s -> %s  %s\n",
				r.CreatedAt.Format("2006-01-02 15:04:05"), r.OldStatus, r.NewStatus, r.Message)
		}
		return nil
	},
}

var taskRequeueCmd = &cobra.Command{
	Use:   "requeue <task-id>",
	Short: "Republish a NEW task's stored message to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defer database.Close()
		store := task.NewStore(database.Pool())

		t, err := store.Get(context.Background(), args[0])
		if err != nil {
			return err
		}
		if t.Status != task.StatusNew {
			return fmt.Errorf("task %s is %s, only NEW tasks can be requeued", t.ID, t.Status)
		}

		amqpBroker, err := broker.DialAMQP(cfg.Broker.URL, *logger)
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		defer amqpBroker.Close()

		if err := amqpBroker.Publish(context.Background(), t.Kind, t.Payload); err != nil {
			return fmt.Errorf("republish task %s: %w", t.ID, err)
		}

		logger.Info().Str("task_id", t.ID).Str("kind", string(t.Kind)).Msg("Task republished")
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskHistoryCmd)
	taskCmd.AddCommand(taskRequeueCmd)
	rootCmd.AddCommand(taskCmd)
}
