package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/guppy/internal/message"
)

func eventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Manage events/*.json files for a running (or not-yet-running) Event Bus",
	}
	cmd.AddCommand(eventPutCmd())
	return cmd
}

func eventPutCmd() *cobra.Command {
	var (
		target    string
		eventType string
		at        string
		schedule  string
		timezone  string
	)

	cmd := &cobra.Command{
		Use:   "put <name> <text>",
		Short: "Write one events/<name>.json file under --data-dir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, text := args[0], args[1]

			ev := message.GuppyEvent{
				Type:     message.EventType(eventType),
				Text:     text,
				At:       at,
				Schedule: schedule,
				Timezone: timezone,
			}
			if len(target) > 0 && target[0] == '#' {
				ev.Target.ChannelID = target[1:]
			} else {
				ev.Target.ThreadID = target
			}
			if err := ev.Validate(); err != nil {
				return fmt.Errorf("guppy event put: %w", err)
			}

			eventsDir := filepath.Join(dataDir, "events")
			if err := os.MkdirAll(eventsDir, 0o755); err != nil {
				return fmt.Errorf("guppy event put: %w", err)
			}
			data, err := json.MarshalIndent(ev, "", "  ")
			if err != nil {
				return fmt.Errorf("guppy event put: %w", err)
			}
			path := filepath.Join(eventsDir, name+".json")
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("guppy event put: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "threadId, or #channelId to post-and-route")
	cmd.Flags().StringVar(&eventType, "type", string(message.EventImmediate), "immediate | one-shot | periodic")
	cmd.Flags().StringVar(&at, "at", "", "one-shot: ISO-8601 datetime")
	cmd.Flags().StringVar(&schedule, "schedule", "", "periodic: cron expression")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA zone for --at/--schedule")
	cmd.MarkFlagRequired("target")
	return cmd
}
