package notify

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/notify"
)

// Command returns a cobra command that sends a test notification through
// the configured shoutrrr URLs.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		typ       string
		prio      string
		title     string
		message   string
		component string
		wait      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test notification",
		Long: `Send a test notification through the configured push services.

Examples:
  # Basic notification
  btsink notify --type=info --priority=low --title="Test" --message="Hello"

  # Simulate a resource warning
  btsink notify --type=warning --priority=high --component=monitor --message="CPU usage high"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var ntype notify.Type
			switch typ {
			case "error":
				ntype = notify.TypeError
			case "warning":
				ntype = notify.TypeWarning
			case "info":
				ntype = notify.TypeInfo
			case "system":
				ntype = notify.TypeSystem
			default:
				return fmt.Errorf("invalid type: %s", typ)
			}

			var nprio notify.Priority
			switch prio {
			case "critical":
				nprio = notify.PriorityCritical
			case "high":
				nprio = notify.PriorityHigh
			case "medium":
				nprio = notify.PriorityMedium
			case "low":
				nprio = notify.PriorityLow
			default:
				return fmt.Errorf("invalid priority: %s", prio)
			}

			notifier, err := notify.NewNotifier(settings.Notify)
			if err != nil {
				return fmt.Errorf("failed to create notifier: %w", err)
			}
			if !notifier.Enabled() {
				return fmt.Errorf("notifications are disabled, set notify.enabled and notify.urls in the configuration")
			}

			n := notify.New(ntype, nprio, title, message).WithComponent(component)
			if err := notifier.Send(cmd.Context(), n); err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Notification sent: type=%s priority=%s title=%q\n", n.Type, n.Priority, n.Title)
			if wait > 0 {
				time.Sleep(wait)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&typ, "type", "info", "Notification type: error|warning|info|system")
	cmd.Flags().StringVar(&prio, "priority", "low", "Notification priority: critical|high|medium|low")
	cmd.Flags().StringVar(&title, "title", "Test Notification", "Notification title")
	cmd.Flags().StringVar(&message, "message", "This is a test push notification", "Notification message")
	cmd.Flags().StringVar(&component, "component", "cli", "Notification component tag")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "Time to wait for push delivery (0 to disable)")

	return cmd
}
