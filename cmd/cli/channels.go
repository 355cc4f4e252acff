package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var channelsBaseURL string

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage live notification channels on a running server",
}

var channelsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the live channel count",
	RunE: func(cmd *cobra.Command, args []string) error {
		return internalRequest(http.MethodGet, "/internal/channels")
	},
}

var channelsDisconnectCmd = &cobra.Command{
	Use:   "disconnect <client-id>",
	Short: "Force-close one client's notification channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return internalRequest(http.MethodDelete, "/internal/channels/"+args[0])
	},
}

var channelsDisconnectAllCmd = &cobra.Command{
	Use:   "disconnect-all",
	Short: "Force-close every notification channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return internalRequest(http.MethodDelete, "/internal/channels")
	},
}

// internalRequest calls an internal endpoint with the service API key and
// prints the response body.
func internalRequest(method, path string) error {
	apiKey := os.Getenv("INTERNAL_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("INTERNAL_API_KEY not set")
	}

	req, err := http.NewRequest(method, channelsBaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Internal-API-Key", apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(os.Stdout, string(body))
	return nil
}

func init() {
	channelsCmd.PersistentFlags().StringVar(&channelsBaseURL, "server", "http://localhost:3000", "base URL of the running server")
	channelsCmd.AddCommand(channelsStatsCmd)
	channelsCmd.AddCommand(channelsDisconnectCmd)
	channelsCmd.AddCommand(channelsDisconnectAllCmd)
	rootCmd.AddCommand(channelsCmd)
}
