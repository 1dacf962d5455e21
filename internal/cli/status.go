package cli

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Query the health endpoint of a running alzassist server and print its status.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "server base URL (default derived from server.host and server.port)")
	rootCmd.AddCommand(statusCmd)
}

type healthReport struct {
	Status        string `json:"status"`
	Clients       int    `json:"clients"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveTurns   int    `json:"active_turns"`
	Lanes         map[string]struct {
		Queued  int  `json:"queued"`
		Running bool `json:"running"`
	} `json:"lanes"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := statusURL
	if base == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		base = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(base + "/healthz")
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}
	defer resp.Body.Close()

	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return fmt.Errorf("invalid health response: %w", err)
	}

	fmt.Fprintf(out, "Status: %s\n", report.Status)
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Duration(report.UptimeSeconds)*time.Second))
	fmt.Fprintf(out, "Clients: %d\n", report.Clients)
	fmt.Fprintf(out, "Active turns: %d\n", report.ActiveTurns)

	lanes := make([]string, 0, len(report.Lanes))
	for lane := range report.Lanes {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)
	for _, lane := range lanes {
		st := report.Lanes[lane]
		state := "idle"
		if st.Running {
			state = "running"
		}
		fmt.Fprintf(out, "  %s: %s, %d queued\n", lane, state, st.Queued)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
