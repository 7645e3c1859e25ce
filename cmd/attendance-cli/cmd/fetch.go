package cmd

import (
	"fmt"
	"os"
	"strconv"

	"attendance-backend/lib/configutil"
	"attendance-backend/lib/telemetry"
	"attendance-backend/services/attendance"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// credentials may be stored in config.json5 so the flags stay optional
type credentialsConfig struct {
	Srn      string `json:"srn"`
	Password string `json:"password"`
}

var (
	srn          string
	password     string
	mappingsPath string
	baseUrl      string
	threshold    int
	verbose      bool
)

func init() {
	fetchCmd.Flags().StringVar(&srn, "srn", "", "Student srn, falls back to config.json5.")
	fetchCmd.Flags().StringVar(&password, "password", "", "Portal password, falls back to config.json5.")
	fetchCmd.Flags().StringVar(&mappingsPath, "mappings", "mappings.json5", "Path to the branch mapping table.")
	fetchCmd.Flags().StringVar(&baseUrl, "base-url", "", "Override the portal base url.")
	fetchCmd.Flags().IntVar(&threshold, "threshold", 75, "Attendance percentage the portal requires.")
	fetchCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Performs a one-shot attendance scrape and prints the result.",
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)

		if srn == "" || password == "" {
			creds, err := configutil.ReadConfig[credentialsConfig]("config.json5")
			if err != nil {
				fatal(fmt.Errorf("no --srn/--password given and config.json5 is unreadable: %w", err))
			}
			if srn == "" {
				srn = creds.Srn
			}
			if password == "" {
				password = creds.Password
			}
		}

		mappings, err := configutil.ReadConfig[attendance.Mappings](mappingsPath)
		if err != nil {
			fatal(err)
		}
		settings, err := attendance.LoadSettings()
		if err != nil {
			fatal(err)
		}
		if baseUrl != "" {
			settings.PortalBaseUrl = baseUrl
		}
		settings.BunkableThreshold = threshold

		service := attendance.NewService(settings, mappings)
		records, err := service.FetchAttendance(cmd.Context(), srn, password)
		if err != nil {
			fatal(err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Subject", "Attended", "Total", "Percentage", "Bunkable"})
		for _, record := range records {
			t.AppendRow(table.Row{
				record.Subject,
				count(record.Attended),
				count(record.Total),
				percentage(record.Percentage),
				count(record.Bunkable),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

func count(v *int) string {
	if v == nil {
		return "NA"
	}
	return strconv.Itoa(*v)
}

func percentage(v *float64) string {
	if v == nil {
		return "NA"
	}
	return fmt.Sprintf("%.2f", *v)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
