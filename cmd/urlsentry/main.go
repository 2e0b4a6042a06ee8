// urlsentry checks URLs against reputation services and files abuse reports
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/commjoen/urlsentry/internal/config"
	"github.com/commjoen/urlsentry/internal/dns"
	"github.com/commjoen/urlsentry/internal/output"
	"github.com/commjoen/urlsentry/internal/whois"
	"github.com/commjoen/urlsentry/pkg/models"
)

var (
	// Global flags
	envFile string
	verbose bool

	// serve flags
	listenAddr string

	// check flags
	checkURL    string
	format      string
	outputFile  string
	enableDig   bool
	enableWhois bool

	// report flags
	reportURL     string
	reportEmail   string
	reportReason  string
	reportDetails string

	// status flags
	statusID string

	// Version information (set during build)
	version = "dev"
)

func main() {
	initVersion()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initVersion falls back to the module version when no version was set at link time
func initVersion() {
	if version != "dev" && version != "" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	if version == "" {
		version = "dev"
	}
	rootCmd.Version = version
}

var rootCmd = &cobra.Command{
	Use:     "urlsentry",
	Short:   "URL reputation checks and abuse reporting",
	Version: version,
	Long: `urlsentry checks URLs against third-party reputation services and files
abuse reports with Netcraft.

Run "urlsentry serve" to start the websocket service used by the web client,
or use the check, report and status commands directly.

Environment:
  VIRUSTOTAL_API_KEY  VirusTotal API key (VT_API_KEY is accepted as well)
  URLSCAN_API_KEY     urlscan.io API key
  NETCRAFT_COUNTRY    country attached to reports (default RU)
Variables may also be placed in a .env file.`,
	Example: `  # Start the service
  urlsentry serve --addr :5001

  # One-shot reputation check with DNS and WHOIS enrichment
  urlsentry check --url https://suspicious.example/login --dig --whois

  # Report a phishing page and poll its status
  urlsentry report --url https://suspicious.example/login --email me@example.com --reason phishing
  urlsentry status --id <submission uuid>`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket service",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the reputation of a URL",
	RunE:  runCheck,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Report a URL to Netcraft",
	RunE:  runReport,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a Netcraft submission",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides PORT and LISTEN_ADDR)")

	checkCmd.Flags().StringVarP(&checkURL, "url", "u", "", "URL to check (required)")
	checkCmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json, or csv")
	checkCmd.Flags().StringVarP(&outputFile, "out", "o", "", "Write output to file (default: stdout)")
	checkCmd.Flags().BoolVar(&enableDig, "dig", false, "Resolve A/AAAA/CNAME/NS records for the URL host")
	checkCmd.Flags().BoolVar(&enableWhois, "whois", false, "Look up WHOIS registration data for the URL domain")

	reportCmd.Flags().StringVarP(&reportURL, "url", "u", "", "URL to report (required)")
	reportCmd.Flags().StringVar(&reportEmail, "email", "", "Reporter email address")
	reportCmd.Flags().StringVar(&reportReason, "reason", models.ReasonPhishing, "Reason: "+strings.Join(models.ValidReasons, ", "))
	reportCmd.Flags().StringVar(&reportDetails, "details", "", "Free-form details kept with the submission")

	statusCmd.Flags().StringVar(&statusID, "id", "", "Submission identifier (required)")

	for cmd, flag := range map[*cobra.Command]string{checkCmd: "url", reportCmd: "url", statusCmd: "id"} {
		// MarkFlagRequired only fails for unknown flags
		if err := cmd.MarkFlagRequired(flag); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal: failed to mark %q flag as required: %v\n", flag, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(serveCmd, checkCmd, reportCmd, statusCmd)
}

// loadConfig loads and validates configuration, applying command-line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if verbose {
		cfg.Logger.SetLevel(logrus.DebugLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.PrintConfig()

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	return svc.serve(ctx)
}

func runCheck(cmd *cobra.Command, args []string) error {
	// The raw flag value is the cache key, so it is not normalized
	target := checkURL
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("no url provided")
	}

	formatter, err := output.NewFormatter(format)
	if err != nil {
		return err
	}
	if err := validateOutputPath(outputFile); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep stdout clean for the report
	cfg.Logger.SetOutput(cmd.ErrOrStderr())

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	report := &models.CheckReport{
		Timestamp: time.Now().UTC(),
		Result:    svc.resolver.Resolve(ctx, target),
	}

	if enableDig || enableWhois {
		if host, err := dns.HostFromURL(target); err == nil {
			report.Host = host
		}
	}
	if enableDig {
		report.DNS = dns.NewClient(cfg.RequestTimeout).LookupURL(ctx, target)
	}
	if enableWhois {
		report.WHOIS = whois.NewClient(cfg.RequestTimeout).LookupURL(ctx, target)
	}

	return writeOutput(cmd.OutOrStdout(), formatter, report)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Logger.SetOutput(cmd.ErrOrStderr())

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	sub := svc.reports.Submit(ctx, reportURL, models.ReportData{
		Email:   reportEmail,
		Reason:  strings.ToLower(strings.TrimSpace(reportReason)),
		Details: reportDetails,
	})

	if err := printJSON(cmd.OutOrStdout(), map[string]any{"url": sub.URL, "reportStatus": sub.ReportStatus}); err != nil {
		return err
	}
	if !sub.ReportStatus.Netcraft.Success {
		return fmt.Errorf("report failed: %s", sub.ReportStatus.Netcraft.Error)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Logger.SetOutput(cmd.ErrOrStderr())

	svc, err := newService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	status := svc.reports.Status(ctx, statusID)
	if err := printJSON(cmd.OutOrStdout(), map[string]any{"submissionId": statusID, "status": status}); err != nil {
		return err
	}
	if !status.Success {
		return fmt.Errorf("status lookup failed: %s", status.Error)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// validateOutputPath performs security validation on the output file path
func validateOutputPath(path string) error {
	if path == "" {
		return nil
	}

	cleanPath := filepath.Clean(path)

	if filepath.IsAbs(cleanPath) {
		sensitivePatterns := []string{"/etc/", "/var/", "/usr/", "/bin/", "/sbin/", "/root/"}
		for _, pattern := range sensitivePatterns {
			if strings.HasPrefix(cleanPath, pattern) {
				return fmt.Errorf("refusing to write to sensitive system location: %s", cleanPath)
			}
		}
	}

	return nil
}

func writeOutput(stdout io.Writer, formatter output.Formatter, report *models.CheckReport) error {
	if outputFile == "" {
		return formatter.Write(stdout, report)
	}

	// #nosec G304 -- User-provided output file path is intentional for CLI tool
	f, err := os.Create(filepath.Clean(outputFile))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	return formatter.Write(f, report)
}
