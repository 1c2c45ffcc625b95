// Command scout is the CLI front end for the affiliate discovery service.
// It starts searches, follows them to completion with live progress, and
// inspects individual jobs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"affiliatescout/internal/config"
	"affiliatescout/internal/model"
	"affiliatescout/internal/search"
)

var (
	flagAPI         string
	flagKeywords    []string
	flagSources     []string
	flagCompetitors []string
	flagJSON        bool
	flagInterval    time.Duration
	flagRetries     int
	flagCeiling     time.Duration
)

func main() {
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	root := &cobra.Command{
		Use:           "scout",
		Short:         "Discover affiliate partners across social platforms",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&flagAPI, "api", cfg.APIBaseURL, "base URL of the search API")

	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Start a search and follow it until it finishes",
		RunE:  func(cmd *cobra.Command, args []string) error { return runSearch(cmd.Context(), cfg) },
	}
	addSearchFlags(searchCmd)
	searchCmd.Flags().DurationVar(&flagInterval, "interval", cfg.PollInterval, "poll interval")
	searchCmd.Flags().IntVar(&flagRetries, "retries", cfg.PollRetries, "consecutive poll failures tolerated")
	searchCmd.Flags().DurationVar(&flagCeiling, "timeout", cfg.PollCeiling, "give up waiting after this long")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a search without waiting for it",
		RunE:  func(cmd *cobra.Command, args []string) error { return runStart(cmd.Context()) },
	}
	addSearchFlags(startCmd)

	statusCmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current state of a search job",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runStatus(cmd.Context(), args[0]) },
	}

	root.AddCommand(searchCmd, startCmd, statusCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		log.Fatalf("scout: %v", err)
	}
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&flagKeywords, "keywords", nil, "keywords to search for (required)")
	cmd.Flags().StringSliceVar(&flagSources, "sources", nil, "platforms to search (default: all)")
	cmd.Flags().StringSliceVar(&flagCompetitors, "competitors", nil, "competitor names to mine for overlap")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
	_ = cmd.MarkFlagRequired("keywords")
}

func buildRequest() (search.Request, error) {
	req := search.Request{Keywords: flagKeywords, Competitors: flagCompetitors}
	for _, raw := range flagSources {
		p, err := model.ParsePlatform(raw)
		if err != nil {
			return req, err
		}
		req.Sources = append(req.Sources, p)
	}
	if len(req.Sources) == 0 {
		req.Sources = model.Platforms()
	}
	return req, nil
}

func runSearch(ctx context.Context, cfg *config.Config) error {
	req, err := buildRequest()
	if err != nil {
		return err
	}

	client := search.New(flagAPI,
		search.WithPollInterval(flagInterval),
		search.WithMaxRetries(flagRetries),
		search.WithMaxPollDuration(flagCeiling),
		search.WithProgress(func(p search.Progress) {
			if flagJSON {
				return
			}
			fmt.Printf("[%3ds] %-10s %s\n", p.ElapsedSeconds, p.Status, p.Message)
		}),
	)

	outcome, err := client.Run(ctx, req)
	if err != nil {
		return describeFailure(err)
	}
	return printOutcome(outcome)
}

func runStart(ctx context.Context) error {
	req, err := buildRequest()
	if err != nil {
		return err
	}
	client := search.New(flagAPI)
	jobID, err := client.Start(ctx, req)
	if err != nil {
		return describeFailure(err)
	}
	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]int64{"jobId": jobID})
	}
	fmt.Printf("search started, job %d\n", jobID)
	fmt.Printf("follow it with: scout status %d\n", jobID)
	return nil
}

func runStatus(ctx context.Context, rawID string) error {
	jobID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || jobID <= 0 {
		return fmt.Errorf("invalid job id %q", rawID)
	}
	client := search.New(flagAPI)
	status, outcome, err := client.Status(ctx, jobID)
	if err != nil {
		return describeFailure(err)
	}
	if status == search.StatusDone {
		return printOutcome(outcome)
	}
	fmt.Printf("job %d: %s\n", jobID, status)
	return nil
}

func printOutcome(outcome *search.Outcome) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	}
	fmt.Printf("\nfound %d affiliates in %ds\n", outcome.ResultsCount, outcome.ElapsedSeconds)
	for platform, count := range outcome.Breakdown {
		fmt.Printf("  %-10s %d\n", platform, count)
	}
	for _, a := range outcome.Results {
		fmt.Printf("  %-24s %-10s %8d followers  %.1f%%  %s\n",
			a.Name, a.Platform, a.Followers, a.EngagementRate, a.URL)
	}
	return nil
}

// describeFailure keeps CLI errors actionable: credit problems tell the user
// the remaining balance, cancellation stays quiet.
func describeFailure(err error) error {
	if search.IsCancelled(err) {
		return errors.New("search cancelled")
	}
	serr, ok := search.As(err)
	if !ok {
		return err
	}
	switch serr.Code {
	case search.CodeInsufficientCredits:
		return fmt.Errorf("%s (%d credits remaining)", serr.Message, serr.Remaining)
	case search.CodeSearchTimeout, search.CodePollTimeout:
		return fmt.Errorf("%s; retry with a narrower keyword set", serr.Message)
	default:
		return err
	}
}
