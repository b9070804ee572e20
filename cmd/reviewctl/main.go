// Package main implements the reviewctl CLI for manual operations against
// the reviewd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/konradekk14/llm-code-review-assistant/internal/httpapi"
	"github.com/konradekk14/llm-code-review-assistant/internal/index"
	"github.com/konradekk14/llm-code-review-assistant/internal/review"
)

var (
	// serverURL is the base URL for the reviewd HTTP server.
	serverURL string
	version   = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reviewctl",
	Short: "CLI for reviewd server operations",
	Long: `reviewctl is a command-line interface for the reviewd HTTP server.
It submits diffs for review, maintains the code index and inspects
provider health.`,
	Version: version,
}

var (
	reviewTitle     string
	reviewProviders []string
	checkProviders  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8941", "reviewd server URL")
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(healthCmd)

	reviewCmd.Flags().StringVar(&reviewTitle, "title", "", "pull request title for prompting")
	reviewCmd.Flags().StringSliceVar(&reviewProviders, "providers", nil, "restrict review to these providers")
	providersCmd.Flags().BoolVar(&checkProviders, "check", false, "run health probes before reporting")
}

var reviewCmd = &cobra.Command{
	Use:   "review [diff-file]",
	Short: "Submit a unified diff for review",
	Long: `Submit a unified diff for review and print the findings.

Examples:
  # Review staged changes
  git diff --cached | reviewctl review -

  # Review a patch file with a specific provider
  reviewctl review --providers gpt change.patch`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReview,
}

var indexCmd = &cobra.Command{
	Use:   "index <file>...",
	Short: "Index source files for retrieval context",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

var removeCmd = &cobra.Command{
	Use:   "remove <file>",
	Short: "Remove a file's fragments from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured providers and their health",
	RunE:  runProviders,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check reviewd server health",
	RunE:  runHealth,
}

func runReview(cmd *cobra.Command, args []string) error {
	var diff []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		diff, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		diff, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}
	if len(diff) == 0 {
		return fmt.Errorf("no diff to review")
	}

	reqBody := httpapi.ReviewRequest{
		Title:     reviewTitle,
		Diff:      string(diff),
		Providers: reviewProviders,
	}

	var result review.AggregatedReview
	if err := postJSON("/api/v1/reviews", reqBody, &result, 5*time.Minute); err != nil {
		return err
	}

	printReview(&result)
	return nil
}

func printReview(result *review.AggregatedReview) {
	fmt.Printf("%s\n", result.Summary)
	if len(result.Findings) > 0 {
		fmt.Println()
	}
	for _, f := range result.Findings {
		location := f.File
		if f.Line > 0 {
			location = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		fmt.Printf("[%s/%s] %s — %s\n", f.Severity, f.Category, location, f.Title)
		if f.Rationale != "" {
			fmt.Printf("    %s\n", f.Rationale)
		}
		if f.Suggestion != "" {
			fmt.Printf("    Suggestion: %s\n", f.Suggestion)
		}
		fmt.Printf("    Reported by: %s\n", strings.Join(f.Providers, ", "))
	}

	for _, c := range result.Contributors {
		if c.Status != review.StatusOK {
			fmt.Fprintf(os.Stderr, "[reviewctl] provider %s failed: %s (%s)\n", c.Provider, c.Status, c.Error)
		}
	}
}

func runIndex(cmd *cobra.Command, args []string) error {
	var fragments []index.CodeFragment
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", path, err)
		}
		fragments = append(fragments, index.CodeFragment{
			File:      path,
			StartLine: 1,
			EndLine:   strings.Count(string(content), "\n") + 1,
			Content:   string(content),
		})
	}

	var result index.BatchResult
	if err := postJSON("/api/v1/index", httpapi.IndexRequest{Fragments: fragments}, &result, 2*time.Minute); err != nil {
		return err
	}

	fmt.Printf("Indexed: %d  Skipped: %d  Failed: %d\n", result.Indexed, result.Skipped, result.Failed)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	if err := postJSON("/api/v1/index/remove", httpapi.IndexRemoveRequest{File: args[0]}, nil, 30*time.Second); err != nil {
		return err
	}
	fmt.Printf("Removed %s from index\n", args[0])
	return nil
}

func runProviders(cmd *cobra.Command, args []string) error {
	url := serverURL + "/api/v1/providers"
	if checkProviders {
		url += "?check=true"
	}

	var resp httpapi.ProvidersResponse
	if err := getJSON(url, &resp, time.Minute); err != nil {
		return err
	}

	for _, p := range resp.Providers {
		line := fmt.Sprintf("%-12s %-10s %s", p.Name, p.Role, p.Health)
		if p.LastError != "" {
			line += fmt.Sprintf("  (%s)", p.LastError)
		}
		fmt.Println(line)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp httpapi.HealthResponse
	if err := getJSON(serverURL+"/health", &resp, 5*time.Second); err != nil {
		return err
	}
	fmt.Printf("Server Status: %s\n", resp.Status)
	return nil
}

func postJSON(path string, body, out any, timeout time.Duration) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func getJSON(url string, out any, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
