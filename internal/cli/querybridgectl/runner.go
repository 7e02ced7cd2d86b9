package querybridgectl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/querybridge/querybridge/internal/schema"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// requestError marks failures after the command line was accepted. Anything
// else that reaches Run is a usage error.
type requestError struct {
	err error
}

func (e *requestError) Error() string {
	return e.err.Error()
}

func (e *requestError) Unwrap() error {
	return e.err
}

// Run executes one querybridgectl invocation and returns the process exit
// code: 0 on success, 1 when the request or the server failed, 2 on usage
// errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	root := NewRootCmd(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(stderr, err)
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return 1
	}
	return 2
}

type client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func NewRootCmd(defaults Options) *cobra.Command {
	c := &client{}

	root := &cobra.Command{
		Use:           "querybridgectl",
		Short:         "Operate a querybridge API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			c.http = defaults.HTTPClient
			if c.http == nil {
				c.http = &http.Client{Timeout: c.timeout}
			}
		},
	}
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:3000"), "querybridge API base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		newGetCmd(c, "ping", "Check that the server answers", "/ping"),
		newGetCmd(c, "health", "Show process health", "/v1/health"),
		newGetCmd(c, "ready", "Show dependency readiness", "/v1/ready"),
		newPromptCmd(c),
		newSchemaCmd(c),
		newHistoryCmd(c),
		newEncodeSchemaCmd(),
	)
	return root
}

func newGetCmd(c *client, use, short, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return writeBody(cmd.OutOrStdout(), body)
		},
	}
}

func newPromptCmd(c *client) *cobra.Command {
	var resultsOnly bool
	cmd := &cobra.Command{
		Use:     "prompt <text>",
		Short:   "Run a natural-language prompt against the database",
		Example: `  querybridgectl prompt "Get all active users"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]string{"prompt": strings.Join(args, " ")})
			if err != nil {
				return err
			}
			body, err := c.do(cmd.Context(), http.MethodPost, "/prompt", payload)
			if err != nil {
				return err
			}
			if resultsOnly {
				var response struct {
					Results json.RawMessage `json:"results"`
				}
				if err := json.Unmarshal(body, &response); err != nil {
					return &requestError{err: fmt.Errorf("decode response: %w", err)}
				}
				body = response.Results
			}
			return writeBody(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&resultsOnly, "results-only", false, "Print only the result documents")
	return cmd
}

func newSchemaCmd(c *client) *cobra.Command {
	var encoded bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Show the schema loaded by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			body, err := c.do(cmd.Context(), http.MethodGet, "/v1/schema", nil)
			if err != nil {
				return err
			}
			if encoded {
				var response struct {
					Encoded string `json:"encoded"`
				}
				if err := json.Unmarshal(body, &response); err != nil {
					return &requestError{err: fmt.Errorf("decode response: %w", err)}
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), response.Encoded)
				return err
			}
			return writeBody(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().BoolVar(&encoded, "encoded", false, "Print the encoded text sent to the model")
	return cmd
}

func newHistoryCmd(c *client) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/history"
			if limit > 0 {
				path += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
			}
			body, err := c.do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return writeBody(cmd.OutOrStdout(), body)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of records (server default when 0)")
	return cmd
}

func newEncodeSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode-schema <file>",
		Short: "Encode a local schema file the way the server does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := schema.LoadFile(args[0])
			if err != nil {
				return &requestError{err: err}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), schema.Encode(desc).String())
			return err
		},
	}
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, body)
	if err != nil {
		return nil, &requestError{err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &requestError{err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, &requestError{err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(responseBody)))}
	}
	return responseBody, nil
}

func writeBody(w io.Writer, body []byte) error {
	if pretty, ok := prettyJSON(body); ok {
		_, err := fmt.Fprintln(w, pretty)
		return err
	}
	if len(body) > 0 {
		_, err := fmt.Fprintln(w, string(body))
		return err
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
