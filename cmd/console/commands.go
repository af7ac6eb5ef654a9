package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/credentials"

	"github.com/dataherald/console/client"
	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

func init() {
	rootCmd.AddCommand(newQueriesCmd(), newStatusCmd(), newKeysCmd())
}

// dial connects to the server named by --server.
func dial() (*client.Client, error) {
	logger := setupLogging(os.Stderr, viper.GetString("log-level"))
	opts := []client.Option{
		client.WithToken(viper.GetString("token")),
		client.WithLogger(logger),
	}
	if ca := viper.GetString("server-ca"); ca != "" {
		creds, err := credentials.NewClientTLSFromFile(ca, "")
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidRequest, "failed to load server CA")
		}
		opts = append(opts, client.WithTLS(creds))
	}
	return client.New(viper.GetString("server"), opts...)
}

// withClient runs fn against a fresh connection.
func withClient(fn func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd.Context(), c, cmd, args)
	}
}

func newQueriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Browse and review generated queries",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List queries, newest first",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			opts, err := listOptions(cmd)
			if err != nil {
				return err
			}
			views, err := c.ListQueries(ctx, opts)
			if err != nil {
				return err
			}
			renderQueries(cmd.OutOrStdout(), views)
			return nil
		}),
	}
	list.Flags().String("status", "", "filter by stored status (NOT_VERIFIED, VERIFIED, SQL_ERROR; any case)")
	list.Flags().String("display-status", "", "filter by display status (SQL_ERROR, LOW_CONFIDENCE, MEDIUM_CONFIDENCE, HIGH_CONFIDENCE, VERIFIED; any case)")
	list.Flags().String("username", "", "filter by user")
	list.Flags().Int("limit", models.DefaultQueryLimit, "page size")
	list.Flags().Int("offset", 0, "number of queries to skip")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one query",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			d, err := c.GetQuery(ctx, args[0])
			if err != nil {
				return err
			}
			renderQuery(cmd.OutOrStdout(), d)
			return nil
		}),
	}

	verify := &cobra.Command{
		Use:   "verify ID",
		Short: "Mark a query as verified",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			v, err := c.VerifyQuery(ctx, args[0])
			if err != nil {
				return err
			}
			renderQueryView(cmd.OutOrStdout(), "Verified", v)
			return nil
		}),
	}

	markError := &cobra.Command{
		Use:   "mark-error ID MESSAGE",
		Short: "Record that a query's SQL failed",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			v, err := c.MarkSQLError(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			renderQueryView(cmd.OutOrStdout(), "Updated", v)
			return nil
		}),
	}

	cmd.AddCommand(list, show, verify, markError)
	return cmd
}

func listOptions(cmd *cobra.Command) (models.ListQueriesOptions, error) {
	var opts models.ListQueriesOptions
	flags := cmd.Flags()

	if v, _ := flags.GetString("status"); v != "" {
		raw, ok := querystatus.ParseRawStatus(strings.ToUpper(v))
		if !ok {
			return opts, errors.ErrUnclassifiableStatus.WithDetail("status", v)
		}
		opts.Status = raw
	}
	if v, _ := flags.GetString("display-status"); v != "" {
		ds, ok := querystatus.ParseDisplayStatus(strings.ToUpper(v))
		if !ok {
			return opts, errors.Newf(errors.CodeInvalidRequest, "unknown display status %q", v)
		}
		opts.DisplayStatus = ds
	}
	opts.Username, _ = flags.GetString("username")
	opts.Limit, _ = flags.GetInt("limit")
	opts.Offset, _ = flags.GetInt("offset")
	return opts, nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query status classification",
	}

	classify := &cobra.Command{
		Use:   "classify STATUS SCORE",
		Short: "Show how a stored status and score are displayed",
		Long: `Classify a stored status and evaluation score without contacting a server.

STATUS is matched case-insensitively, like the --status filter of
"queries list": "verified" is read as the stored status VERIFIED.

Example:
  console status classify NOT_VERIFIED 75`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return errors.Wrapf(err, errors.CodeInvalidRequest, "invalid score %q", args[1])
			}
			raw := querystatus.RawStatus(strings.ToUpper(args[0]))
			p, ok := querystatus.Describe(raw, score)
			if !ok {
				return errors.ErrUnclassifiableStatus.WithDetail("status", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s)\n",
				statusBadge(p.Status, p.Color, p.Label, raw), p.Status, p.Color)
			return nil
		},
	}

	census := &cobra.Command{
		Use:   "census",
		Short: "Count stored queries per display status",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			result, err := c.StatusCensus(ctx)
			if err != nil {
				return err
			}
			renderCensus(cmd.OutOrStdout(), result)
			return nil
		}),
	}

	cmd.AddCommand(classify, census)
	return cmd
}

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a secret API key",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			copyKey, _ := cmd.Flags().GetBool("copy")
			return generateKey(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), client.NewKeyGenerator(c, nil), name, copyKey, client.SystemClipboard{})
		}),
	}
	generate.Flags().String("name", "", "key name, 3 to 50 characters")
	generate.Flags().Bool("copy", false, "copy the key to the clipboard")
	_ = generate.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			keys, err := c.ListAPIKeys(ctx)
			if err != nil {
				return err
			}
			renderAPIKeys(cmd.OutOrStdout(), keys)
			return nil
		}),
	}

	revoke := &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.RevokeAPIKey(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
			return nil
		}),
	}

	cmd.AddCommand(generate, list, revoke)
	return cmd
}

// generateKey submits name and shows the key. When the request fails and in
// is a terminal, the user is offered to try again with the same name.
func generateKey(ctx context.Context, in io.Reader, out io.Writer, g *client.KeyGenerator, name string, copyKey bool, cb client.ClipboardWriter) error {
	interactive := isTerminal(in)
	answers := bufio.NewReader(in)

	key, err := g.Submit(ctx, name)
	for err != nil && errors.Is(err, errors.ErrKeyGenerationFailed) {
		fmt.Fprintln(out, errorStyle.Render(client.FailedTitle))
		fmt.Fprintln(out, client.FailedDescription)
		if !interactive || !confirm(answers, out, client.TryAgain+"? [y/N] ") {
			return err
		}
		key, err = g.Retry(ctx)
	}
	if err != nil {
		return err
	}

	renderGeneratedKey(out, key)
	if copyKey {
		if err := g.Copy(cb); err != nil {
			fmt.Fprintln(out, warningStyle.Render(client.CopyFailedTitle))
			return nil
		}
		fmt.Fprintln(out, client.CopiedTitle)
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// confirm reads one answer from in. The same reader serves every prompt of
// a session so that answers typed ahead are not lost.
func confirm(in *bufio.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
