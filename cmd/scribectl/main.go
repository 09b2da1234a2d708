// Package main provides scribectl, the operator CLI for collections and indexing.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"arcane-scribe/internal/app"
	"arcane-scribe/internal/auth"
	"arcane-scribe/internal/config"
	"arcane-scribe/internal/database"
	"arcane-scribe/internal/logger"
	"arcane-scribe/internal/queue"
	"arcane-scribe/models"
	"arcane-scribe/services"
)

var rootCmd = &cobra.Command{
	Use:           "scribectl",
	Short:         "Arcane Scribe operator tool",
	Long:          "Manage SRD collections, re-run indexing and issue test queries against the configured stores.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex OWNER COLLECTION DOCUMENT",
	Short: "Queue a document for indexing again",
	Long: `Resets the document to pending and enqueues a document:index task.

With --inline the document is indexed in this process instead of by a worker.`,
	Args: cobra.ExactArgs(3),
	RunE: runReindex,
}

var purgeCmd = &cobra.Command{
	Use:   "purge OWNER COLLECTION",
	Short: "Delete every document, upload and index artifact of a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runPurge,
}

var listCmd = &cobra.Command{
	Use:   "list OWNER COLLECTION",
	Short: "List the documents of a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runList,
}

var queryCmd = &cobra.Command{
	Use:   "query OWNER COLLECTION TEXT",
	Short: "Run a query and print the JSON response",
	Args:  cobra.ExactArgs(3),
	RunE:  runQuery,
}

var tokenCmd = &cobra.Command{
	Use:   "token OWNER",
	Short: "Issue an API access token for an owner",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var revokeCmd = &cobra.Command{
	Use:   "revoke TOKEN_ID",
	Short: "Revoke an issued access token by its jti",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevoke,
}

var (
	tokenTTL       time.Duration
	inline         bool
	generate       bool
	conversational bool
	numDocs        int
)

func init() {
	reindexCmd.Flags().BoolVar(&inline, "inline", false, "index in this process instead of enqueueing")
	queryCmd.Flags().BoolVar(&generate, "generate", false, "invoke the generative model")
	queryCmd.Flags().BoolVar(&conversational, "conversational", false, "use the conversational prompt style")
	queryCmd.Flags().IntVarP(&numDocs, "num-docs", "k", 0, "number of passages to retrieve (default RETRIEVAL_K)")

	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	rootCmd.AddCommand(reindexCmd, purgeCmd, listCmd, queryCmd, tokenCmd, revokeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.InitLogger(cfg)
	return app.Build(ctx, cfg, nil)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	owner, collection, documentID := args[0], args[1], args[2]

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Docs.Get(ctx, models.TenantKey(owner, collection), documentID)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	if inline {
		task, err := queue.NewIndexDocumentTask(owner, collection, documentID)
		if err != nil {
			return err
		}
		processor := queue.NewTaskProcessor(a.Docs, a.Objects, a.Indexer, logger.Component("scribectl"))
		start := time.Now()
		if err := processor.ProcessIndexDocument(ctx, task); err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		fmt.Printf("Indexed %s in %s\n", doc.OriginalFilename, time.Since(start).Round(time.Millisecond))
		return nil
	}

	redisOpt, err := config.AsynqRedisOpt(a.Config)
	if err != nil {
		return err
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	if err := database.UpdateStatus(ctx, a.Docs, doc.TenantKey, doc.DocumentID, models.StatusPending, map[string]any{
		"error_message": "",
	}); err != nil {
		return fmt.Errorf("failed to reset status: %w", err)
	}

	taskID, err := queue.EnqueueIndexDocument(ctx, client, doc)
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	fmt.Printf("Queued %s (task %s)\n", doc.OriginalFilename, taskID)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, objects, err := services.PurgeCollection(ctx, a.Docs, a.Objects, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d documents and %d objects\n", docs, objects)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docs, err := a.Docs.Query(ctx, models.TenantKey(args[0], args[1]))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT ID\tFILENAME\tSTATUS\tCHUNKS\tUPLOADED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.DocumentID, d.OriginalFilename, d.ProcessingStatus, d.ChunkCount,
			d.UploadTimestamp.Format(time.RFC3339))
	}
	return w.Flush()
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	req := models.QueryRequest{
		QueryText:              args[2],
		InvokeGenerativeLLM:    generate,
		UseConversationalStyle: conversational,
		NumberOfDocuments:      numDocs,
	}
	resp, err := a.Orchestrator.Query(ctx, args[0], args[1], req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func newTokens() (*auth.Tokens, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokens(cfg.AccessSecret, rdb)
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	return tokens, func() { rdb.Close() }, nil
}

func runToken(cmd *cobra.Command, args []string) error {
	tokens, closeFn, err := newTokens()
	if err != nil {
		return err
	}
	defer closeFn()

	signed, err := tokens.Issue(cmd.Context(), args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func runRevoke(cmd *cobra.Command, args []string) error {
	tokens, closeFn, err := newTokens()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := tokens.Revoke(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Revoked %s\n", args[0])
	return nil
}
