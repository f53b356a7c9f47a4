package admin

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aidesk-labs/kbengine/internal/service"
)

// ReindexCmd returns the reindex command
func ReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Recompute embeddings for stored chunks",
		Long:  "Recompute embeddings in batches for a tenant, optionally scoped to one source",
		RunE:  runReindex,
	}

	cmd.Flags().String("tenant", "", "Tenant ID (required)")
	cmd.Flags().String("source", "", "Only reindex chunks from this source")
	cmd.Flags().Bool("include-archived", false, "Also reindex archived chunks")
	cmd.Flags().Int("batch-size", 0, "Chunks per embedding batch")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	d, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	tenantID, _ := cmd.Flags().GetString("tenant")
	source, _ := cmd.Flags().GetString("source")
	includeArchived, _ := cmd.Flags().GetBool("include-archived")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	svc := service.NewLifecycleService(d.repo, d.embedder, d.logger)
	processed, err := svc.Reindex(ctx, tenantID, service.ReindexFilter{
		Source:          source,
		IncludeArchived: includeArchived,
	}, batchSize)
	if err != nil {
		return fmt.Errorf("reindex failed after %d chunks: %w", processed, err)
	}

	fmt.Printf("reindexed %d chunks\n", processed)
	return nil
}
