package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aidesk-labs/kbengine/internal/service"
)

// ArchiveCmd returns the archive command
func ArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive stored chunks",
		Long:  "Soft-delete chunks by id, source, or age; archived chunks are excluded from default search",
		RunE:  runArchive,
	}

	cmd.Flags().String("tenant", "", "Tenant ID (required)")
	cmd.Flags().StringSlice("id", nil, "Chunk IDs to archive (repeatable)")
	cmd.Flags().String("source", "", "Archive all chunks from this source")
	cmd.Flags().String("updated-before", "", "Archive chunks last updated before this RFC3339 timestamp")
	cmd.Flags().Bool("restore", false, "Restore matching archived chunks instead of archiving")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runArchive(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	tenantID, _ := cmd.Flags().GetString("tenant")
	ids, _ := cmd.Flags().GetStringSlice("id")
	source, _ := cmd.Flags().GetString("source")
	updatedBeforeRaw, _ := cmd.Flags().GetString("updated-before")
	restore, _ := cmd.Flags().GetBool("restore")

	var updatedBefore *time.Time
	if updatedBeforeRaw != "" {
		parsed, err := time.Parse(time.RFC3339, updatedBeforeRaw)
		if err != nil {
			return fmt.Errorf("invalid --updated-before timestamp: %w", err)
		}
		updatedBefore = &parsed
	}

	d, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	svc := service.NewLifecycleService(d.repo, d.embedder, d.logger)
	count, err := svc.Archive(ctx, tenantID, service.ArchiveFilter{
		IDs:           ids,
		Source:        source,
		UpdatedBefore: updatedBefore,
	}, !restore)
	if err != nil {
		return err
	}

	if restore {
		fmt.Printf("restored %d chunks\n", count)
	} else {
		fmt.Printf("archived %d chunks\n", count)
	}
	return nil
}

// DeleteCmd returns the delete command
func DeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Permanently delete stored chunks",
		Long:  "Delete chunks by id or source; deletion is irreversible",
		RunE:  runDelete,
	}

	cmd.Flags().String("tenant", "", "Tenant ID (required)")
	cmd.Flags().StringSlice("id", nil, "Chunk IDs to delete (repeatable)")
	cmd.Flags().String("source", "", "Delete all chunks from this source")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	tenantID, _ := cmd.Flags().GetString("tenant")
	ids, _ := cmd.Flags().GetStringSlice("id")
	source, _ := cmd.Flags().GetString("source")

	d, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	svc := service.NewLifecycleService(d.repo, d.embedder, d.logger)
	count, err := svc.Delete(ctx, tenantID, service.DeleteFilter{
		IDs:    ids,
		Source: source,
	})
	if err != nil {
		return err
	}

	fmt.Printf("deleted %d chunks\n", count)
	return nil
}
