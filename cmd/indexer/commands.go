package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
	"github.com/kirillkom/fso-faq-assistant/internal/infrastructure/dataset"
)

const defaultDataset = "dataset.json"

type adminOpener func(ctx context.Context) (knowledgeAdmin, func(), error)

func newRootCmd(open adminOpener) *cobra.Command {
	root := &cobra.Command{
		Use:   "indexer",
		Short: "Manage the FSO FAQ knowledge index",
		Long: `indexer manages the knowledge base behind the FAQ assistant.

Examples:
  indexer create                      # Create the collection if it does not exist
  indexer index                       # Index dataset.json
  indexer import faq.xlsx extra.json  # Import spreadsheets or JSON datasets
  indexer reset --file dataset.json   # Delete everything, recreate, index
  indexer reindex                     # Rebuild the index from stored records
  indexer stats                       # Show stored and indexed counts per language`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Int("vector-size", 0, "embedding dimension (default: probe the embedding model)")

	root.AddCommand(
		newCreateCmd(open),
		newIndexCmd(open),
		newImportCmd(open),
		newResetCmd(open),
		newDeleteCmd(open),
		newReindexCmd(open),
		newStatsCmd(open),
	)
	return root
}

// withAdmin opens the stores for the duration of one command.
func withAdmin(cmd *cobra.Command, open adminOpener, fn func(ctx context.Context, a knowledgeAdmin) error) error {
	ctx := cmd.Context()
	a, closeFn, err := open(ctx)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(ctx, a)
}

func vectorSize(ctx context.Context, cmd *cobra.Command, a knowledgeAdmin) (int, error) {
	size, _ := cmd.Flags().GetInt("vector-size")
	if size > 0 {
		return size, nil
	}
	return a.VectorSize(ctx)
}

func newCreateCmd(open adminOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create the knowledge collection if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				size, err := vectorSize(ctx, cmd, a)
				if err != nil {
					return err
				}
				if err := a.Create(ctx, size); err != nil {
					return fmt.Errorf("create collection: %w", err)
				}
				cmd.Printf("collection ready (vector size %d)\n", size)
				return nil
			})
		},
	}
}

func newIndexCmd(open adminOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the JSON dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				return importFiles(ctx, cmd, a, []string{file})
			})
		},
	}
	cmd.Flags().String("file", defaultDataset, "dataset file")
	cmd.Flags().String("source", "", "source label stored with every record (default: file name)")
	return cmd
}

func newImportCmd(open adminOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import JSON datasets or XLSX sheets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				return importFiles(ctx, cmd, a, args)
			})
		},
	}
	cmd.Flags().String("source", "", "source label stored with every record (default: file name)")
	return cmd
}

func importFiles(ctx context.Context, cmd *cobra.Command, a knowledgeAdmin, paths []string) error {
	source, _ := cmd.Flags().GetString("source")
	total := 0
	for _, path := range paths {
		entries, err := dataset.LoadFile(path, source)
		if err != nil {
			return err
		}
		result, err := a.Import(ctx, entries)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		cmd.Printf("%s: indexed %d questions\n", path, result.AddedCount)
		total += result.AddedCount
	}
	if len(paths) > 1 {
		cmd.Printf("indexed %d questions in total\n", total)
	}
	return nil
}

func newResetCmd(open adminOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the collection and stored records, recreate, and index the dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, _ := cmd.Flags().GetString("file")
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				size, err := vectorSize(ctx, cmd, a)
				if err != nil {
					return err
				}
				if err := a.Delete(ctx); err != nil && !domain.IsKind(err, domain.ErrKnowledgeNotFound) {
					return fmt.Errorf("delete collection: %w", err)
				}
				if err := a.Purge(ctx); err != nil {
					return fmt.Errorf("purge stored records: %w", err)
				}
				if err := a.Create(ctx, size); err != nil {
					return fmt.Errorf("create collection: %w", err)
				}
				return importFiles(ctx, cmd, a, []string{file})
			})
		},
	}
	cmd.Flags().String("file", defaultDataset, "dataset file")
	cmd.Flags().String("source", "", "source label stored with every record (default: file name)")
	return cmd
}

func newDeleteCmd(open adminOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the knowledge collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			purge, _ := cmd.Flags().GetBool("purge")
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				err := a.Delete(ctx)
				switch {
				case domain.IsKind(err, domain.ErrKnowledgeNotFound):
					cmd.Println("collection does not exist")
				case err != nil:
					return fmt.Errorf("delete collection: %w", err)
				default:
					cmd.Println("collection deleted")
				}
				if purge {
					if err := a.Purge(ctx); err != nil {
						return fmt.Errorf("purge stored records: %w", err)
					}
					cmd.Println("stored records purged")
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("purge", false, "also delete the stored copy of every record")
	return cmd
}

func newReindexCmd(open adminOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the collection from stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				size, err := vectorSize(ctx, cmd, a)
				if err != nil {
					return err
				}
				n, err := a.Reindex(ctx, size)
				if err != nil {
					return fmt.Errorf("reindex: %w", err)
				}
				cmd.Printf("reindexed %d records\n", n)
				return nil
			})
		},
	}
}

func newStatsCmd(open adminOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored and indexed record counts per language",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return withAdmin(cmd, open, func(ctx context.Context, a knowledgeAdmin) error {
				stats, err := a.Stats(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(stats)
				}
				for _, s := range stats {
					cmd.Printf("%-4s stored=%d indexed=%d\n", s.Language, s.Stored, s.Indexed)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("json", false, "output as JSON")
	return cmd
}
