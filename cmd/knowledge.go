package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridseal/compliance-cli/internal/model"
	"github.com/gridseal/compliance-cli/internal/rag"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the retrieval knowledge store",
	Long:  "Commands for searching the knowledge store and seeding it with standards and best practices.",
}

// -- knowledge search --

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge store by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("knowledge"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		company, _ := cmd.Flags().GetString("company")
		contentType, _ := cmd.Flags().GetString("type")
		testType, _ := cmd.Flags().GetString("test-type")
		limit, _ := cmd.Flags().GetInt("limit")
		minSimilarity, _ := cmd.Flags().GetFloat64("min-similarity")

		filter := model.EmbeddingFilter{CompanyID: company}
		if contentType != "" {
			filter.ContentTypes = []model.ContentType{model.ContentType(contentType)}
		}
		if testType != "" {
			tt := model.TestType(testType)
			filter.TestType = &tt
		}

		searcher := rag.NewSearcher(st, initJina())
		results, err := searcher.Search(ctx, args[0], filter, minSimilarity, limit)
		if err != nil {
			return eris.Wrap(err, "knowledge search")
		}

		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "No matching entries.")
			return nil
		}

		formatSearchResults(os.Stdout, results)
		return nil
	},
}

// -- knowledge seed --

// seedEntry is one row of a seed file: a JSON array of entries to embed and
// insert as global knowledge.
type seedEntry struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	TestType    string `json:"test_type,omitempty"`
}

var knowledgeSeedCmd = &cobra.Command{
	Use:   "seed <file.json>",
	Short: "Seed the knowledge store from a JSON file",
	Long:  "Embeds and bulk-inserts standards and best practices from a JSON array of {content, content_type, test_type} entries. Entries are global: visible to every tenant.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("knowledge"); err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read seed file %s", args[0])
		}
		var entries []seedEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return eris.Wrap(err, "parse seed file")
		}
		if len(entries) == 0 {
			return eris.New("seed file contains no entries")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = e.Content
		}
		vecs, tokens, err := initJina().EmbedBatch(ctx, texts)
		if err != nil {
			return eris.Wrap(err, "embed seed entries")
		}

		rows := make([]model.KnowledgeEmbedding, 0, len(entries))
		for i, e := range entries {
			if len(vecs[i]) == 0 {
				zap.L().Warn("entry skipped, no embedding returned", zap.Int("index", i))
				continue
			}
			row := model.KnowledgeEmbedding{
				ContentType: model.ContentType(e.ContentType),
				Content:     e.Content,
				Embedding:   vecs[i],
				WasCorrect:  true,
			}
			if e.TestType != "" {
				tt := model.TestType(e.TestType)
				row.TestType = &tt
			}
			rows = append(rows, row)
		}

		inserted, err := st.BulkInsertEmbeddings(ctx, rows)
		if err != nil {
			return eris.Wrap(err, "insert seed entries")
		}

		zap.L().Info("knowledge store seeded",
			zap.Int64("inserted", inserted),
			zap.Int("embedding_tokens", tokens),
		)
		fmt.Printf("Seeded %d entries.\n", inserted)
		return nil
	},
}

func init() {
	knowledgeSearchCmd.Flags().String("company", "", "tenant company ID; global entries always match")
	knowledgeSearchCmd.Flags().String("type", "", "filter by content type (ANALYSIS_RESULT, MANUAL_CORRECTION, TECHNICAL_STANDARD, BEST_PRACTICE)")
	knowledgeSearchCmd.Flags().String("test-type", "", "filter by test type")
	knowledgeSearchCmd.Flags().Int("limit", 10, "max results")
	knowledgeSearchCmd.Flags().Float64("min-similarity", 0.5, "minimum cosine similarity")

	knowledgeCmd.AddCommand(knowledgeSearchCmd)
	knowledgeCmd.AddCommand(knowledgeSeedCmd)
	rootCmd.AddCommand(knowledgeCmd)
}

// formatSearchResults writes a tabular list of search hits to w.
func formatSearchResults(out io.Writer, results []rag.SearchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SIMILARITY\tTYPE\tTEST\tUSES\tCONTENT")
	_, _ = fmt.Fprintln(w, "----------\t----\t----\t----\t-------")

	for _, r := range results {
		testType := ""
		if r.Entry.TestType != nil {
			testType = string(*r.Entry.TestType)
		}
		content := r.Entry.Content
		if len(content) > 60 {
			content = content[:57] + "..."
		}

		_, _ = fmt.Fprintf(w, "%.3f\t%s\t%s\t%d\t%s\n",
			r.Similarity,
			r.Entry.ContentType,
			testType,
			r.Entry.UseCount,
			content,
		)
	}
	_ = w.Flush()
}
