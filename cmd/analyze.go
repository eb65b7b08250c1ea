package main

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridseal/compliance-cli/internal/model"
	"github.com/gridseal/compliance-cli/internal/orchestrator"
)

var (
	analyzeCompany        string
	analyzeTestType       string
	analyzeThermal        []string
	analyzePhotos         []string
	analyzeCertificates   []string
	analyzeExpectedTag    string
	analyzeExpectedSerial string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a compliance test report",
	Long:  "Submits evidence images for one test report, waits for processing, and prints the analysis result.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		docs, err := loadDocuments()
		if err != nil {
			return err
		}

		o, err := initOrchestrator(st)
		if err != nil {
			return err
		}

		id, err := o.CreateAndProcess(ctx, orchestrator.CreateInput{
			CompanyID:      analyzeCompany,
			TestType:       model.TestType(analyzeTestType),
			Documents:      docs,
			ExpectedTag:    analyzeExpectedTag,
			ExpectedSerial: analyzeExpectedSerial,
		})
		if err != nil {
			return eris.Wrap(err, "submit analysis")
		}

		zap.L().Info("analysis submitted",
			zap.String("analysis_id", id),
			zap.String("test_type", analyzeTestType),
			zap.Int("documents", len(docs)),
		)

		o.Wait()

		a, err := st.GetAnalysis(ctx, id)
		if err != nil {
			return eris.Wrap(err, "fetch analysis result")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	},
}

// loadDocuments reads the evidence files named on the command line and
// base64-encodes them for the vision API.
func loadDocuments() ([]model.DocumentInput, error) {
	var docs []model.DocumentInput

	add := func(paths []string, docType model.DocumentType) error {
		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return eris.Wrapf(err, "read document %s", path)
			}
			docs = append(docs, model.DocumentInput{
				Type:      docType,
				Path:      path,
				MediaType: mediaTypeFor(path),
				Data:      base64.StdEncoding.EncodeToString(data),
			})
		}
		return nil
	}

	if err := add(analyzeThermal, model.DocThermalImage); err != nil {
		return nil, err
	}
	if err := add(analyzePhotos, model.DocVisiblePhoto); err != nil {
		return nil, err
	}
	if err := add(analyzeCertificates, model.DocCertificate); err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, eris.New("at least one of --thermal, --photo, --certificate is required")
	}
	return docs, nil
}

func mediaTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeCompany, "company", "", "tenant company ID (required)")
	analyzeCmd.Flags().StringVar(&analyzeTestType, "test-type", "", "test type: GROUNDING, MEGGER, THERMOGRAPHY (required)")
	analyzeCmd.Flags().StringArrayVar(&analyzeThermal, "thermal", nil, "thermal image file (repeatable)")
	analyzeCmd.Flags().StringArrayVar(&analyzePhotos, "photo", nil, "visible photo file (repeatable)")
	analyzeCmd.Flags().StringArrayVar(&analyzeCertificates, "certificate", nil, "calibration certificate image file (repeatable)")
	analyzeCmd.Flags().StringVar(&analyzeExpectedTag, "expected-tag", "", "expected equipment tag for cross-checking")
	analyzeCmd.Flags().StringVar(&analyzeExpectedSerial, "expected-serial", "", "expected instrument serial for cross-checking")
	_ = analyzeCmd.MarkFlagRequired("company")
	_ = analyzeCmd.MarkFlagRequired("test-type")
	rootCmd.AddCommand(analyzeCmd)
}
