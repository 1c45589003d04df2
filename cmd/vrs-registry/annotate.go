package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vrs-registry/internal/annotate"
	"github.com/inodb/vrs-registry/internal/config"
	"github.com/inodb/vrs-registry/internal/storage/factory"
	"github.com/inodb/vrs-registry/internal/translate"
)

func newAnnotateCmd() *cobra.Command {
	var (
		assembly      string
		forRef        bool
		addAttributes bool
		outputFile    string
		workers       int
	)
	cmd := &cobra.Command{
		Use:   "annotate <input.vcf>",
		Short: "Annotate a VCF with VRS allele identifiers",
		Long:  "Translate every allele of the input VCF, register the results, and write the annotated VCF.",
		Example: `  vrs-registry annotate input.vcf
  vrs-registry annotate --assembly GRCh37 --add-vrs-attributes -o out.vcf input.vcf
  cat input.vcf | vrs-registry annotate -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := annotate.Options{
				Assembly:         assembly,
				ComputeForRef:    forRef,
				AddVRSAttributes: addAttributes,
				Workers:          workers,
			}
			return runPipeline(cmd.Context(), args[0], outputFile, func(ctx context.Context, ann *annotate.Annotator, in io.Reader, out io.Writer) error {
				stats, err := ann.AnnotateVCF(ctx, in, out, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "%d rows, %d alleles translated, %d translation errors\n",
					stats.Rows, stats.Translated, stats.Errors)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assembly, "assembly", "GRCh38", "Genome assembly: GRCh37 or GRCh38")
	cmd.Flags().BoolVar(&forRef, "for-ref", false, "Also translate the REF allele of each site")
	cmd.Flags().BoolVar(&addAttributes, "add-vrs-attributes", false, "Emit VRS_Starts, VRS_Ends and VRS_States")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVar(&workers, "workers", 0, "Translation workers (default: number of CPUs)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var (
		assembly   string
		validate   bool
		outputFile string
	)
	cmd := &cobra.Command{
		Use:   "ingest <annotated.vcf>",
		Short: "Register the VRS alleles carried in a pre-annotated VCF",
		Example: `  vrs-registry ingest annotated.vcf
  vrs-registry ingest --validate -o conflicts.csv annotated.vcf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := annotate.IngestOptions{
				Assembly:          assembly,
				RequireValidation: validate,
			}
			return runPipeline(cmd.Context(), args[0], outputFile, func(ctx context.Context, ann *annotate.Annotator, in io.Reader, out io.Writer) error {
				stats, err := ann.IngestAnnotated(ctx, in, out, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "%d rows, %d alleles stored, %d conflicts\n",
					stats.Rows, stats.Stored, stats.Conflicts)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&assembly, "assembly", "GRCh38", "Genome assembly: GRCh37 or GRCh38")
	cmd.Flags().BoolVar(&validate, "validate", false, "Recompute digests and report mismatches as CSV")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

// runPipeline wires store, translator, input and output around one of
// the VCF entry points.
func runPipeline(ctx context.Context, inputPath, outputFile string,
	run func(ctx context.Context, ann *annotate.Annotator, in io.Reader, out io.Writer) error,
) error {
	logger, err := newLogger(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := config.Load()
	opts := cfg.StorageOptions()
	opts.Logger = logger

	store, err := factory.Open(ctx, cfg.StorageURI, opts)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	translator := translate.NewRESTTranslator(cfg.TranslatorURL)
	translator.SetLogger(logger)
	ann := annotate.NewAnnotator(store, translator)
	ann.SetLogger(logger)

	var in io.Reader
	if inputPath == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	out := io.Writer(os.Stdout)
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	if err := run(ctx, ann, in, out); err != nil {
		return err
	}
	return store.WaitForWrites(ctx)
}

func newWipeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Drop all registry data from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to wipe without --yes")
			}
			logger, err := newLogger(true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			cfg := config.Load()
			opts := cfg.StorageOptions()
			opts.Logger = logger

			store, err := factory.Open(cmd.Context(), cfg.StorageURI, opts)
			if err != nil {
				return fmt.Errorf("open storage: %w", err)
			}
			defer store.Close()

			if err := store.WipeDB(cmd.Context()); err != nil {
				return err
			}
			logger.Info("wiped registry data", zap.String("storage", cfg.StorageURI))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the wipe")
	return cmd
}
