package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/qaforge/internal/ingest"
	"github.com/sells-group/qaforge/internal/model"
	"github.com/sells-group/qaforge/internal/pipeline"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a Q&A dataset from files, URLs or text",
	Example: `  qaforge generate --file handbook.pdf --pairs 200 --out dataset.json
  qaforge generate --url https://example.com/faq --augment --gaps --format jsonl`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		files, _ := cmd.Flags().GetStringSlice("file")
		urls, _ := cmd.Flags().GetStringSlice("url")
		text, _ := cmd.Flags().GetString("text")
		pairs, _ := cmd.Flags().GetInt("pairs")
		augment, _ := cmd.Flags().GetBool("augment")
		gaps, _ := cmd.Flags().GetBool("gaps")
		out, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")

		if format != "json" && format != "jsonl" {
			return eris.Errorf("generate: unknown format %q (json, jsonl)", format)
		}

		sources, err := buildSources(files, urls, text)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Orchestrator.Run(ctx, pipeline.Input{
			Sources:      sources,
			PairCount:    pairs,
			Augmentation: augment,
			GapFilling:   gaps,
		}, consoleProgress(os.Stderr))
		if err != nil {
			fmt.Fprintln(os.Stderr, pipeline.UserMessage(err))
			return err
		}

		w := io.Writer(os.Stdout)
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrapf(err, "generate: create %s", out)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}
		if err := writeResult(w, res, format); err != nil {
			return err
		}

		printSummary(os.Stderr, res)
		zap.L().Info("dataset written",
			zap.String("run_id", res.RunID),
			zap.String("out", out),
			zap.Int("pairs", len(res.Pairs)),
		)
		return nil
	},
}

func init() {
	generateCmd.Flags().StringSlice("file", nil, "document to read (repeatable)")
	generateCmd.Flags().StringSlice("url", nil, "web or FTP address to read (repeatable)")
	generateCmd.Flags().String("text", "", "text to use directly")
	generateCmd.Flags().Int("pairs", 0, "number of Q&A pairs to generate (default from config)")
	generateCmd.Flags().Bool("augment", false, "augment content with web research")
	generateCmd.Flags().Bool("gaps", false, "fill knowledge gaps with validated synthetic pairs")
	generateCmd.Flags().String("out", "", "output file (default stdout)")
	generateCmd.Flags().String("format", "json", "output format: json (full result) or jsonl (one pair per line)")
	rootCmd.AddCommand(generateCmd)
}

// buildSources reads files and collects URLs and text into sources.
func buildSources(files, urls []string, text string) ([]ingest.Source, error) {
	var sources []ingest.Source
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", path)
		}
		sources = append(sources, ingest.FileSource(filepath.Base(path), data, ""))
	}
	for _, u := range urls {
		sources = append(sources, ingest.URLSource(u))
	}
	if text != "" {
		sources = append(sources, ingest.TextSource("input", text))
	}
	if len(sources) == 0 {
		return nil, eris.New("generate: at least one --file, --url or --text is required")
	}
	return sources, nil
}

// datasetLine is one JSONL record.
type datasetLine struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	IsCorrect  bool    `json:"is_correct"`
	Confidence float64 `json:"confidence"`
	Provenance string  `json:"provenance"`
}

// writeResult writes the full result as indented JSON, or the final pairs
// one per line.
func writeResult(w io.Writer, res *model.Result, format string) error {
	enc := json.NewEncoder(w)
	if format == "jsonl" {
		for _, p := range res.Pairs {
			if err := enc.Encode(datasetLine{
				Question:   p.Question,
				Answer:     p.Answer,
				IsCorrect:  p.IsCorrect,
				Confidence: p.Confidence,
				Provenance: string(p.Provenance),
			}); err != nil {
				return eris.Wrap(err, "write jsonl")
			}
		}
		return nil
	}
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "write json")
}

// consoleProgress prints one line per progress event.
func consoleProgress(w io.Writer) pipeline.Observer {
	return pipeline.ObserverFunc(func(p pipeline.Progress) {
		_, _ = fmt.Fprintf(w, "[%3d%%] %s (about %s left)\n",
			p.Percent, p.Message, p.Estimate.Remaining.Round(time.Second))
	})
}

func printSummary(w io.Writer, res *model.Result) {
	s := res.Stats
	_, _ = fmt.Fprintf(w, "\nGenerated %d pairs (%d correct, %d incorrect)\n", s.Total, s.Correct, s.Incorrect)
	if res.GapFillingEnabled {
		_, _ = fmt.Fprintf(w, "Gaps: %d identified, %d addressed; synthetic: %d generated, %d validated, %d rejected\n",
			s.GapsIdentified, s.GapsAddressed, s.SyntheticGenerated, s.Validated, s.Rejected)
	}
	for _, warn := range res.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warn)
	}
	_, _ = fmt.Fprintf(w, "Run %s, %d tokens over %d calls ($%.4f)\n", res.RunID, res.Usage.TotalTokens, res.Usage.Calls, res.Usage.CostUSD)
}
