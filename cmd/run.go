package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/pipeline"
	"github.com/shoplens/pipeline-cli/pkg/marketapi"
)

var (
	runFile string
	runJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Crawl listing pages through the full pipeline",
	Long:  "Fetches each listing page, extracts tracked fields using learned strategy rankings, normalizes and reconciles them, and persists the validated records.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		urls := args
		if runFile != "" {
			fromFile, err := readURLFile(runFile)
			if err != nil {
				return err
			}
			urls = append(urls, fromFile...)
		}
		if len(urls) == 0 {
			return eris.New("no URLs given: pass them as arguments or with --file")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		tracked, err := catalog.LoadTracked(cfg.Catalog.TrackedPath)
		if err != nil {
			return err
		}

		var market marketapi.Client
		if cfg.MarketAPI.Enabled {
			market = marketapi.NewClient(cfg.MarketAPI.BaseURL, cfg.MarketAPI.Key)
		}

		p := pipeline.New(cfg, st, cat, tracked, nil, nil, market)

		results, err := p.Run(ctx, urls)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		if runJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(results)
		}
		fmt.Print(pipeline.FormatResults(results))

		zap.L().Info("run complete", zap.Int("urls", len(urls)))
		return nil
	},
}

// readURLFile reads one URL per line, skipping blanks and # comments.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open url file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var urls []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read url file %s", path)
	}
	return urls, nil
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "", "file with one listing URL per line")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print raw crawl results as JSON")
	rootCmd.AddCommand(runCmd)
}
