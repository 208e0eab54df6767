package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tjsasakifln/licitasearch/internal/model"
)

var (
	searchKeywords     []string
	searchExclude      []string
	searchStates       []string
	searchMunicipality string
	searchFrom         string
	searchTo           string
	searchMaxPages     int
	searchCaller       string
	searchRequestFile  string
	searchJSON         bool
)

// requestSpec is the YAML shape accepted by --request-file. Dates use
// YYYY-MM-DD; flags override whatever the file sets.
type requestSpec struct {
	Keywords       []string `yaml:"keywords"`
	ExclusionTerms []string `yaml:"exclusion_terms"`
	States         []string `yaml:"states"`
	Municipality   string   `yaml:"municipality"`
	DateFrom       string   `yaml:"date_from"`
	DateTo         string   `yaml:"date_to"`
	MaxPages       int      `yaml:"max_pages"`
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run a one-shot search across all enabled sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildSearchRequest()
		if err != nil {
			return err
		}

		env, err := initSearch(cmd.Context(), "search")
		if err != nil {
			return err
		}
		defer env.Close()

		result, stale, err := env.Service.Search(cmd.Context(), searchCaller, req)
		if err != nil {
			return err
		}

		if searchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		printResult(result, stale)
		return nil
	},
}

func buildSearchRequest() (model.SearchRequest, error) {
	var req model.SearchRequest

	if searchRequestFile != "" {
		spec, err := loadRequestSpec(searchRequestFile)
		if err != nil {
			return req, err
		}
		req = spec
	}

	if len(searchKeywords) > 0 {
		req.Keywords = searchKeywords
	}
	if len(searchExclude) > 0 {
		req.ExclusionTerms = searchExclude
	}
	if len(searchStates) > 0 {
		req.States = searchStates
	}
	if searchMunicipality != "" {
		req.Municipality = searchMunicipality
	}
	if searchMaxPages > 0 {
		req.MaxPages = searchMaxPages
	}

	if searchFrom != "" {
		from, err := time.Parse("2006-01-02", searchFrom)
		if err != nil {
			return req, eris.Wrap(err, "parse --from")
		}
		req.DateFrom = from
	}
	if searchTo != "" {
		to, err := time.Parse("2006-01-02", searchTo)
		if err != nil {
			return req, eris.Wrap(err, "parse --to")
		}
		req.DateTo = to
	}

	// Default to the trailing 30 days.
	if req.DateTo.IsZero() {
		req.DateTo = time.Now()
	}
	if req.DateFrom.IsZero() {
		req.DateFrom = req.DateTo.AddDate(0, 0, -30)
	}

	if len(req.Keywords) == 0 {
		return req, eris.New("at least one keyword is required (--keyword or --request-file)")
	}
	return req, nil
}

func loadRequestSpec(path string) (model.SearchRequest, error) {
	var req model.SearchRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, eris.Wrap(err, "read request file")
	}

	var spec requestSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return req, eris.Wrap(err, "parse request file")
	}

	req.Keywords = spec.Keywords
	req.ExclusionTerms = spec.ExclusionTerms
	req.States = spec.States
	req.Municipality = spec.Municipality
	req.MaxPages = spec.MaxPages

	if spec.DateFrom != "" {
		from, err := time.Parse("2006-01-02", spec.DateFrom)
		if err != nil {
			return req, eris.Wrap(err, "parse date_from")
		}
		req.DateFrom = from
	}
	if spec.DateTo != "" {
		to, err := time.Parse("2006-01-02", spec.DateTo)
		if err != nil {
			return req, eris.Wrap(err, "parse date_to")
		}
		req.DateTo = to
	}
	return req, nil
}

func printResult(result *model.SearchResult, stale bool) {
	fmt.Printf("Search %s: %d results (%d raw, %d after filtering)\n",
		result.SearchID, len(result.Records), result.TotalRaw, result.TotalFiltered)
	if stale {
		fmt.Println("Note: served from stale cache, refresh in progress")
	}
	if result.IsPartial {
		fmt.Println("Warning: partial results, some sources failed:")
		for _, f := range result.SourcesFailed {
			fmt.Printf("  - %s: %s\n", f.Source, f.Reason)
		}
	}
	fmt.Println()

	for i, rec := range result.Records {
		fmt.Printf("%3d. [%s] %s\n", i+1, rec.SourceName, truncateLine(rec.ObjectDescription, 100))
		fmt.Printf("     %s | %s/%s", rec.AgencyName, rec.Municipality, rec.StateCode)
		if rec.EstimatedValue > 0 {
			fmt.Printf(" | R$ %.2f", rec.EstimatedValue)
		}
		fmt.Println()
		if rec.Link != "" {
			fmt.Printf("     %s\n", rec.Link)
		}
	}
}

func truncateLine(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// registerRequestFlags binds the shared request-building flags; the flag
// variables are package globals, so commands sharing them must not run in
// the same process invocation.
func registerRequestFlags(c *cobra.Command) {
	c.Flags().StringSliceVarP(&searchKeywords, "keyword", "k", nil, "keyword to search for (repeatable)")
	c.Flags().StringSliceVar(&searchExclude, "exclude", nil, "exclusion term (repeatable)")
	c.Flags().StringSliceVar(&searchStates, "state", nil, "state code filter, e.g. SP (repeatable)")
	c.Flags().StringVar(&searchMunicipality, "municipality", "", "municipality filter")
	c.Flags().StringVar(&searchFrom, "from", "", "publication date lower bound (YYYY-MM-DD)")
	c.Flags().StringVar(&searchTo, "to", "", "publication date upper bound (YYYY-MM-DD)")
	c.Flags().IntVar(&searchMaxPages, "max-pages", 0, "per-source page ceiling override")
	c.Flags().StringVar(&searchRequestFile, "request-file", "", "YAML file describing the search request")
}

func init() {
	registerRequestFlags(searchCmd)
	searchCmd.Flags().StringVar(&searchCaller, "caller", "cli", "caller key for quota accounting")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit the full result as JSON")
	rootCmd.AddCommand(searchCmd)
}
