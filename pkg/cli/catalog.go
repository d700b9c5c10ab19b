package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/portfolio-chat/pkg/services"
)

func newCatalogCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the entities, metrics and facets questions can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, cat, err := loadCatalog(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			out := cmd.OutOrStdout()

			var entities [][]string
			for _, kind := range cat.EntityKinds() {
				e, _ := cat.Entity(kind)
				entities = append(entities, []string{kind, e.Table, strconv.Itoa(len(e.Members)), strings.Join(e.Words, ", ")})
			}
			fmt.Fprintln(out, "Entities")
			printTable(out, []string{"Kind", "Table", "Members", "Words"}, entities)

			var metrics [][]string
			for _, key := range cat.MetricKeys() {
				m, _ := cat.Metric(key)
				metrics = append(metrics, []string{
					key, m.Label, string(m.Unit), strings.Join(m.AllowedNames(), ", "), strings.Join(m.Synonyms, ", "),
				})
			}
			fmt.Fprintln(out, "\nMetrics")
			printTable(out, []string{"Key", "Label", "Unit", "Aggregations", "Synonyms"}, metrics)

			var facets [][]string
			for _, name := range cat.FacetNames() {
				f, _ := cat.Facet(name)
				values := make([]string, len(f.Values))
				for i, v := range f.Values {
					values[i] = v.Value
				}
				facets = append(facets, []string{name, f.Entity, strings.Join(values, ", ")})
			}
			fmt.Fprintln(out, "\nFacets")
			printTable(out, []string{"Facet", "Entity", "Values"}, facets)
			return nil
		},
	}
}

func newSamplesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "samples",
		Short: "Print example questions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, q := range services.SampleQuestions() {
				fmt.Fprintln(cmd.OutOrStdout(), q)
			}
			return nil
		},
	}
}
