package commands

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weldmaster/resultstore/internal/metadata"
	"github.com/weldmaster/resultstore/internal/results"
)

var inspectOutput string

var inspectCmd = &cobra.Command{
	Use:   "inspect <instance-dir>",
	Short: "Print the records of a stored product instance",
	Long: `Print the product record of a stored product instance together with
its seams, their NIOs and the result files found for each seam.

Examples:
  resultsctl inspect /data/results/<product>/<instance>-SN-42
  resultsctl inspect -o json /data/results/<product>/<instance>-SN-42`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", outputTable, "Output format (table|json)")
}

type seamReport struct {
	SeamSeries int      `json:"seamSeries"`
	Seam       int      `json:"seam"`
	UUID       string   `json:"uuid"`
	Nio        string   `json:"nio"`
	Linked     bool     `json:"linked"`
	Results    []string `json:"results"`
}

type instanceReport struct {
	Product *metadata.ProductMetaData `json:"product"`
	Seams   []seamReport              `json:"seams"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(inspectOutput); err != nil {
		return err
	}
	dir := args[0]

	product, err := metadata.ParseProduct(dir)
	if err != nil {
		return err
	}

	report := instanceReport{Product: product}
	for _, ps := range product.ProcessedSeams {
		series := 0
		if ps.SeamSeries != nil {
			series = *ps.SeamSeries
		}
		seamDir := metadata.SeamDir(dir, series, ps.Number)

		var files []string
		if types, err := results.List(seamDir); err == nil {
			for _, t := range types {
				rs, err := results.Read(results.Path(seamDir, t))
				if err != nil {
					files = append(files, fmt.Sprintf("%s(corrupt)", t))
					continue
				}
				files = append(files, fmt.Sprintf("%s(%d)", t, len(rs)))
			}
		}

		report.Seams = append(report.Seams, seamReport{
			SeamSeries: series,
			Seam:       ps.Number,
			UUID:       ps.UUID.String(),
			Nio:        formatNio(ps.Nio),
			Linked:     ps.LinkTo != nil,
			Results:    files,
		})
	}

	if inspectOutput == outputJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	out := cmd.OutOrStdout()
	printPairs(out, [][2]string{
		{"Instance", product.UUID.String()},
		{"Serial number", strconv.FormatUint(uint64(product.SerialNumber), 10)},
		{"Product", fmt.Sprintf("%s (%s, type %d)", product.ProductName, product.ProductUUID, product.ProductType)},
		{"Date", product.Date.Time().Format(metadata.DateLayout)},
		{"Extended info", product.ExtendedProductInfo},
		{"NIO", formatNio(product.Nio)},
		{"NIO switched off", strconv.FormatBool(product.NioSwitchedOff)},
		{"Directory", filepath.Clean(dir)},
	})
	fmt.Fprintln(out)

	rows := make([][]string, 0, len(report.Seams))
	for _, s := range report.Seams {
		linked := ""
		if s.Linked {
			linked = "linked"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.SeamSeries),
			strconv.Itoa(s.Seam),
			s.Nio,
			linked,
			strings.Join(s.Results, " "),
		})
	}
	printTable(out, []string{"Series", "Seam", "NIO", "", "Results"}, rows)
	return nil
}

func formatNio(l metadata.NioList) string {
	if !l.Any() {
		return "ok"
	}
	parts := make([]string, 0, len(l.Entries))
	for _, e := range l.Entries {
		parts = append(parts, fmt.Sprintf("%sx%d", e.Type, e.Count))
	}
	if len(parts) == 0 {
		return "nio"
	}
	return strings.Join(parts, ",")
}
