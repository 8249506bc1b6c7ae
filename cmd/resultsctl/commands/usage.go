package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/weldmaster/resultstore/internal/diskusage"
	"github.com/weldmaster/resultstore/pkg/utils"
)

var usageOutput string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the disk usage of the results volume",
	Long: `Show how full the volume holding the results directory is and whether
new product instances would be refused with the configured
max_relative_disk_usage.`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVarP(&usageOutput, "output", "o", outputTable, "Output format (table|json)")
}

type usageReport struct {
	Path           string  `json:"path"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	Relative       float64 `json:"relative"`
	Limit          float64 `json:"limit"`
	Refusing       bool    `json:"refusing"`
}

func runUsage(cmd *cobra.Command, args []string) error {
	if err := checkOutputFormat(usageOutput); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := requireResultsDir(cfg)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	monitor := diskusage.NewMonitor(root, nil, logger)
	st, err := monitor.Usage()
	if err != nil {
		return err
	}

	limit := cfg.Storage.MaxRelativeDiskUsage
	report := usageReport{
		Path:           root,
		TotalBytes:     st.Total,
		UsedBytes:      st.Used(),
		AvailableBytes: st.Available,
		Relative:       st.Relative(),
		Limit:          limit,
		Refusing:       st.Relative() > limit,
	}

	if usageOutput == outputJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	printPairs(cmd.OutOrStdout(), [][2]string{
		{"Path", report.Path},
		{"Total", utils.FormatBytes(report.TotalBytes)},
		{"Used", utils.FormatBytes(report.UsedBytes)},
		{"Available", utils.FormatBytes(report.AvailableBytes)},
		{"Usage", fmt.Sprintf("%.1f%%", report.Relative*100)},
		{"Limit", fmt.Sprintf("%.1f%%", report.Limit*100)},
		{"Refusing new products", strconv.FormatBool(report.Refusing)},
	})
	return nil
}
