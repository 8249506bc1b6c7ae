package commands

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weldmaster/resultstore/internal/config"
	"github.com/weldmaster/resultstore/internal/domain"
	"github.com/weldmaster/resultstore/internal/metrics"
	"github.com/weldmaster/resultstore/internal/storage"
	"github.com/weldmaster/resultstore/pkg/utils"
)

var (
	simProducts   int
	simSeries     int
	simSeams      int
	simResults    int
	simNioRate    float64
	simLwmSeams   bool
	simSerialBase uint32
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Feed simulated product inspections through the results store",
	Long: `Run simulated product inspections through the results store using the
configured storage settings. Useful to check a results directory, the
cache limit and the disk usage limit end to end.

Examples:
  resultsctl simulate --results-dir /tmp/results --products 20 --seams 4
  resultsctl simulate --products 3 --lwm`,
	RunE: runSimulate,
}

func init() {
	f := simulateCmd.Flags()
	f.IntVar(&simProducts, "products", 5, "number of product instances")
	f.IntVar(&simSeries, "series", 1, "seam series per product")
	f.IntVar(&simSeams, "seams", 3, "seams per seam series")
	f.IntVar(&simResults, "results", 50, "GapWidth results per seam")
	f.Float64Var(&simNioRate, "nio-rate", 0.05, "probability of a result being a NIO")
	f.BoolVar(&simLwmSeams, "lwm", false, "wait for a simulated LWM result on every seam")
	f.Uint32Var(&simSerialBase, "serial", 1000, "serial number of the first instance")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := requireResultsDir(cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Close()

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: cfg.Metrics.Namespace,
	}, logger)
	if err != nil {
		return err
	}

	if simLwmSeams {
		cfg.Storage.LwmCommunicationActive = true
	}
	svc, dispatcher, err := startStore(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer dispatcher.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	for i := 0; i < simProducts; i++ {
		if err := simulateProduct(ctx, dispatcher, rng, simSerialBase+uint32(i)); err != nil {
			return err
		}
	}
	if err := dispatcher.Sync(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	stats := collector.GetMetrics()
	fmt.Fprintf(out, "simulated %d product(s) in %s\n", simProducts, time.Since(start).Round(time.Millisecond))
	if index := svc.CacheIndex(); index != nil {
		fmt.Fprintf(out, "cache holds %d instance(s), limit %d\n", index.Len(), svc.MaxCacheEntries())
	}
	if ops, ok := stats["operations"].(map[string]*metrics.OperationMetrics); ok {
		rows := make([][]string, 0, len(ops))
		for name, op := range ops {
			rows = append(rows, []string{name, fmt.Sprint(op.Count), op.AvgDuration.String()})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
		printTable(out, []string{"Operation", "Calls", "Avg"}, rows)
	}
	return nil
}

// startStore opens the results store described by cfg and starts the
// dispatcher feeding it.
func startStore(cfg *config.Configuration, collector *metrics.Collector,
	logger *utils.StructuredLogger) (*storage.Service, *storage.Dispatcher, error) {

	opts := storage.OptionsFromConfig(cfg)
	opts.Metrics = collector
	opts.Logger = logger
	svc, err := storage.NewService(opts)
	if err != nil {
		return nil, nil, err
	}

	dispatcher := storage.NewDispatcher(svc, cfg.Dispatcher.QueueSize, logger)
	if err := dispatcher.Start(); err != nil {
		_ = svc.Close()
		return nil, nil, err
	}
	return svc, dispatcher, nil
}

func simulateProduct(ctx context.Context, d *storage.Dispatcher, rng *rand.Rand, serial uint32) error {
	product := domain.NewProduct(uuid.New(), "simulated", 1)
	for s := 0; s < simSeries; s++ {
		series := product.AddSeamSeries(uuid.New(), s)
		for n := 1; n <= simSeams; n++ {
			seam := series.AddSeam(uuid.New(), n)
			seam.Length = 100 + rng.Intn(400)
			if simLwmSeams {
				seam.SetHardwareParameters(domain.ParameterSet{{
					Name:   domain.LwmInspectionActive,
					TypeID: domain.LwmInspectionTypeID,
					Value:  true,
				}})
			}
		}
	}
	instance := uuid.New()

	submit := func(ev storage.Event) error { return d.Submit(ctx, ev) }

	if err := submit(storage.StartProductEvent{Product: product, Instance: instance, ExtendedInfo: "resultsctl simulate"}); err != nil {
		return err
	}
	for _, series := range product.SeamSeries() {
		for _, seam := range series.Seams() {
			if err := submit(storage.StartSeamEvent{Seam: seam, Instance: instance, SerialNumber: serial}); err != nil {
				return err
			}
			for i := 0; i < simResults; i++ {
				r := domain.Result{
					Type:      domain.GapWidth,
					Timestamp: time.Now(),
					Position:  int64(i),
					Values:    []float64{rng.Float64()},
				}
				var ev storage.Event = storage.ResultsEvent{Results: []domain.Result{r}}
				if rng.Float64() < simNioRate {
					r.Nio = true
					r.NioType = domain.ValueOutOfLimits
					ev = storage.NioEvent{Result: r}
				}
				if err := submit(ev); err != nil {
					return err
				}
			}
			if err := submit(storage.EndSeamEvent{}); err != nil {
				return err
			}
			if simLwmSeams {
				lwm := domain.Result{Type: domain.LWMStandardResult, Timestamp: time.Now(), Values: []float64{1}}
				if err := submit(storage.ResultsEvent{Results: []domain.Result{lwm}}); err != nil {
					return err
				}
			}
		}
	}
	return submit(storage.EndProductEvent{Product: product})
}
