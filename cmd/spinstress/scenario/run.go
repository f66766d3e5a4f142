package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-spin/spinlock/config"
	"github.com/go-spin/spinlock/logger"
	"github.com/go-spin/spinlock/stress"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ErrUpdatesLost turns into a non-zero exit status: a protocol that
// guarantees exclusion dropped increments.
var ErrUpdatesLost = errors.New("safe protocol lost updates")

var (
	cfgFile     string
	protocol    string
	workers     int
	iterations  int64
	repeat      int
	metricsAddr string
	verbose     bool
)

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "drive contended runs and report lost updates",
	Long:  "run executes the configured scenarios, one fresh counter cell per run, and prints a summary. The command fails if a safe protocol lost updates.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cf := config.Config{}
		if cfgFile != "" {
			if err := config.ReadAndParse(cfgFile, &cf); err != nil {
				return err
			}
		} else {
			cf.Scenarios = []config.Scenario{{
				Protocol:   protocol,
				Workers:    workers,
				Iterations: iterations,
				Repeat:     repeat,
			}}
		}
		if metricsAddr != "" {
			cf.MetricsAddress = metricsAddr
		}
		level := cf.Level
		if level == "" {
			level = "info"
		}
		if verbose {
			level = "debug"
		}
		logger.SetLogger(logger.NewLog(logger.WithName("spinstress"), logger.WithLevel(level)))
		return run(cmd.Context(), cf)
	},
}

func init() {
	RunCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "scenario file written by init")
	RunCmd.Flags().StringVarP(&protocol, "protocol", "p", "spin", "lock protocol: naive, cas or spin")
	RunCmd.Flags().IntVarP(&workers, "workers", "w", 0, "goroutines per run, 0 means one per CPU")
	RunCmd.Flags().Int64VarP(&iterations, "iterations", "n", 100000, "sections per goroutine")
	RunCmd.Flags().IntVarP(&repeat, "repeat", "r", 1, "repetitions of the scenario")
	RunCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	RunCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and periodic progress")
}

func run(parent context.Context, cf config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	var observer *stress.Observer
	if cf.MetricsAddress != "" {
		observer = stress.NewObserver()
	}

	eg, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	if cf.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		srv := &http.Server{Addr: cf.MetricsAddress, Handler: mux}
		eg.Go(func() error {
			logger.Log(ctx, logger.InfoLevel, map[string]interface{}{"addr": srv.Addr}, "metrics listening")
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		eg.Go(func() error {
			select {
			case <-ctx.Done():
			case <-done:
			}
			cx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return srv.Shutdown(cx)
		})
	}

	var (
		reports []stress.Report
		lost    bool
	)
	eg.Go(func() error {
		defer close(done)
		var err error
		reports, lost, err = scenarios(ctx, cf, observer)
		return err
	})

	err := eg.Wait()
	if len(reports) > 0 {
		summary(os.Stdout, reports)
	}
	if err != nil {
		return err
	}
	if lost {
		return ErrUpdatesLost
	}
	return nil
}

func scenarios(ctx context.Context, cf config.Config, observer *stress.Observer) ([]stress.Report, bool, error) {
	var reports []stress.Report
	var lost bool
	for _, sc := range cf.Scenarios {
		p, err := stress.Lookup(sc.Protocol)
		if err != nil {
			return reports, lost, err
		}
		opts := []stress.Option{stress.WithProtocol(p), stress.WithObserver(observer)}
		if sc.Workers > 0 {
			opts = append(opts, stress.Workers(sc.Workers))
		}
		if sc.Iterations > 0 {
			opts = append(opts, stress.Iterations(sc.Iterations))
		}
		if verbose {
			opts = append(opts, stress.StatInterval(time.Second))
		}
		r := stress.NewRunner(opts...)
		repeat := sc.Repeat
		if repeat < 1 {
			repeat = 1
		}
		for i := 0; i < repeat; i++ {
			rep, err := r.Run(ctx)
			if err != nil {
				return reports, lost, err
			}
			reports = append(reports, rep)
			level, msg := logger.InfoLevel, "run complete"
			if rep.Lost > 0 {
				if p.Safe {
					lost = true
					level, msg = logger.ErrorLevel, "safe protocol lost updates"
				} else {
					level, msg = logger.WarnLevel, "unsafe protocol lost updates"
				}
			}
			logger.Log(ctx, level, rep.Fields(), msg)
		}
	}
	return reports, lost, nil
}

func summary(w io.Writer, reports []stress.Report) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tWORKERS\tITERATIONS\tEXPECTED\tFINAL\tLOST\tELAPSED\tRATE")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%.0f\n",
			r.Protocol, r.Workers, r.Iterations, r.Expected, r.Final, r.Lost,
			r.Elapsed.Round(time.Microsecond), r.Rate)
	}
	tw.Flush()
}
