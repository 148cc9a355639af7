// Command dabench runs twin-experiment benchmarks of the ensemble
// analysis methods and manages their result artifacts.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sukhreens/DataAssimilationBenchmarks/sim"
	"github.com/sukhreens/DataAssimilationBenchmarks/store"
)

func main() {
	root := &cobra.Command{
		Use:           "dabench",
		Short:         "ensemble data-assimilation twin-experiment benchmarks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(runCmd(), lsCmd(), exportCmd(), plotCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dabench:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		configPath string
		dbPath     string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the experiments of a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			configs, err := sim.LoadConfigs(configPath)
			if err != nil {
				return err
			}

			outcomes := sim.RunSweep(configs, workers, logger)

			var db *store.Store
			if dbPath != "" {
				db, err = store.Open(dbPath)
				if err != nil {
					return err
				}
				defer db.Close()
			}

			failed := 0
			for _, out := range outcomes {
				if out.Err != nil {
					failed++
					continue
				}
				if db != nil {
					if err := db.Put(out.Result); err != nil {
						return err
					}
				}
			}
			logger.Info("sweep complete",
				zap.Int("experiments", len(outcomes)),
				zap.Int("failed", failed),
			)
			if failed == len(outcomes) {
				return fmt.Errorf("all %d experiments failed", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment configuration file")
	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "results database directory")
	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "parallel experiment workers")
	cmd.MarkFlagRequired("config")

	return cmd
}

func lsCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "list stored result artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			names, err := db.Names()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "results database directory")
	cmd.MarkFlagRequired("db")

	return cmd
}

func exportCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "print a stored result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := db.Get(args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "results database directory")
	cmd.MarkFlagRequired("db")

	return cmd
}

func plotCmd() *cobra.Command {
	var (
		dbPath string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "plot <name>",
		Short: "plot the RMSE curves of a stored result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := db.Get(args[0])
			if err != nil {
				return err
			}

			if out == "" {
				out = args[0] + ".png"
			}
			return sim.SavePlot(res, out)
		},
	}

	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "results database directory")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output image path")
	cmd.MarkFlagRequired("db")

	return cmd
}
