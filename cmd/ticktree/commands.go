package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kestrelrobotics/ticktree"
	"github.com/kestrelrobotics/ticktree/monitor"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ticktree",
		Short:         "Run and inspect BTCPP-4 behavior trees",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newBehaviorsCmd())
	return root
}

type runOptions struct {
	treeID       string
	seedFile     string
	sets         []string
	maxTicks     int
	tickInterval time.Duration
	monitorAddr  string
	verbose      bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <tree.xml> [more.xml ...]",
		Short: "Load XML files and tick a tree to completion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTree(cmd.Context(), opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.treeID, "tree", "", "tree ID to run (default: the document's main tree)")
	cmd.Flags().StringVar(&opts.seedFile, "seed", "", "YAML file of initial blackboard values")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "initial blackboard value as key=value (repeatable)")
	cmd.Flags().IntVar(&opts.maxTicks, "max-ticks", 0, "abort after this many ticks (0 = unlimited)")
	cmd.Flags().DurationVar(&opts.tickInterval, "tick-interval", time.Millisecond, "pause between ticks")
	cmd.Flags().StringVar(&opts.monitorAddr, "monitor", "", "publish live state on this TCP address")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every node state change")
	return cmd
}

func runTree(ctx context.Context, opts *runOptions, files []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logLevel := slog.LevelWarn
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	factory := ticktree.NewFactory()
	factory.SetLogger(log)
	for _, file := range files {
		if err := factory.LoadXMLFile(file); err != nil {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}

	runtime := &ticktree.SystemRuntime{YieldInterval: opts.tickInterval}
	var (
		tree *ticktree.Tree
		err  error
	)
	if opts.treeID != "" {
		tree, err = factory.CreateTree(opts.treeID, ticktree.WithRuntime(runtime), ticktree.WithLogger(log))
	} else {
		tree, err = factory.CreateMainTree(ticktree.WithRuntime(runtime), ticktree.WithLogger(log))
	}
	if err != nil {
		return err
	}

	if err := seedBlackboard(tree, opts); err != nil {
		return err
	}

	if opts.verbose {
		tree.OnStateChange(func(c ticktree.StateChange) {
			log.Debug("state", "node", c.NodeName, "uid", c.NodeUID, "from", c.Previous.String(), "to", c.Current.String())
		})
	}

	if opts.monitorAddr != "" {
		srv, err := monitor.Listen(tree, opts.monitorAddr, log)
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		defer srv.Close()
		go func() {
			if err := srv.Serve(ctx); err != nil {
				log.Error("monitor stopped", "error", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "monitor listening on %s\n", srv.Addr())
	}

	verdict, err := tickToCompletion(ctx, tree, opts.maxTicks)
	if err != nil {
		if haltErr := tree.Halt(context.WithoutCancel(ctx)); haltErr != nil {
			log.Error("halt failed", "error", haltErr)
		}
		return err
	}
	printVerdict(tree.ID(), verdict)
	if verdict != ticktree.Success {
		os.Exit(1)
	}
	return nil
}

func tickToCompletion(ctx context.Context, tree *ticktree.Tree, maxTicks int) (ticktree.Status, error) {
	if maxTicks <= 0 {
		return tree.TickWhileRunning(ctx)
	}
	for tick := 0; tick < maxTicks; tick++ {
		st, err := tree.TickOnce(ctx)
		if err != nil || st != ticktree.Running {
			return st, err
		}
		if err := tree.Runtime().Yield(ctx); err != nil {
			return ticktree.Failure, err
		}
	}
	return ticktree.Failure, fmt.Errorf("tree still running after %d ticks", maxTicks)
}

func seedBlackboard(tree *ticktree.Tree, opts *runOptions) error {
	bb := tree.Blackboard()
	if opts.seedFile != "" {
		raw, err := os.ReadFile(opts.seedFile)
		if err != nil {
			return err
		}
		var seed map[string]any
		if err := yaml.Unmarshal(raw, &seed); err != nil {
			return fmt.Errorf("parsing %s: %w", opts.seedFile, err)
		}
		for key, v := range seed {
			if err := bb.Set(key, normalizeSeed(v)); err != nil {
				return err
			}
		}
	}
	for _, kv := range opts.sets {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: want key=value", kv)
		}
		if err := bb.Set(key, val); err != nil {
			return err
		}
	}
	return nil
}

// normalizeSeed lifts YAML scalar types into the runtime's value
// domain.
func normalizeSeed(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case uint64:
		return int64(t)
	default:
		return v
	}
}

func printVerdict(treeID string, verdict ticktree.Status) {
	c := color.New(color.FgRed, color.Bold)
	if verdict == ticktree.Success {
		c = color.New(color.FgGreen, color.Bold)
	}
	fmt.Printf("%s: %s\n", treeID, c.Sprint(verdict.String()))
}

func newBehaviorsCmd() *cobra.Command {
	var asXML bool
	cmd := &cobra.Command{
		Use:   "behaviors",
		Short: "List the registered behaviors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory := ticktree.NewFactory()
			if asXML {
				out, err := factory.TreeNodesModelXML()
				if err != nil {
					return err
				}
				fmt.Print(out)
				return nil
			}
			kindColor := color.New(color.FgCyan)
			for _, reg := range factory.Registrations() {
				fmt.Printf("%-12s %s", kindColor.Sprint(reg.Kind.String()), reg.Name)
				if len(reg.Ports) > 0 {
					names := make([]string, 0, len(reg.Ports))
					for _, p := range reg.Ports {
						names = append(names, p.Name)
					}
					fmt.Printf("  (%s)", strings.Join(names, ", "))
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asXML, "xml", false, "emit the TreeNodesModel XML")
	return cmd
}
