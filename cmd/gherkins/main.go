// gherkins is a small deployment-automation CLI: it loads a YAML
// deployment plan and runs its stages, all of them or a subset selected
// by name, against the local shell and remote SSH hosts.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/sgogulapati/gherkins/internal/lg"
	"github.com/sgogulapati/gherkins/pkg/config"
	"github.com/sgogulapati/gherkins/pkg/pipeline"
	"github.com/sgogulapati/gherkins/pkg/remote"
	"github.com/sgogulapati/gherkins/pkg/shell"
)

type rootFlags struct {
	planPath  string
	debug     bool
	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "gherkins",
		Short:         "Run deployment pipelines from a YAML plan",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&flags.planPath, "plan", "deploy.yaml", "path to the deployment plan")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "console", "json or console")
	root.AddCommand(newRunCmd(flags), newStagesCmd(flags))
	return root
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		stopOnError bool
		waitHosts   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run [STAGE...]",
		Short: "Run all stages, or only the named ones, in plan order",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := lg.New(&lg.Config{ServiceName: "gherkins", Debug: flags.debug, Format: flags.logFormat})
			defer logger.Sync()
			return runStages(flags.planPath, args, stopOnError, waitHosts, logger)
		},
	}
	cmd.Flags().BoolVar(&stopOnError, "stop-on-error", false, "abort a stage when a command exits non-zero")
	cmd.Flags().DurationVar(&waitHosts, "wait", 0, "wait up to this long for remote hosts to accept connections")
	return cmd
}

func newStagesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the stages declared in the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := config.Load(flags.planPath)
			if err != nil {
				return err
			}
			for i, st := range plan.Stages {
				target := st.Target
				if st.IsLocal() {
					target = "local"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s (%s)\n", i+1, st.Name, target)
			}
			return nil
		},
	}
}

func runStages(planPath string, names []string, stopOnError bool, waitHosts time.Duration, logger lg.Logger) error {
	plan, err := config.Load(planPath)
	if err != nil {
		return err
	}

	if waitHosts > 0 {
		for name, h := range plan.Hosts {
			if err := waitForHost(h, waitHosts, logger); err != nil {
				return fmt.Errorf("host %s: %w", name, err)
			}
		}
	}

	local := shell.NewExecutor(shell.Config{StopOnError: stopOnError, Logger: logger})
	defer local.Close()

	conns := make(map[string]*remote.Connection)
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	connFor := func(name string) *remote.Connection {
		if c, ok := conns[name]; ok {
			return c
		}
		h := plan.Hosts[name]
		c := remote.NewWithConfig(remote.Config{
			Host:        h.Host,
			User:        h.User,
			KeyFile:     h.KeyFile,
			Port:        h.Port,
			StopOnError: stopOnError,
			Logger:      logger,
		})
		conns[name] = c
		return c
	}

	pl := pipeline.New(pipeline.WithLogger(logger))
	for i := range plan.Stages {
		st := &plan.Stages[i]
		body := func() error {
			if st.IsLocal() {
				return local.Execute(st.Script)
			}
			conn := connFor(st.Target)
			for _, cp := range st.Copy {
				if err := conn.Copy(cp.Local, cp.Remote); err != nil {
					return err
				}
			}
			if strings.TrimSpace(st.Script) != "" {
				return conn.Exec(st.Script)
			}
			return nil
		}
		if err := pl.Register(st.Name, body); err != nil {
			return err
		}
	}

	if len(names) == 0 {
		return pl.Run()
	}
	return pl.RunNamed(names)
}

// waitForHost probes the host's SSH port with exponential backoff until
// it accepts a TCP connection or the elapsed budget runs out. The run
// itself stays retry-free; this only delays its start.
func waitForHost(h config.Host, budget time.Duration, logger lg.Logger) error {
	port := h.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(h.Host, strconv.Itoa(port))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = budget

	return backoff.Retry(func() error {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			logger.Debug("host not reachable yet", lg.String("addr", addr), lg.Err(err))
			return err
		}
		conn.Close()
		return nil
	}, b)
}
