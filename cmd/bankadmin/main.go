// Command bankadmin inspects and repairs a data directory while the service is
// running or stopped.
package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bankline/recordbank/bank"
	"github.com/bankline/recordbank/config"
	"github.com/bankline/recordbank/export"
	"github.com/bankline/recordbank/logging"
	"github.com/bankline/recordbank/session"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	layout   bank.Layout
	sessions *session.Service
	log      *zap.Logger
}

func rootCmd() *cobra.Command {
	v := config.New()
	var (
		cfgFile string
		e       env
	)

	root := &cobra.Command{
		Use:           "bankadmin",
		Short:         "Maintenance commands for a bank data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			if e.log, err = logging.New(cfg.Log.Level, "console"); err != nil {
				return err
			}
			e.layout = bank.NewLayout(cfg.Data.Dir)
			e.sessions, err = session.NewService(e.layout.Sessions, e.log)
			return err
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/config.yaml)")
	root.PersistentFlags().String("data-dir", "", "directory holding the record files")
	if err := v.BindPFlag("data.dir", root.PersistentFlags().Lookup("data-dir")); err != nil {
		panic(err)
	}

	sessions := &cobra.Command{Use: "sessions", Short: "Inspect and clear login session locks"}
	sessions.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show every session lock file",
			Args:  cobra.NoArgs,
			RunE:  func(*cobra.Command, []string) error { return listSessions(&e) },
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Remove lock files no process holds",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				cleared, err := e.sessions.Sweep()
				for _, id := range cleared {
					fmt.Printf("cleared %s\n", id)
				}
				if err == nil && len(cleared) == 0 {
					fmt.Println("No stale sessions.")
				}
				return err
			},
		},
		unlockCmd(&e),
	)

	exportCmd := &cobra.Command{
		Use:   "export <sqlite-file>",
		Short: "Copy the record files into a SQLite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			counts, err := export.Run(e.layout, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d accounts, %d staff, %d loans, %d transactions, %d feedback entries to %s\n",
				counts.Accounts, counts.Staff, counts.Loans, counts.Transactions, counts.Feedback, args[0])
			return nil
		},
	}

	root.AddCommand(sessions, exportCmd)
	return root
}

func unlockCmd(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "unlock <kind-id>",
		Short: "Clear one session lock, for example customer-1001",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := session.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			err = e.sessions.Unlock(id, force)
			if errors.Is(err, session.ErrAlreadyHeld) {
				return fmt.Errorf("%s is logged in by a running process; use --force to clear it anyway", id)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s unlocked\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove the lock even if a live process holds it")
	return cmd
}

func listSessions(e *env) error {
	entries, err := e.sessions.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No session locks.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tSTATE\tPID\tOWNER\tSINCE")
	for _, en := range entries {
		state := "stale"
		if en.Live {
			state = "live"
		}
		since := "-"
		if !en.Holder.Since.IsZero() {
			since = en.Holder.Since.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", en.Identity, state, en.Holder.PID, en.Holder.Owner, since)
	}
	return w.Flush()
}
