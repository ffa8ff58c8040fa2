package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mistakeknot/concord/internal/agent"
	"github.com/mistakeknot/concord/internal/auth"
	"github.com/mistakeknot/concord/internal/cli"
	"github.com/mistakeknot/concord/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "concord",
		Short: "Calendar scheduling agent that coordinates meetings with peer agents",
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(initCmd())
	cmd.AddCommand(initConfigCmd())
	return cmd
}

func initConfigCmd() *cobra.Command {
	var agentID, userID string

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a starter configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath()
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := cli.InitConfigFile(path, agentID, userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s for agent %s\n", path, cfg.Agent.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent identifier (generated when empty)")
	cmd.Flags().StringVar(&userID, "user-id", "", "user this agent schedules for")
	return cmd
}

func serveCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduling agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(log)

			if configPath == "" {
				configPath = config.ResolvePath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			a, err := agent.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func initCmd() *cobra.Command {
	var secretFile string

	cmd := &cobra.Command{
		Use:   "init-secret",
		Short: "Create the shared secret file used to authenticate peer agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := auth.BootstrapSecret(secretFile)
			if err != nil {
				return err
			}
			if result.Created {
				fmt.Fprintf(cmd.OutOrStdout(), "secret written to %s\n", result.SecretFile)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "secret already exists at %s\n", result.SecretFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secretFile, "secret-file", "concord.secret", "path to the shared secret file")
	return cmd
}
