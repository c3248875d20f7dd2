package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/lexops/accessgate/internal/gate"
	"github.com/lexops/accessgate/internal/gate/validate"
	"github.com/lexops/accessgate/internal/logging"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errTokenNotValid makes check-token exit non-zero without a usage dump.
var errTokenNotValid = errors.New("token not valid")

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "accessgate",
		Short:         "accessgate - payment webhook ingestion and access token validation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return gate.Run(cmd.Context(), Version)
		},
	}
	rootCmd.AddCommand(newServeCmd(), newVersionCmd(), newCheckTokenCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return gate.Run(cmd.Context(), Version)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accessgate %s\n", Version)
			if BuildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", BuildTime)
			}
			if GitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", GitCommit)
			}
		},
	}
}

func newCheckTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-token <token>",
		Short: "Validate a token against the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gate.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "accessgate-cli"})

			valid, err := checkToken(cmd.Context(), cfg, args[0], cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if !valid {
				return errTokenNotValid
			}
			return nil
		},
	}
}

type checkTokenOutput struct {
	Valid        bool   `json:"valid"`
	Code         string `json:"code"`
	Status       int    `json:"status"`
	Email        string `json:"email,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Message      string `json:"message,omitempty"`
}

func checkToken(ctx context.Context, cfg *gate.Config, token string, out io.Writer) (bool, error) {
	store, err := gate.OpenStore(ctx, cfg)
	if err != nil {
		return false, err
	}
	var finder validate.Finder
	if store != nil {
		defer store.Close()
		finder = store
	}

	v := validate.New(finder).Check(ctx, token)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(checkTokenOutput{
		Valid:        v.Valid(),
		Code:         string(v.Code),
		Status:       v.Status,
		Email:        v.Email,
		CustomerName: v.CustomerName,
		Message:      v.Message,
	}); err != nil {
		return false, fmt.Errorf("write verdict: %w", err)
	}
	return v.Valid(), nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errTokenNotValid) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
