package secrets

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/opwatch/opwatch/cmd/config"
	"github.com/opwatch/opwatch/internal/securestore"
	"github.com/opwatch/opwatch/internal/store/sqlite"
	"github.com/opwatch/opwatch/internal/util"
	"github.com/opwatch/opwatch/pkg/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// withStore opens the secure store for the duration of fn.
type withStore func(cmd *cobra.Command, fn func(*securestore.SecureStore) error) error

func NewCmd(cfg *config.SecretsConfig, vip *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "secrets",
		Aliases: []string{"secret"},
		Short:   "Manage secrets in the secure store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("config")
			if err := config.Read(vip, file); err != nil {
				return err
			}
			if err := config.Decode(vip, cfg); err != nil {
				return err
			}

			logger, err := log.New(os.Stderr, cfg.LogLevel, "text")
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	run := func(cmd *cobra.Command, fn func(*securestore.SecureStore) error) error {
		store, err := sqlite.New(&cfg.Store, nil)
		if err != nil {
			return err
		}
		if err := store.Start(nil); err != nil {
			return err
		}
		defer util.DeferAndLog(store.Stop)

		secure, err := securestore.New(&cfg.SecureStore, store)
		if err != nil {
			return err
		}

		return fn(secure)
	}

	// Add subcommands
	cmd.AddCommand(SetSecretCmd(run))
	cmd.AddCommand(GetSecretCmd(run))
	cmd.AddCommand(DeleteSecretCmd(run))
	cmd.AddCommand(KeygenCmd())

	// Flags
	cmd.PersistentFlags().StringP("config", "c", "", "config file (default opwatch.yaml)")
	if err := config.Bind(cfg, cmd.PersistentFlags(), vip); err != nil {
		panic(err)
	}

	return cmd
}

func SetSecretCmd(run withStore) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(secure *securestore.SecureStore) error {
				if err := secure.SetItem(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s\n", args[0])
				return nil
			})
		},
	}
}

func GetSecretCmd(run withStore) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(secure *securestore.SecureStore) error {
				value, ok, err := secure.GetItem(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("secret not found: %s", args[0])
				}

				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}
}

func DeleteSecretCmd(run withStore) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(secure *securestore.SecureStore) error {
				if err := secure.DeleteItem(cmd.Context(), args[0]); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", args[0])
				return nil
			})
		},
	}
}

func KeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new key for --secure-store-key-file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := securestore.GenerateKey()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
