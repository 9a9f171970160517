package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync"
	"github.com/vovakirdan/teamsync-sdk/teamsync-go/teamsync/store"
)

func init() {
	stateCmd.AddCommand(stateShowCmd, stateClearCmd)
	rootCmd.AddCommand(stateCmd)
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect or clear the persisted session keys",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted session keys",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, key := range store.SessionKeys {
			v, err := st.Get(cmd.Context(), key)
			if err != nil {
				return err
			}
			if key == store.KeyAccessToken && v != "" {
				v = redact(v)
			}
			if v == "" {
				v = "-"
			}
			fmt.Fprintf(w, "%s\t%s\n", key, v)
		}
		return w.Flush()
	},
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the stored session (sign out)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Delete(cmd.Context(), store.SessionKeys...); err != nil {
			return err
		}
		fmt.Println("session cleared")
		return nil
	},
}

// openStore opens the configured store. Connection settings may be
// missing here, so the config is read without validation.
func openStore(cmd *cobra.Command) (store.Store, error) {
	path, _ := cmd.Flags().GetString("config")
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := teamsync.ReadConfig(path, envFiles...)
	if err != nil {
		return nil, err
	}
	return store.Open(cmd.Context(), cfg.Store)
}

func redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
