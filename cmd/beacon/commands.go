package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/birbparty/aleo-beacon/aleo"
)

// query wraps a subcommand body that needs a client
func query(opts *options, run func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := opts.client()
		if err != nil {
			return err
		}
		return run(cmd, client, args)
	}
}

func newHeightCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "Print the latest block height",
		Args:  cobra.NoArgs,
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], _ []string) error {
			height, err := client.LatestHeight(cmd.Context())
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), "Height", height)
			return nil
		}),
	}
}

func newHashCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the latest block hash",
		Args:  cobra.NoArgs,
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], _ []string) error {
			hash, err := client.LatestHash(cmd.Context())
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), "Hash", hash)
			return nil
		}),
	}
}

func newBlockCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "block <height|latest>",
		Short: "Print a block as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			var (
				block *aleo.Block
				err   error
			)
			if args[0] == "latest" {
				block, err = client.LatestBlock(cmd.Context())
			} else {
				height, perr := parseHeight(args[0])
				if perr != nil {
					return perr
				}
				block, err = client.GetBlock(cmd.Context(), height)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), block)
		}),
	}
}

func newBlocksCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "blocks <start> <end>",
		Short: fmt.Sprintf("Print blocks in [start, end), at most %d", aleo.MaxBlockRange),
		Args:  cobra.ExactArgs(2),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			start, err := parseHeight(args[0])
			if err != nil {
				return err
			}
			end, err := parseHeight(args[1])
			if err != nil {
				return err
			}
			blocks, err := client.GetBlocks(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), blocks)
		}),
	}
}

func newTransactionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "tx <id>",
		Aliases: []string{"transaction"},
		Short:   "Print a transaction as JSON",
		Args:    cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			tx, err := client.GetTransaction(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tx)
		}),
	}
}

func newTransactionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "txs <height>",
		Short: "Print the confirmed transactions of a block",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			height, err := parseHeight(args[0])
			if err != nil {
				return err
			}
			txs, err := client.GetTransactions(cmd.Context(), height)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), txs)
		}),
	}
}

func newMempoolCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mempool",
		Short: "Print unconfirmed transactions",
		Args:  cobra.NoArgs,
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], _ []string) error {
			txs, err := client.GetMemoryPoolTransactions(cmd.Context())
			if err != nil {
				return err
			}
			if len(txs) == 0 {
				color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "Memory pool is empty")
			}
			return printJSON(cmd.OutOrStdout(), txs)
		}),
	}
}

func newProgramCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "program <id>",
		Short: "Print the source of a deployed program",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			source, err := client.GetProgram(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), source)
			return err
		}),
	}
}

func newFindBlockCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "find-block <transaction-id>",
		Short: "Print the hash of the block containing a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			hash, err := client.FindBlockHash(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), "Block hash", hash)
			return nil
		}),
	}
}

func newFindTransitionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "find-transition <input-or-output-id>",
		Short: "Print the transition that consumed or produced an id",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			id, err := client.FindTransitionID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), "Transition", id)
			return nil
		}),
	}
}

func newStatePathCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state-path <commitment>",
		Short: "Print the state path of a record commitment",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			path, err := client.GetStatePath(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), "State path", path)
			return nil
		}),
	}
}

func newBroadcastCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "broadcast <file|->",
		Short: "Broadcast a signed transaction read from a file or stdin",
		Args:  cobra.ExactArgs(1),
		RunE: query(opts, func(cmd *cobra.Command, client *aleo.Client[aleo.Testnet3], args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			var tx aleo.Transaction
			if err := json.Unmarshal(data, &tx); err != nil {
				return fmt.Errorf("invalid transaction JSON: %w", err)
			}
			if tx.ID == "" {
				return fmt.Errorf("transaction has no id")
			}

			id, err := client.BroadcastTransaction(cmd.Context(), &tx)
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), "Broadcast", id)
			return nil
		}),
	}
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mode",
		Short: "Print the HTTP transport compiled into this binary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printValue(cmd.OutOrStdout(), "Transport", aleo.Mode().String())
		},
	}
}
