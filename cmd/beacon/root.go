package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/birbparty/aleo-beacon/aleo"
)

var (
	labelColor = color.New(color.FgCyan, color.Bold)
	valueColor = color.New(color.FgGreen)
)

// options are the persistent flags shared by every subcommand
type options struct {
	url       string
	network   string
	localPort string
	timeout   time.Duration
}

// client builds a Beacon client from the flags. --local-port wins over --url.
func (o *options) client() (*aleo.Client[aleo.Testnet3], error) {
	baseURL := o.url
	if o.localPort != "" {
		baseURL = "http://localhost:" + o.localPort
	}
	return aleo.NewClientWithConfig[aleo.Testnet3](baseURL, o.network, aleo.DefaultConfig().WithTimeout(o.timeout))
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "beacon",
		Short: "Query an Aleo Beacon API node",
		Long: `beacon reads blocks, transactions and programs from an Aleo Beacon API
node and broadcasts signed transactions to it.

Examples:
  beacon height                        # Latest block height
  beacon block 12345                   # Block at a height
  beacon blocks 100 150                # Up to 50 blocks, end exclusive
  beacon --local-port 3030 mempool     # Query a node on localhost
  beacon broadcast tx.json             # Broadcast a transaction from a file
  cat tx.json | beacon broadcast -     # ... or from stdin`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.url, "url", aleo.Testnet3BaseURL, "Beacon API base URL")
	flags.StringVarP(&opts.network, "network", "n", aleo.Testnet3NetworkID, "network id used in request paths")
	flags.StringVar(&opts.localPort, "local-port", "", "query http://localhost:<port> instead of --url")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	root.AddCommand(
		newHeightCmd(opts),
		newHashCmd(opts),
		newBlockCmd(opts),
		newBlocksCmd(opts),
		newTransactionCmd(opts),
		newTransactionsCmd(opts),
		newMempoolCmd(opts),
		newProgramCmd(opts),
		newFindBlockCmd(opts),
		newFindTransitionCmd(opts),
		newStatePathCmd(opts),
		newBroadcastCmd(opts),
		newModeCmd(),
	)
	return root
}

func parseHeight(raw string) (uint32, error) {
	h, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q", raw)
	}
	return uint32(h), nil
}

// printValue prints a labelled scalar result
func printValue(w io.Writer, label string, value interface{}) {
	labelColor.Fprintf(w, "%s: ", label)
	valueColor.Fprintf(w, "%v\n", value)
}

// printJSON prints v as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
