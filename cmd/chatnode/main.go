package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/cli"
	"github.com/leonletto/chatnode/internal/identity"
	"github.com/leonletto/chatnode/internal/transcript"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagConfig  string
	flagEnvFile string
	flagAddr    string
	flagJSON    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatnode",
		Short: "Peer-to-peer chat relay node",
		Long: `chatnode runs a chat node that archives conversations with other nodes,
forwards outbound messages to them over the peer channel and mirrors every
new message to a live WebSocket viewer.

Client commands (send, history, watch, status, mcp) talk to a running
node's HTTP address.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "Env file loaded before reading CHATNODE_* variables")
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", defaultNodeAddr(), "HTTP address of the node (or CHATNODE_HTTP_ADDR env var)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("chatnode v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultNodeAddr() string {
	if addr := os.Getenv("CHATNODE_HTTP_ADDR"); addr != "" {
		return addr
	}
	return "localhost:8080"
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getClient() (*cli.Client, error) {
	return cli.NewClient(flagAddr)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send TARGET MESSAGE",
		Short: "Send a message to another node",
		Long: `Send a message to the node named TARGET through the local node.

The local node archives the message under TARGET even when TARGET cannot be
reached; delivery is best effort.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, message := args[0], args[1]
			if err := identity.ValidateNodeName(target); err != nil {
				return err
			}

			client, err := getClient()
			if err != nil {
				return err
			}
			if err := client.Send(cmd.Context(), target, message); err != nil {
				return err
			}

			if flagJSON {
				return printJSON(map[string]string{"status": "sent", "to": target})
			}
			fmt.Printf("✓ Sent to %s\n", target)
			return nil
		},
	}
	return cmd
}

func historyCmd() *cobra.Command {
	var exportPath, fromPath string

	cmd := &cobra.Command{
		Use:   "history [COUNTERPARTY]",
		Short: "Show archived conversations",
		Long: `Show the node's archived conversations, or one conversation when
COUNTERPARTY is given.

--export appends the messages to a JSONL transcript instead of printing them.
--from reads a transcript written by --export or watch --out without
contacting a node.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if exportPath != "" && fromPath != "" {
				return fmt.Errorf("--export and --from cannot be combined")
			}

			counterparty := ""
			if len(args) == 1 {
				counterparty = args[0]
			}

			var snap archive.Archive
			if fromPath != "" {
				s, err := transcript.ReadArchive(cmd.Context(), fromPath)
				if err != nil {
					return err
				}
				snap = s
			} else {
				client, err := getClient()
				if err != nil {
					return err
				}
				s, err := client.History(cmd.Context())
				if err != nil {
					return err
				}
				snap = s
			}

			if exportPath != "" {
				return exportHistory(exportPath, snap, counterparty)
			}

			if flagJSON {
				if counterparty != "" {
					return printJSON(snap[counterparty])
				}
				return printJSON(snap)
			}
			opts := cli.HistoryFormatOptions{Counterparty: counterparty}
			if cli.IsTerminal() {
				opts.Width = cli.GetTerminalWidth()
			}
			fmt.Print(cli.FormatHistory(snap, opts))
			return nil
		},
	}

	cmd.Flags().StringVar(&exportPath, "export", "", "Append messages to this JSONL transcript")
	cmd.Flags().StringVar(&fromPath, "from", "", "Read history from a JSONL transcript instead of a node")
	return cmd
}

func exportHistory(path string, snap archive.Archive, counterparty string) error {
	w, err := transcript.NewWriter(path)
	if err != nil {
		return err
	}
	n, err := w.WriteArchive(snap, counterparty)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("export to %s: %w", path, err)
	}

	if flagJSON {
		return printJSON(map[string]any{"exported": n, "path": path})
	}
	noun := "messages"
	if n == 1 {
		noun = "message"
	}
	fmt.Printf("✓ Exported %d %s to %s\n", n, noun, path)
	return nil
}

func watchCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new messages as they are archived",
		Long: `Connect to the node's live channel and print every new message.

A node has a single live channel: connecting replaces any other viewer,
such as an open web UI. --out also appends each message to a JSONL
transcript readable with history --from.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}

			var out *transcript.Writer
			if outPath != "" {
				out, err = transcript.NewWriter(outPath)
				if err != nil {
					return err
				}
				defer func() { _ = out.Close() }()
			}

			ctx, cancel := signalContext()
			defer cancel()

			width := 0
			if cli.IsTerminal() {
				width = cli.GetTerminalWidth()
			}
			if !flagJSON {
				fmt.Fprintf(os.Stderr, "Watching %s (Ctrl-C to stop)\n", client.WatchURL())
			}
			return client.Watch(ctx, func(m chat.NewMessage) {
				if out != nil {
					if err := out.Append(m); err != nil {
						fmt.Fprintf(os.Stderr, "Warning: transcript: %v\n", err)
					}
				}
				if flagJSON {
					_ = json.NewEncoder(os.Stdout).Encode(m)
					return
				}
				fmt.Print(cli.FormatEvent(&m, width))
			})
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Also append each message to this JSONL transcript")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show node status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getClient()
			if err != nil {
				return err
			}
			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(h)
			}
			fmt.Printf("Node:          %s (%s)\n", h.Node, h.Status)
			fmt.Printf("Uptime:        %s\n", h.Uptime)
			fmt.Printf("Conversations: %d\n", h.Conversations)
			if h.LiveChannel != "" {
				fmt.Printf("Live channel:  %s (%d connected)\n", h.LiveChannel, h.Viewers)
			} else {
				fmt.Printf("Live channel:  none\n")
			}
			return nil
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show chatnode version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagJSON {
				return printJSON(map[string]string{
					"version":    Version,
					"build":      Build,
					"go_version": goruntime.Version(),
				})
			}
			fmt.Printf("chatnode v%s (build: %s, %s)\n", Version, Build, goruntime.Version())
			return nil
		},
	}
	return cmd
}
