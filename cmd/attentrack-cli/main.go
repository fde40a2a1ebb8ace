package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"attentrack/internal/ipc"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	socketPath   string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "attentrack-cli",
	Short: "CLI tool to interact with the attentrack daemon",
	Long:  `A command-line interface to inspect live sessions, read stored analyses and drive the indicator device of a running attentrack daemon via its Unix socket.`,
}

// --- Client Helper Functions ---

// request sends one command and waits for the daemon's response.
func request(cmd ipc.Command) (ipc.Response, error) {
	var resp ipc.Response
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return resp, fmt.Errorf("connecting to daemon socket (%s): %w", socketPath, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		return resp, fmt.Errorf("sending command: %w", err)
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return resp, fmt.Errorf("receiving response: %w", err)
	}
	return resp, nil
}

func sendCommand(cmd ipc.Command) {
	resp, err := request(cmd)
	if err != nil {
		log.Fatalf("Error: %v\nIs the attentrack daemon running?", err)
	}

	if !resp.Success {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1)
	}
	if resp.Message != "" {
		fmt.Println("Success:", resp.Message)
	}
	if resp.Data != nil {
		if err := printData(resp.Data); err != nil {
			fmt.Println("Data (raw):", resp.Data)
		}
	}
}

func printData(data interface{}) error {
	switch outputFormat {
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		out, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	}
	return nil
}

// decodeData converts the generic response payload into out.
func decodeData(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// --- Command Definitions ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the attentrack daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPing})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List live sessions and their current phase",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdGetStatus})
	},
}

var analysisCmd = &cobra.Command{
	Use:   "analysis",
	Short: "Read stored session analyses",
}

var analysisGetCmd = &cobra.Command{
	Use:   "get <session-id>",
	Short: "Show the analysis of one session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{
			Name: ipc.CmdGetAnalysis,
			Args: ipc.GetAnalysisArgs{SessionID: args[0]},
		})
	},
}

var analysisListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent analyses",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		sendCommand(ipc.Command{
			Name: ipc.CmdListAnalyses,
			Args: ipc.ListAnalysesArgs{Limit: limit},
		})
	},
}

var indicatorCmd = &cobra.Command{
	Use:   "indicator",
	Short: "Drive the indicator device",
}

var indicatorOnCmd = &cobra.Command{
	Use:   "on",
	Short: "Switch the indicator on",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdSetIndicator, Args: ipc.SetIndicatorArgs{On: true}})
	},
}

var indicatorOffCmd = &cobra.Command{
	Use:   "off",
	Short: "Switch the indicator off",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdSetIndicator, Args: ipc.SetIndicatorArgs{On: false}})
	},
}

var indicatorSendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Write a raw line to the indicator device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdSetIndicator, Args: ipc.SetIndicatorArgs{Text: args[0]}})
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", ipc.SocketPath, "Path to the daemon's Unix socket")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format for data (json, yaml)")

	// --- Analysis Commands ---
	analysisListCmd.Flags().IntP("limit", "n", 20, "Maximum number of analyses to list (0 for all)")
	analysisCmd.AddCommand(analysisGetCmd)
	analysisCmd.AddCommand(analysisListCmd)
	rootCmd.AddCommand(analysisCmd)

	// --- Indicator Commands ---
	indicatorCmd.AddCommand(indicatorOnCmd)
	indicatorCmd.AddCommand(indicatorOffCmd)
	indicatorCmd.AddCommand(indicatorSendCmd)
	rootCmd.AddCommand(indicatorCmd)

	// --- Other Commands ---
	watchCmd.Flags().DurationP("interval", "i", time.Second, "Refresh interval")
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
