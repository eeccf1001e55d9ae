// Command neonctl plays Neon Run against a running server.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ashureev/neonrun/internal/api"
	"github.com/ashureev/neonrun/internal/domain"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

var serverURL string

var rootCmd = &cobra.Command{
	Use:          "neonctl",
	Short:        "neonctl - play Neon Run from the terminal",
	Long:         `neonctl starts sessions, submits actions and reads history from a Neon Run server.`,
	SilenceUsage: true,
}

func init() {
	def := os.Getenv("NEONRUN_SERVER")
	if def == "" {
		def = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", def, "Neon Run server URL (env NEONRUN_SERVER)")
}

func client() *api.Client {
	return api.NewClient(serverURL)
}

// formatStats renders stats as sorted key=value pairs.
func formatStats(stats domain.Stats) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+stats[k].String())
	}
	return strings.Join(parts, " ")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
