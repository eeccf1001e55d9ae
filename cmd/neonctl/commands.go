package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/neonrun/internal/api"
	"github.com/ashureev/neonrun/internal/domain"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := client().Start(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session: %s\n\n%s\n", res.SessionID, res.Message.Content)
		return nil
	},
}

var actCmd = &cobra.Command{
	Use:   "act <sessionId> <action...>",
	Short: "Submit an action to a session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().Act(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		printTurn(cmd.OutOrStdout(), res)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <sessionId>",
	Short: "Print a session's history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client().History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "session: %s  status: %s  [%s]\n\n", res.Session.SessionID, res.Session.Status, formatStats(res.Session.Stats))
		for _, m := range res.Messages {
			if m.Role == domain.RoleUser {
				fmt.Fprintf(out, "> %s\n\n", m.Content)
				continue
			}
			fmt.Fprintf(out, "%s\n\n", m.Content)
		}
		return nil
	},
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start a session and play interactively",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := client()
		out := cmd.OutOrStdout()

		start, err := c.Start(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "session: %s\n\n%s\n", start.SessionID, start.Message.Content)

		scanner := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(out, "> ")
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			action := strings.TrimSpace(scanner.Text())
			if action == "" {
				continue
			}

			res, err := c.Act(cmd.Context(), start.SessionID, action)
			if err != nil {
				var se *api.StatusError
				if errors.As(err, &se) && se.StatusCode < 500 {
					fmt.Fprintf(out, "! %s\n", se.Message)
					continue
				}
				return err
			}
			printTurn(out, res)
			if res.Status.IsTerminal() {
				fmt.Fprintf(out, "\n*** %s ***\n", strings.ToUpper(strings.ReplaceAll(string(res.Status), "_", " ")))
				return nil
			}
		}
	},
}

func printTurn(out io.Writer, res *api.ActionResponse) {
	fmt.Fprintf(out, "\n%s\n\n[%s] status: %s\n", res.Message.Content, formatStats(res.Metadata), res.Status)
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(actCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(playCmd)
}
