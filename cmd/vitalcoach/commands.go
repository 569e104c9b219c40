package main

import (
	"github.com/spf13/cobra"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage users",
	}

	var displayName string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsersCreate(cmd.Context(), args[0], displayName)
		},
	}
	create.Flags().StringVar(&displayName, "name", "", "display name (defaults to the username)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsersList(cmd.Context())
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage per-user provider API keys",
	}

	var provider string
	set := &cobra.Command{
		Use:   "set <username>",
		Short: "Store a provider API key for a user (read from stdin)",
		Long: `Reads the API key from stdin so it never appears in shell history,
seals it under VITALCOACH_MASTER_KEY, and stores the ciphertext.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeySet(cmd.Context(), args[0], provider)
		},
	}
	set.Flags().StringVar(&provider, "provider", "anthropic", "provider id: anthropic, openai, or google")

	cmd.AddCommand(set)
	return cmd
}

func newChatCmd() *cobra.Command {
	var message, verbosity, specialist string
	cmd := &cobra.Command{
		Use:   "chat <username>",
		Short: "Chat with the coach (interactive unless --message is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), args[0], message, verbosity, specialist)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	cmd.Flags().StringVar(&verbosity, "verbosity", "", "reply register: summarized or straight")
	cmd.Flags().StringVar(&specialist, "specialist", "", "pin the responding specialist")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var runType, date string
	var force bool
	cmd := &cobra.Command{
		Use:   "analyze <username>",
		Short: "Run a longitudinal analysis window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), args[0], runType, date, force)
		},
	}
	cmd.Flags().StringVar(&runType, "type", "daily", "run type: daily, weekly, or monthly")
	cmd.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD (default: now)")
	cmd.Flags().BoolVar(&force, "force", false, "re-run even if the window was already analyzed")
	return cmd
}

func newProposalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "Review analysis proposals",
	}

	list := &cobra.Command{
		Use:   "list <username>",
		Short: "List pending proposals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProposalsList(cmd.Context(), args[0])
		},
	}

	var note string
	action := func(verb string) *cobra.Command {
		c := &cobra.Command{
			Use:   verb + " <username> <proposal-id>",
			Short: verb + " a proposal",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProposalAction(cmd.Context(), verb, args[0], args[1], note)
			},
		}
		c.Flags().StringVar(&note, "note", "", "review note")
		return c
	}

	cmd.AddCommand(list, action("approve"), action("reject"), action("apply"), action("undo"))
	return cmd
}

func newServeCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis scheduler and metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address for the Prometheus /metrics endpoint")
	return cmd
}
