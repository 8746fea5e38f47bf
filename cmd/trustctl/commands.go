package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Masterplan16/friday-trust/internal/auth"
	"github.com/Masterplan16/friday-trust/internal/expiry"
	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/metrics"
	"github.com/Masterplan16/friday-trust/internal/trust"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trustctl",
		Short:         "Operate action trust levels, approvals and correction rules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLevelsCmd(),
		newPromoteCmd(),
		newSetLevelCmd(),
		newAggregateCmd(),
		newExpireCmd(),
		newPatternsCmd(),
		newMigrateCmd(),
		newHashKeyCmd(),
	)
	return root
}

func newLevelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "List the configured trust level of every action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			for _, l := range e.registry.Levels() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\t%s\n", l.Module, l.Action, l.Level)
			}
			return nil
		},
	}
}

func newPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote <module> <action>",
		Short: "Promote an action one trust level if its recent accuracy allows it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			res, err := trust.NewPromoter(e.registry, e.db, e.cfg.OperatorID, e.logger).Promote(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}

func newSetLevelCmd() *cobra.Command {
	var reason, operator string
	cmd := &cobra.Command{
		Use:   "set-level <module> <action> <auto|propose|blocked>",
		Short: "Set a trust level directly, bypassing promotion checks",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := governance.ParseTrustLevel(args[2])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if operator == "" {
				operator = e.cfg.OperatorID
			}
			p := trust.NewPromoter(e.registry, e.db, e.cfg.OperatorID, e.logger)
			if err := p.Override(cmd.Context(), operator, args[0], args[1], level, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s.%s set to %s\n", args[0], args[1], level)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the level is being changed (required)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator identity (default TRUST_OPERATOR_ID)")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute this week's trust metrics and apply automatic demotions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			rows, err := metrics.NewAggregator(e.db, e.db, e.registry, e.notifier, e.logger).AggregateWeek(cmd.Context())
			for _, m := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s\tn=%d\taccuracy=%.1f%%\tlevel=%s\trecommended=%s\n",
					m.Module, m.ActionType, m.TotalActions, m.Accuracy*100, m.CurrentTrustLevel, m.RecommendedTrustLevel)
			}
			return err
		},
	}
}

func newExpireCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire pending approvals older than the timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if !cmd.Flags().Changed("timeout") {
				timeout = e.cfg.ValidationTimeout
			}
			if timeout <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "validation expiry disabled")
				return nil
			}
			n, err := expiry.NewSweeper(e.db, e.notifier, e.audit, e.logger).ExpirePending(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d pending receipt(s) expired\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "age after which pending approvals expire (default TRUST_VALIDATION_TIMEOUT)")
	return cmd
}

func newPatternsCmd() *cobra.Command {
	var days int
	var propose bool
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Detect recurring corrections and optionally propose rules for them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			clusters, err := feedback.NewDetector(e.db, feedback.ArrowExtractor{}, e.logger).Detect(cmd.Context(), days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, c := range clusters {
				fmt.Fprintf(out, "%s.%s\t%d corrections\tkeywords=%v\tcategory=%q\n",
					c.Module, c.ActionType, len(c.ReceiptIDs), c.Keywords, c.Category)
			}
			if !propose {
				return nil
			}
			ids, err := feedback.NewProposer(feedback.ProposerConfig{
				Rules:    e.db,
				Tracker:  e.tracker,
				Notifier: e.notifier,
				Approver: e.cfg.ApproverID,
				TTL:      e.cfg.ProposalTTL,
				Logger:   e.logger,
			}).ProposeAll(cmd.Context(), clusters)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d proposal(s) sent\n", len(ids))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", feedback.DefaultWindowDays, "how many days of corrections to scan")
	cmd.Flags().BoolVar(&propose, "propose", false, "send a rule proposal for every pattern found")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the Postgres tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			if e.pg == nil {
				return errors.New("migrate needs POSTGRES_DSN")
			}
			if err := e.pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the bcrypt hash to put in TRUST_API_KEY_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}
