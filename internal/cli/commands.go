package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"throttle-gateway/middleware/throttle/domain"
	"throttle-gateway/middleware/throttle/infra"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newOpenCmd(a *app) *cobra.Command {
	var (
		policy    string
		interval  time.Duration
		threshold int64
	)
	cmd := &cobra.Command{
		Use:   "open <name>",
		Short: "Ask the throttle for one admission (mutates state)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParsePolicyKind(policy)
			if err != nil {
				return err
			}
			p := domain.CountBased(threshold)
			if kind == domain.PolicyTime {
				p = domain.TimeBased(interval)
			}

			th, err := domain.Create(a.mgr, domain.Name(args[0]), p)
			if err != nil {
				return err
			}
			ok, err := th.Open(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return writeJSON(out, map[string]any{"name": args[0], "policy": p.String(), "admitted": ok})
			}
			verdict := "denied"
			if ok {
				verdict = "admitted"
			}
			_, err = fmt.Fprintf(out, "%s %s (%s)\n", args[0], verdict, p)
			return err
		},
	}
	cmd.Flags().StringVar(&policy, "policy", string(domain.PolicyTime), "policy: time|count")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "minimum interval for the time policy")
	cmd.Flags().Int64Var(&threshold, "threshold", 0, "denials before admission for the count policy")
	return cmd
}

type stateRow struct {
	Name         string     `json:"name"`
	Key          string     `json:"key"`
	LastOpenedAt *time.Time `json:"lastOpenedAt,omitempty"`
	Counter      int64      `json:"counter"`
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name>...",
		Short: "Show stored throttle state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]stateRow, 0, len(args))
			for _, n := range args {
				name := domain.Name(n)
				st, err := a.mgr.Inspect(cmd.Context(), name)
				if err != nil {
					return err
				}
				row := stateRow{Name: n, Key: a.mgr.Key(name), Counter: st.Counter}
				if st.LastOpenedAt != nil {
					ts := st.LastOpened().UTC()
					row.LastOpenedAt = &ts
				}
				rows = append(rows, row)
			}

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return writeJSON(out, rows)
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Name", "Key", "Last opened", "Counter"})
			for _, r := range rows {
				last := "never"
				if r.LastOpenedAt != nil {
					last = r.LastOpenedAt.Format(time.RFC3339Nano)
				}
				t.AppendRow(table.Row{r.Name, r.Key, last, r.Counter})
			}
			t.Render()
			return nil
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <name>...",
		Short: "Delete stored throttle state; the next decision starts fresh",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, n := range args {
				if err := a.mgr.Reset(cmd.Context(), domain.Name(n)); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", n); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type statsRow struct {
	Scope   string `json:"scope"`
	Policy  string `json:"policy"`
	Allowed int64  `json:"allowed"`
	Denied  int64  `json:"denied"`
}

func snapshotRows(scope string, snap infra.StatsSnapshot) []statsRow {
	rows := []statsRow{{Scope: scope, Policy: "all", Allowed: snap.All.Allowed, Denied: snap.All.Denied}}
	for _, k := range []domain.PolicyKind{domain.PolicyTime, domain.PolicyCount} {
		if c, ok := snap.ByPolicy[k]; ok {
			rows = append(rows, statsRow{Scope: scope, Policy: string(k), Allowed: c.Allowed, Denied: c.Denied})
		}
	}
	return rows
}

func newStatsCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "stats [name]...",
		Short: "Show decision counters recorded by the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			when := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				when = t
			}

			total, err := a.stats.Totals(ctx)
			if err != nil {
				return err
			}
			rows := snapshotRows("total", total)

			if a.cfg.Stats.Bucket != infra.BucketNone {
				minute, err := a.stats.Minute(ctx, when)
				if err != nil {
					return err
				}
				rows = append(rows, snapshotRows("minute "+when.UTC().Format("2006-01-02T15:04"), minute)...)
			}

			for _, n := range args {
				snap, err := a.stats.ForName(ctx, domain.Name(n))
				if err != nil {
					return err
				}
				rows = append(rows, snapshotRows("name "+n, snap)...)
			}

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return writeJSON(out, rows)
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Scope", "Policy", "Allowed", "Denied"})
			for _, r := range rows {
				t.AppendRow(table.Row{r.Scope, r.Policy, r.Allowed, r.Denied})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "minute bucket to show, RFC3339 (default: now)")
	return cmd
}
