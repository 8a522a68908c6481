// cmd/forkgraph/commands.go
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github-fork-graph/internal/app"
	"github-fork-graph/internal/model"
	"github-fork-graph/internal/patch"
)

func exactRepoArg(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return usagef("%s takes exactly one owner/name argument", cmd.Name())
	}
	return nil
}

func parseRepos(args []string) ([]model.RepoRef, error) {
	refs := make([]model.RepoRef, 0, len(args))
	for _, a := range args {
		ref, err := model.ParseRepoRef(a)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// withApp parses the repository argument and runs fn with a wired app.
func (c *cli) withApp(ctx context.Context, arg string, opts app.Options, fn func(a *app.App, ref model.RepoRef) error) error {
	ref, err := model.ParseRepoRef(arg)
	if err != nil {
		return err
	}
	a, err := c.open(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(a, ref)
}

func (c *cli) syncCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync owner/name...",
		Short: "Fetch stargazers, watchers and forks into the graph, resuming from saved cursors",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("sync needs at least one owner/name argument")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			refs, err := parseRepos(args)
			if err != nil {
				return err
			}
			a, err := c.open(ctx, app.Options{InMemory: dryRun, NoRunLog: dryRun})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			var errs []error
			for _, ref := range refs {
				res, err := a.Orchestrator.Sync(ctx, ref)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", ref, err))
					if ctx.Err() != nil {
						break
					}
					continue
				}
				if err := c.render().syncResult(res); err != nil {
					return err
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "sync into a throwaway in-memory graph")
	return cmd
}

func (c *cli) infoCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "info owner/name",
		Short: "Compare the graph counts of a repository with its GitHub totals",
		Args:  exactRepoArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), args[0], app.Options{}, func(a *app.App, ref model.RepoRef) error {
				svc := a.Analysis
				if offline {
					svc = a.ReadOnlyAnalysis()
				}
				info, err := svc.Info(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return c.render().info(info)
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "report the graph only, without calling GitHub")
	return cmd
}

func (c *cli) forksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forks owner/name",
		Short: "List the direct forks of a synced repository",
		Args:  exactRepoArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), args[0], app.Options{}, func(a *app.App, ref model.RepoRef) error {
				forks, err := a.ReadOnlyAnalysis().Forks(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return c.render().forks("Forks of "+ref.String(), forks)
			})
		},
	}
}

func (c *cli) topOrgsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "top-orgs owner/name",
		Short: "List the organization forks with the most forks of their own",
		Args:  exactRepoArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return usagef("--limit must be at least 1")
			}
			return c.withApp(cmd.Context(), args[0], app.Options{}, func(a *app.App, ref model.RepoRef) error {
				forks, err := a.ReadOnlyAnalysis().TopForkingOrganizations(cmd.Context(), ref, limit)
				if err != nil {
					return err
				}
				return c.render().forks("Top forking organizations of "+ref.String(), forks)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of organizations to list")
	return cmd
}

func (c *cli) unpatchedCmd() *cobra.Command {
	var (
		date   string
		cve    string
		stored bool
	)
	cmd := &cobra.Command{
		Use:   "unpatched owner/name",
		Short: "Find forks that have not pulled the upstream fix for a date or CVE",
		Long: "Resolves the patch date of every fork from merged pull requests of its parent and lists\n" +
			"the forks patched before the target, or never. With --cve the target is the date of the\n" +
			"newest upstream comment mentioning the CVE.",
		Args: exactRepoArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(date, cve)
			if err != nil {
				return err
			}
			if stored && target.CVE != "" {
				return usagef("--stored works with --date only")
			}
			return c.withApp(cmd.Context(), args[0], app.Options{}, func(a *app.App, ref model.RepoRef) error {
				var rep patch.Report
				if stored {
					rep, err = a.Patches.StoredReport(cmd.Context(), ref, target.Date)
				} else {
					rep, err = a.Patches.Unpatched(cmd.Context(), ref, target)
				}
				if err != nil {
					return err
				}
				return c.render().report(rep)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "target date, YYYY-MM-DD")
	cmd.Flags().StringVar(&cve, "cve", "", "target CVE, e.g. CVE-2021-44228")
	cmd.Flags().BoolVar(&stored, "stored", false, "classify with the patch dates already in the graph")
	return cmd
}

func parseTarget(date, cve string) (patch.Target, error) {
	switch {
	case date == "" && cve == "":
		return patch.Target{}, usagef("one of --date or --cve is required")
	case date != "" && cve != "":
		return patch.Target{}, usagef("--date and --cve are mutually exclusive")
	case cve != "":
		parsed, err := patch.ParseCVE(cve)
		if err != nil {
			return patch.Target{}, err
		}
		return patch.Target{CVE: parsed.ID}, nil
	}
	t, err := model.ParseDate(date)
	if err != nil {
		return patch.Target{}, usagef("invalid --date %q: %v", date, err)
	}
	return patch.Target{Date: t}, nil
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete owner/name",
		Short: "Delete a repository with its forks, stargazers and watchers from the graph",
		Args:  exactRepoArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := model.ParseRepoRef(args[0])
			if err != nil {
				return err
			}
			ok, err := c.confirm(cmd.Context(), fmt.Sprintf("Delete %s and everything pointing at it?", ref))
			if err != nil || !ok {
				return err
			}
			return c.withApp(cmd.Context(), args[0], app.Options{}, func(a *app.App, ref model.RepoRef) error {
				n, err := a.ReadOnlyAnalysis().Delete(cmd.Context(), ref)
				if err != nil {
					return err
				}
				if c.asJSON {
					return c.render().encode(map[string]any{"repo": ref, "deleted": n})
				}
				fmt.Fprintln(c.out, passStyle.Render(fmt.Sprintf("Deleted %d nodes of %s", n, ref)))
				return nil
			})
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [owner/name]",
		Short: "List recent sync and patch runs from the run log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return usagef("--limit must be at least 1")
			}
			var repo string
			if len(args) == 1 {
				ref, err := model.ParseRepoRef(args[0])
				if err != nil {
					return err
				}
				repo = ref.String()
			}
			a, err := c.open(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(cmd.Context()))
			if a.Runs == nil {
				return errors.New("run log is disabled: set DB_URL")
			}
			runs, err := a.Runs.Recent(cmd.Context(), repo, limit)
			if err != nil {
				return err
			}
			return c.render().runs(runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}
