package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/calendar"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/matcher"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/notify"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/refresh"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/schedqueue"
)

// matchInterval is how often the watch loop scans for due slots. The query
// window is fifteen minutes wide, so a one-minute cadence cannot skip it.
const matchInterval = time.Minute

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kqchecker",
		Short:         "Attendance schedule cache and check-in matcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRefreshCmd(),
		newCleanCmd(),
		newQueryCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newExportCmd(),
		newTokenCmd(),
	)
	return root
}

func newRefreshCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the weekly schedule unless the cache is still valid",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("refresh")
			if err != nil {
				return err
			}
			defer a.close()

			run := a.orch.AutoRefresh
			if force {
				run = a.orch.ForceRefresh
			}
			out, err := run(cmd.Context())
			fmt.Printf("refresh: %s\n", out)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "fetch even when the cache is valid")
	return cmd
}

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Regenerate the cleaned timeslot map from the cached schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("clean")
			if err != nil {
				return err
			}
			defer a.close()

			slots, err := a.normalizer.GenerateCleaned()
			if err != nil {
				return err
			}
			fmt.Printf("cleaned %d timeslots\n", len(slots))
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one matching pass over slots inside their check window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("query")
			if err != nil {
				return err
			}
			defer a.close()

			if history > 0 {
				records := matcher.LoadQueryLog(a.store)
				if len(records) > history {
					records = records[len(records)-history:]
				}
				for _, r := range records {
					status := "miss"
					if r.Success {
						status = "ok"
					}
					detail := r.Detail
					if r.Error != "" {
						detail = r.Error
					}
					fmt.Printf("%s  %-4s %s  %s\n", r.QueriedAt, status, r.Key, detail)
				}
				return nil
			}
			return a.matcher.RunPass(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "print the last N query log entries instead of querying")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the periodic refresh and matching loops until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("watch")
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.Handler())
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						a.log.Error().Err(err).Msg("metrics listener failed")
					}
				}()
			}

			// Recover from auth rejections with the refresh token before
			// involving the user; a successful exchange restarts the fetch.
			events, cancelSub := a.bus.Subscribe()
			defer cancelSub()
			go func() {
				for ev := range events {
					if ev.Type != notify.EventAuthRequired {
						continue
					}
					if _, err := a.refresher.Refresh(ctx, a.tokens.AccessToken()); err != nil {
						a.log.Warn().Err(err).Msg("token refresh failed, login required")
						continue
					}
					if _, err := a.orch.ForceRefresh(ctx); err != nil {
						a.log.Warn().Err(err).Msg("fetch after token refresh failed")
					}
				}
			}()

			// One immediate refresh so the first match pass has a schedule.
			if out, err := a.orch.AutoRefresh(ctx); err != nil {
				a.log.Warn().Err(err).Str("outcome", out.String()).Msg("initial refresh failed")
			}

			cancelRefresh := a.sched.Every(ctx, refresh.SchedKey, a.cfg.PollInterval, schedqueue.JobFunc(func(jctx context.Context) error {
				_, err := a.orch.AutoRefresh(jctx)
				return err
			}))
			defer cancelRefresh()

			cancelMatch := a.sched.Every(ctx, "match", matchInterval, schedqueue.JobFunc(func(jctx context.Context) error {
				return a.matcher.RunPass(jctx)
			}))
			defer cancelMatch()

			a.log.Info().Dur("poll_interval", a.cfg.PollInterval).Msg("watch loop running")
			<-ctx.Done()
			a.log.Info().Msg("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// previewLimit bounds how much of each cache file status prints.
const previewLimit = 4000

func newStatusCmd() *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache and credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("status")
			if err != nil {
				return err
			}
			defer a.close()

			st := a.store.WeeklyStatus(time.Now())
			fmt.Printf("cache dir:      %s\n", a.store.Dir())
			if !st.Exists {
				fmt.Println("weekly cache:   missing")
			} else {
				state := "valid"
				if st.IsExpired {
					state = "expired"
				}
				fmt.Printf("weekly cache:   %s (expires %s, %d bytes, fetched %s)\n",
					state, st.ExpiresDate, st.Size, st.LastModified.Format("2006-01-02 15:04"))
			}

			if slots, ok := cleaner.LoadCleaned(a.store); ok {
				fmt.Printf("cleaned slots:  %d\n", len(slots))
			} else {
				fmt.Println("cleaned slots:  not generated")
			}

			if a.tokens.Reusable() {
				fmt.Println("token:          stored and reusable")
			} else {
				fmt.Printf("token:          needs login (%s)\n", a.cfg.LoginURL)
			}

			if records := matcher.LoadQueryLog(a.store); len(records) > 0 {
				last := records[len(records)-1]
				fmt.Printf("last query:     %s (%s)\n", last.QueriedAt, last.Key)
			}

			if preview {
				for _, key := range []string{
					cachestore.WeeklyKey,
					cachestore.WeeklyRawMetaKey,
					cachestore.WeeklyCleanedKey,
				} {
					content, ok := a.store.Read(key)
					if !ok {
						continue
					}
					if len(content) > previewLimit {
						content = content[:previewLimit]
					}
					fmt.Printf("\n--- %s ---\n%s\n", key, content)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "also print truncated cache file contents")
	return cmd
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the cleaned schedule as calendar events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("export")
			if err != nil {
				return err
			}
			defer a.close()

			sink := calendar.NewMemorySink()
			w := calendar.NewWriter(a.store, sink, a.log)
			if _, err := w.Export(); err != nil {
				return err
			}
			for _, ev := range sink.Events() {
				mark := " "
				if ev.Attended {
					mark = "*"
				}
				fmt.Printf("%s %s  %s  %s (%s)\n", mark,
					ev.Start.Format("2006-01-02 15:04"), ev.End.Format("15:04"), ev.Title, ev.Location)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored bearer credential",
	}

	var refreshToken string
	set := &cobra.Command{
		Use:   "set <access-token>",
		Short: "Store a bearer token captured from a logged-in session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("token")
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.tokens.SaveAccessToken(args[0]); err != nil {
				return err
			}
			if err := a.tokens.SaveRefreshToken(refreshToken); err != nil {
				return err
			}
			fmt.Println("token stored")
			return nil
		},
	}
	set.Flags().StringVar(&refreshToken, "refresh-token", "", "also store a refresh token")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show credential state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("token")
			if err != nil {
				return err
			}
			defer a.close()

			if a.tokens.Reusable() {
				fmt.Println("token: stored and reusable")
			} else {
				fmt.Printf("token: needs login, visit %s\n", a.cfg.LoginURL)
			}
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Drop the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("token")
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.tokens.Clear(); err != nil {
				return err
			}
			fmt.Println("token cleared")
			return nil
		},
	}

	cmd.AddCommand(set, show, clear)
	return cmd
}
