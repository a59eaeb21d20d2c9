// hb - the habit command-line interface
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quantumlife/habits/internal/config"
	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/habits"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/parser"
	"github.com/quantumlife/habits/internal/progression"
	"github.com/quantumlife/habits/internal/reminders"
	"github.com/quantumlife/habits/internal/rewards"
	"github.com/quantumlife/habits/internal/storage"
	"github.com/quantumlife/habits/internal/templates"
)

var (
	// Config
	configPath string
	dataDir    string
	userID     string

	// Version
	version = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hb",
		Short: "Habits - track habits, streaks and rewards",
		Long: `hb manages habits in the local habit database.

Create habits from plain text ("meditate 20 minutes every morning at 7am")
or from a scale template, mark them done, and watch your streaks, XP and
gold grow. Reminders are fired by the habitd daemon.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.PersistentFlags().StringVar(&userID, "user", defaultUser(), "user to record completions for")

	// Commands
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(templateCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(doneCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(removeCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(useCmd())
	rootCmd.AddCommand(channelCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "me"
}

// app holds everything a command needs
type app struct {
	cfg    *config.Config
	db     *storage.DB
	habits *habits.Service
	engine *progression.Engine
}

// openApp loads config and opens the database. Nothing is scheduled from
// the CLI; habitd picks up new habits on its next start.
func openApp() (*app, error) {
	if dataDir != "" {
		os.Setenv(config.EnvPrefix+"DATA_DIR", dataDir)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// The CLI only logs problems.
	logger := logging.New(os.Stderr, logging.WARN)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := storage.Open(storage.Config{
		Path:          cfg.DatabasePath(),
		BusyTimeoutMS: cfg.Storage.BusyTimeoutMS,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return &app{
		cfg: cfg,
		db:  db,
		habits: habits.NewService(
			parser.New(cfg.Parser),
			templates.NewResolver(cfg.Templates),
			db,
			nil,
			habits.Config{
				Timezone:       cfg.Scheduler.Timezone,
				DefaultChannel: cfg.Scheduler.DefaultChannel,
			},
			logger,
		),
		engine: progression.NewEngine(
			storage.NewProgressStore(db),
			rewards.NewRoller(cfg.Rewards, nil),
			cfg.Progression,
			logger,
		),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// withApp wraps a command body with openApp/Close
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args)
	}
}

// parseCmd previews what a description would create
func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [description]",
		Short: "Show how a description would be understood",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			draft, err := parser.New(cfg.Parser).Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println("🔍 Parsed habit")
			fmt.Println()
			printDraft(draft)
			return nil
		},
	}
}

// addCmd creates a habit from a description
func addCmd() *cobra.Command {
	var opts habits.CreateOptions
	cmd := &cobra.Command{
		Use:   "add [description]",
		Short: "Create a habit from a description",
		Example: `  hb add meditate 20 minutes every morning at 7am
  hb add "drink 8 glasses of water daily" --channel wellness`,
		Args: cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			h, err := a.habits.CreateFromText(ctx, strings.Join(args, " "), opts)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created %s\n\n", reminders.DisplayName(h.Name))
			printHabit(h)
			return nil
		}),
	}
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "reminder channel")
	cmd.Flags().StringVar(&opts.Timezone, "tz", "", "IANA timezone for the schedule")
	return cmd
}

// templateCmd creates a habit from a scale template, or lists templates
func templateCmd() *cobra.Command {
	var (
		req      habits.TemplateRequest
		category string

		hour, minute, weekday, day, month, reward int
	)
	cmd := &cobra.Command{
		Use:   "template [scale] [name]",
		Short: "Create a habit from a daily/weekly/monthly/quarterly/yearly template",
		Example: `  hb template                      # list templates
  hb template weekly "review goals" --weekday 0 --hour 18`,
		Args: cobra.MaximumNArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				fmt.Println("📋 Templates")
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "   SCALE\tCADENCE\tXP\tMULTIPLIER\t")
				for _, t := range a.habits.Templates() {
					fmt.Fprintf(w, "   %s\t%s\t%d\t×%.1f\t%s\n", t.Scale, t.Cadence, t.BaseReward, t.Multiplier, t.Description)
				}
				return w.Flush()
			}

			scale, err := core.ParseScale(args[0])
			if err != nil {
				return err
			}
			req.Scale = scale
			req.Name = args[1]
			req.Category = core.Category(category)

			flags := cmd.Flags()
			set := func(name string, v int) *int {
				if flags.Changed(name) {
					return &v
				}
				return nil
			}
			req.Overrides = templates.Overrides{
				Hour:       set("hour", hour),
				Minute:     set("minute", minute),
				Weekday:    set("weekday", weekday),
				DayOfMonth: set("day", day),
				Month:      set("month", month),
				BaseReward: set("reward", reward),
			}

			h, err := a.habits.CreateFromTemplate(ctx, req)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Created %s\n\n", reminders.DisplayName(h.Name))
			printHabit(h)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVar(&req.Description, "description", "", "habit description")
	f.StringVar(&category, "category", "", "category (health, fitness, wellness, ...)")
	f.StringVar(&req.Channel, "channel", "", "reminder channel")
	f.StringVar(&req.Timezone, "tz", "", "IANA timezone for the schedule")
	f.IntVar(&hour, "hour", 0, "reminder hour (0-23)")
	f.IntVar(&minute, "minute", 0, "reminder minute (0-59)")
	f.IntVar(&weekday, "weekday", 0, "weekday for weekly habits (0=Sunday)")
	f.IntVar(&day, "day", 0, "day of month (1-31; up to 30 for quarterly, and within the month for yearly)")
	f.IntVar(&month, "month", 0, "month for yearly habits (1-12)")
	f.IntVar(&reward, "reward", 0, "base XP before the scale multiplier")
	return cmd
}

// listCmd lists habits
func listCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:     "habits",
		Aliases: []string{"ls", "list"},
		Short:   "List habits",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			list, err := a.habits.List(ctx, !all)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No habits yet. Try: hb add meditate 10 minutes daily")
				return nil
			}

			done := map[core.HabitID]bool{}
			today := core.DayIn(time.Now(), a.location())
			statuses, err := storage.NewProgressStore(a.db).DayProgress(ctx, core.UserID(userID), today)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				done[st.Habit.ID] = st.Done
			}

			fmt.Printf("🌱 Habits (%d)\n\n", len(list))
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, h := range list {
				mark := "○"
				switch {
				case !h.Active:
					mark = "✗"
				case done[h.ID]:
					mark = "✓"
				}
				fmt.Fprintf(w, "   %s\t%s\t%s\t%d XP\t%s\n",
					mark, truncate(reminders.DisplayName(h.Name), nameWidth()), h.Cadence, h.BaseReward, h.Category)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "include retired habits")
	return cmd
}

// doneCmd marks a habit complete
func doneCmd() *cobra.Command {
	var (
		note  string
		count int
		day   string
		amend bool
	)
	cmd := &cobra.Command{
		Use:   "done [habit]",
		Short: "Mark a habit done for today",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			h, err := a.habits.Find(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			req := core.CompletionRequest{
				UserID:  core.UserID(userID),
				HabitID: h.ID,
				Note:    note,
				Source:  core.SourceCommand,
				Amend:   amend,
			}
			if cmd.Flags().Changed("count") {
				req.Count = &count
			}
			if day != "" {
				d, err := core.ParseDay(day)
				if err != nil {
					return err
				}
				req.Day = d
			}

			res, err := a.engine.Complete(ctx, req)
			if err != nil {
				return err
			}
			if res.Amended {
				fmt.Printf("📝 Updated %s for %s\n", reminders.DisplayName(h.Name), res.Event.Day)
				return nil
			}
			out := reminders.RenderCompletion(reminders.DefaultLocalizer(), h.Name, userID, res)
			fmt.Println(out.Title)
			fmt.Println()
			for _, line := range strings.Split(out.Body, "\n") {
				fmt.Printf("   %s\n", line)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&note, "note", "", "note to attach")
	cmd.Flags().IntVar(&count, "count", 0, "count for count-tracked habits")
	cmd.Flags().StringVar(&day, "day", "", "day to record (YYYY-MM-DD, default today)")
	cmd.Flags().BoolVar(&amend, "amend", false, "update the note/count of an existing completion")
	return cmd
}

// statsCmd summarizes one habit
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [habit]",
		Short: "Show completion statistics for a habit",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			h, err := a.habits.Find(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			st, err := a.habits.Stats(ctx, h.ID)
			if err != nil {
				return err
			}

			fmt.Printf("📊 %s\n\n", reminders.DisplayName(h.Name))
			fmt.Printf("   Completions: %d by %d people (%.1f each)\n", st.Completions, st.Participants, st.PerUser)
			fmt.Printf("   XP awarded: %d\n", st.TotalXP)
			if h.TracksCount {
				fmt.Printf("   Total count: %d\n", st.TotalCount)
			}
			fmt.Printf("   Best streak: %d days\n", st.BestStreak)
			if st.LastCompleted != nil {
				fmt.Printf("   Last completed: %s\n", st.LastCompleted)
			}
			return nil
		}),
	}
}

// scheduleCmd replaces a habit's schedule
func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "schedule [habit] [phrase]",
		Short:   "Change when a habit is reminded",
		Example: `  hb schedule pushups "weekly on monday at 6pm"`,
		Args:    cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			h, err := a.habits.Find(ctx, args[0])
			if err != nil {
				return err
			}
			h, err = a.habits.Reschedule(ctx, h.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("⏰ %s now runs %s (%s)\n", reminders.DisplayName(h.Name), h.Cadence, h.Scale)
			fmt.Println("   Restart habitd to apply the new schedule.")
			return nil
		}),
	}
}

// removeCmd retires a habit
func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove [habit]",
		Aliases: []string{"rm"},
		Short:   "Retire a habit, keeping its history",
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			h, err := a.habits.Find(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := a.habits.Deactivate(ctx, h.ID); err != nil {
				return err
			}
			fmt.Printf("🗑️  Retired %s\n", reminders.DisplayName(h.Name))
			return nil
		}),
	}
}

// progressCmd shows a user's totals and streaks
func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show your level, XP, gold and streaks",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			store := storage.NewProgressStore(a.db)
			p, err := store.GetProgress(ctx, core.UserID(userID))
			if err != nil {
				return err
			}
			if p == nil {
				fmt.Println("No progress yet. Complete a habit with: hb done <habit>")
				return nil
			}

			fmt.Printf("🏅 %s\n\n", userID)
			fmt.Printf("   Level %d · %d XP (%d to next) · %d gold\n",
				p.Level, p.TotalXP, progression.XPToNextLevel(p.TotalXP), p.Gold)

			streaks, err := store.Streaks(ctx, core.UserID(userID))
			if err != nil {
				return err
			}
			if len(streaks) > 0 {
				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				for _, s := range streaks {
					fmt.Fprintf(w, "   🔥\t%s\t%d days\tbest %d\n",
						truncate(reminders.DisplayName(s.HabitName), nameWidth()), s.Current, s.Longest)
				}
				if err := w.Flush(); err != nil {
					return err
				}
			}

			items, err := store.Inventory(ctx, core.UserID(userID))
			if err != nil {
				return err
			}
			if len(items) > 0 {
				fmt.Println()
				fmt.Println("   🎒 Inventory")
				for _, it := range items {
					fmt.Printf("      %s ×%d\n", it.Name, it.Quantity)
				}
			}
			return nil
		}),
	}
}

// leaderboardCmd ranks users
func leaderboardCmd() *cobra.Command {
	var (
		by    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank users by xp, gold or level",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			entries, err := storage.NewProgressStore(a.db).Leaderboard(ctx, storage.LeaderboardOrder(by), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Nobody on the board yet.")
				return nil
			}
			fmt.Printf("🏆 Leaderboard by %s\n\n", by)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, e := range entries {
				name := e.DisplayName
				if name == "" {
					name = string(e.UserID)
				}
				fmt.Fprintf(w, "   %d.\t%s\tL%d\t%d XP\t%d gold\n", e.Rank, name, e.Level, e.TotalXP, e.Gold)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().StringVar(&by, "by", string(storage.ByXP), "ranking: xp, gold, level")
	cmd.Flags().IntVar(&limit, "limit", 10, "max rows")
	return cmd
}

// historyCmd lists recent completions
func historyCmd() *cobra.Command {
	var (
		habit string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List your recent completions",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			var habitID core.HabitID
			names := map[core.HabitID]string{}
			if habit != "" {
				h, err := a.habits.Find(ctx, habit)
				if err != nil {
					return err
				}
				habitID = h.ID
				names[h.ID] = h.Name
			} else {
				all, err := a.habits.List(ctx, false)
				if err != nil {
					return err
				}
				for _, h := range all {
					names[h.ID] = h.Name
				}
			}

			events, err := storage.NewProgressStore(a.db).ListCompletions(ctx, core.UserID(userID), habitID, limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Println("No completions yet.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, ev := range events {
				line := fmt.Sprintf("   %s\t%s\t+%d XP\t+%d gold",
					ev.Day, truncate(reminders.DisplayName(names[ev.HabitID]), nameWidth()), ev.XPAwarded, ev.GoldAwarded)
				if ev.Count != nil {
					line += fmt.Sprintf("\t×%d", *ev.Count)
				}
				if ev.Note != "" {
					line += "\t" + ev.Note
				}
				fmt.Fprintln(w, line)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().StringVar(&habit, "habit", "", "only this habit")
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

// useCmd spends an inventory item
func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "use [item]",
		Short:   "Use an item from your inventory",
		Example: `  hb use "Energy Potion"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			item := strings.Join(args, " ")
			left, err := storage.NewProgressStore(a.db).UseItem(ctx, core.UserID(userID), item)
			if err != nil {
				return err
			}
			fmt.Printf("✨ Used %s (%d left)\n", item, left)
			return nil
		}),
	}
}

// channelCmd moves a habit's reminders to another channel
func channelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channel [habit] [channel]",
		Short: "Change where a habit's reminders are posted",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
			h, err := a.habits.Find(ctx, args[0])
			if err != nil {
				return err
			}
			h, err = a.habits.SetChannel(ctx, h.ID, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("📣 %s now posts to #%s\n", reminders.DisplayName(h.Name), h.Channel)
			fmt.Println("   Restart habitd to apply the change.")
			return nil
		}),
	}
}

// versionCmd shows version
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show hb version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hb %s\n", version)
		},
	}
}

func (a *app) location() *time.Location {
	loc, err := time.LoadLocation(a.cfg.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func printDraft(d *core.HabitDraft) {
	fmt.Printf("   Name: %s\n", d.Name)
	if d.Description != "" {
		fmt.Printf("   Description: %s\n", d.Description)
	}
	fmt.Printf("   Schedule: %s (%s)\n", d.Cadence, d.Scale)
	fmt.Printf("   Reward: %d XP\n", d.BaseReward)
	fmt.Printf("   Category: %s\n", d.Category)
	if d.TracksCount {
		fmt.Println("   Tracks a count")
	}
	for _, w := range d.Warnings {
		fmt.Printf("   ⚠️  %s\n", w)
	}
}

func printHabit(h *core.HabitDefinition) {
	fmt.Printf("   ID: %s\n", h.ID)
	printDraft(&core.HabitDraft{
		Name:        h.Name,
		Description: h.Description,
		BaseReward:  h.BaseReward,
		Category:    h.Category,
		Scale:       h.Scale,
		Cadence:     h.Cadence,
		TracksCount: h.TracksCount,
	})
	fmt.Printf("   Timezone: %s\n", h.Timezone)
	if h.Channel != "" {
		fmt.Printf("   Channel: %s\n", h.Channel)
	}
}

// nameWidth leaves room for the other columns on narrow terminals
func nameWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 40
	}
	if w := width - 40; w > 12 {
		return w
	}
	return 12
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
