package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"valsort/internal/app"
	"valsort/internal/board"
	"valsort/internal/config"
	"valsort/internal/db"
	"valsort/internal/domain"
	"valsort/internal/engine"
	"valsort/internal/migrate"
	"valsort/internal/repo"
	"valsort/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vs",
	Short: "Valsort CLI",
	Long: `Valsort runs values card sorting sessions: sort every card into one of
five categories, discard at least one per round, and repeat until your
target number of values sits in Very Important.
- Workspace: the .valsort directory holding only the database.
- Session: one sorting exercise with its deck, target and rounds.
- Round: an append-only log of drop/move commands plus the resulting layout.
- Categories: Very Important > Quite Important > Important > Of Some
  Importance > Not Important; higher rounds offer fewer of them.
- Early finish: promote/demote mechanically to land exactly on the target.
- Finish: record a reason per surviving value; the session is then closed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VALSORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("session", "", "session id (overrides the single open session)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
}

func registerCommands() {
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(dropCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(nextCmd())
	rootCmd.AddCommand(earlyFinishCmd())
	rootCmd.AddCommand(finishCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{Use: "session", Short: "Manage sessions"}
	s.AddCommand(sessionNewCmd())
	s.AddCommand(sessionListCmd())
	s.AddCommand(sessionShowCmd())
	s.AddCommand(sessionDeleteCmd())
	s.AddCommand(sessionUseCmd())
	return s
}

func sessionUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default session for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := strings.TrimSpace(args[0])
			if sessionID == "" {
				return fmt.Errorf("session id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "VALSORT_SESSION", sessionID); err != nil {
				return err
			}
			fmt.Printf("Set VALSORT_SESSION=%s in %s/.env\n", sessionID, workspace)
			return nil
		},
	}
	return cmd
}

func sessionNewCmd() *cobra.Command {
	var name string
	var target int
	var deckFile string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a sorting session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.CreateSessionOptions{
					Name:    name,
					ActorID: viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("target") {
					opts.Target = target
				}
				if deckFile != "" {
					cards, err := config.DeckFromFile(deckFile)
					if err != nil {
						return err
					}
					opts.Values = cards
				}
				se, err := e.CreateSession(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(se.Session())
				}
				s := se.Session()
				fmt.Printf("Session %s: %d cards, target %d\n", s.ID, len(s.InitialValues), s.Target)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name")
	cmd.Flags().IntVar(&target, "target", 0, "final value count (1-10)")
	cmd.Flags().StringVar(&deckFile, "deck", "", "YAML file with custom cards (list of {id, title, description})")
	return cmd
}

func sessionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSessions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Target", "Round", "Completed", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.Target, s.CurrentRound, s.Completed, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func sessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a session record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				s, err := app.ResolveSession(ctx, viper.GetString("session"), r)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sessionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a session and its rounds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := app.ResolveSession(ctx, viper.GetString("session"), e.Repo)
				if err != nil {
					return err
				}
				if err := e.DeleteSession(ctx, s.ID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted session %s\n", s.ID)
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configInitCmd())
	c.AddCommand(configImportCmd())
	c.AddCommand(configExportCmd())
	return c
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML config and install it as the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			path := config.Path(viper.GetString("workspace"))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configExportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the effective config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			data, err := cfg.ToYAML()
			if err != nil {
				return err
			}
			if filePath == "" {
				fmt.Print(string(data))
				return nil
			}
			if err := os.WriteFile(filePath, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", filePath)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "output path (default stdout)")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default valsort.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current round and board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, se *engine.SessionEngine) error {
				stage, prog := se.Status()
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"session_id": se.Session().ID,
						"round":      se.Session().CurrentRound,
						"stage":      string(stage),
						"progress":   prog,
						"board":      se.Board(),
					})
				}
				fmt.Printf("Session: %s  Round: %d  Stage: %s\n", se.Session().ID, se.Session().CurrentRound, stage)
				fmt.Printf("Active: %d/%d target %d  Remaining: %d\n", prog.ActiveCount, prog.TotalActive, se.Session().Target, prog.RemainingCount)
				printBoard(se.Board())
				switch {
				case prog.ShouldEndGame:
					fmt.Println("Very Important holds the target count. Run 'vs finish' to record reasons.")
				case prog.CanAdvance:
					fmt.Println("Round done. Run 'vs next' to continue.")
				case prog.RemainingCount == 0 && !prog.HasMinimumDiscard:
					fmt.Println("At least one card must land in Not Important before advancing.")
				}
				return nil
			})
		},
	}
	return cmd
}

func printBoard(b board.Board) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Category", "Cards"})
	for _, cat := range domain.CategoryOrder {
		if !b.CategoryValid(cat) {
			continue
		}
		titles := make([]string, 0, len(b.Categories[cat]))
		for _, v := range b.Categories[cat] {
			titles = append(titles, fmt.Sprintf("%s (%s)", v.Title, v.ID))
		}
		tw.AppendRow(table.Row{cat.Label(), strings.Join(titles, ", ")})
	}
	tw.Render()
	if len(b.Remaining) > 0 {
		next := b.Remaining[0]
		fmt.Printf("Next card: %s (%s)", next.Title, next.ID)
		if next.Description != "" {
			fmt.Printf(" - %s", next.Description)
		}
		fmt.Println()
	}
}

func dropCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drop <card-id> <category>",
		Short: "Drop a card into a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := domain.Category(args[1])
			if !cat.Known() {
				return fmt.Errorf("unknown category %s (use very-important, quite-important, important, some-importance, not-important)", args[1])
			}
			return withSession(cmd.Context(), func(ctx context.Context, se *engine.SessionEngine) error {
				res, err := se.Drop(ctx, args[0], cat, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printApply(se, res)
			})
		},
	}
	return cmd
}

func moveCmd() *cobra.Command {
	var within string
	var fromIndex, toIndex int
	var from, to string
	cmd := &cobra.Command{
		Use:   "move [card-id]",
		Short: "Move a card within or between categories",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := viper.GetString("actor-id")
			return withSession(cmd.Context(), func(ctx context.Context, se *engine.SessionEngine) error {
				var res engine.ApplyResult
				var err error
				switch {
				case within != "":
					if !cmd.Flags().Changed("from-index") || !cmd.Flags().Changed("to-index") {
						return fmt.Errorf("--within needs --from-index and --to-index")
					}
					res, err = se.MoveWithin(ctx, domain.Category(within), fromIndex, toIndex, actorID)
				case len(args) == 1 && from != "" && to != "":
					res, err = se.MoveBetween(ctx, args[0], domain.Category(from), domain.Category(to), actorID)
				default:
					return fmt.Errorf("use --within CATEGORY --from-index I --to-index J, or CARD --from CAT --to CAT")
				}
				if err != nil {
					return err
				}
				return printApply(se, res)
			})
		},
	}
	cmd.Flags().StringVar(&within, "within", "", "reorder inside this category")
	cmd.Flags().IntVar(&fromIndex, "from-index", 0, "source position")
	cmd.Flags().IntVar(&toIndex, "to-index", 0, "destination position")
	cmd.Flags().StringVar(&from, "from", "", "source category")
	cmd.Flags().StringVar(&to, "to", "", "destination category")
	return cmd
}

func printApply(se *engine.SessionEngine, res engine.ApplyResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if !res.Applied {
		fmt.Println("Ignored: card or position not available.")
		return nil
	}
	printBoard(se.Board())
	return nil
}

func nextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Advance to the next round",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, se *engine.SessionEngine) error {
				res, err := se.Advance(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.EndGame {
					fmt.Println("Target reached. Final values:")
					for _, v := range res.FinalValues {
						fmt.Printf("  - %s (%s)\n", v.Title, v.ID)
					}
					fmt.Println("Run 'vs finish' to record reasons.")
					return nil
				}
				fmt.Printf("Round %d started with %d cards.\n", res.RoundNumber, len(se.Session().RemainingValues))
				printBoard(se.Board())
				return nil
			})
		},
	}
	return cmd
}

func earlyFinishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "early-finish",
		Short: "Force the active pool down to exactly the target count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, se *engine.SessionEngine) error {
				res, err := se.EarlyFinish(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println("Final values:")
				for _, v := range res.FinalValues {
					fmt.Printf("  - %s (%s)\n", v.Title, v.ID)
				}
				fmt.Println("Run 'vs finish' to record reasons.")
				return nil
			})
		},
	}
	return cmd
}

func finishCmd() *cobra.Command {
	var reasonFlags []string
	var reasonsFile string
	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Record a reason per final value and close the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, se *engine.SessionEngine) error {
				reasons := map[string]string{}
				if reasonsFile != "" {
					data, err := os.ReadFile(reasonsFile)
					if err != nil {
						return err
					}
					if err := json.Unmarshal(data, &reasons); err != nil {
						return fmt.Errorf("parse reasons: %w", err)
					}
				}
				for _, rf := range reasonFlags {
					id, text, ok := strings.Cut(rf, "=")
					if !ok {
						return fmt.Errorf("--reason wants card-id=text, got %q", rf)
					}
					reasons[id] = text
				}
				finals := se.Board().Categories[domain.CategoryVeryImportant]
				if len(reasonFlags) == 0 && reasonsFile == "" {
					scanner := bufio.NewScanner(os.Stdin)
					for _, v := range finals {
						fmt.Printf("Why does %q matter to you? ", v.Title)
						if !scanner.Scan() {
							break
						}
						reasons[v.ID] = strings.TrimSpace(scanner.Text())
					}
					if err := scanner.Err(); err != nil {
						return err
					}
				}
				cs, err := se.CompleteReasoning(ctx, reasons, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cs)
				}
				fmt.Printf("Session %s completed.\n", cs.SessionID)
				for _, v := range cs.FinalValues {
					fmt.Printf("  - %s: %s\n", v.Title, v.Reason)
				}
				kept := se.FinalCategories()
				for _, cat := range domain.CategoryOrder {
					if cat == domain.CategoryVeryImportant {
						continue
					}
					for _, v := range kept[cat] {
						fmt.Printf("  (%s) %s\n", cat.Label(), v.Title)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&reasonFlags, "reason", nil, "card-id=reason (repeatable)")
	cmd.Flags().StringVar(&reasonsFile, "file", "", "JSON file mapping card id to reason")
	return cmd
}

func replayCmd() *cobra.Command {
	var round int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct the session step by step from its command logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := app.ResolveSession(ctx, viper.GetString("session"), e.Repo)
				if err != nil {
					return err
				}
				playback, err := e.Playback(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(playback)
				}
				for _, p := range playback {
					if round != 0 && p.RoundNumber != round {
						continue
					}
					fmt.Printf("=== Round %d (%d commands) ===\n", p.RoundNumber, len(p.Steps))
					printBoard(p.Final)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&round, "round", 0, "only this round")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sessionID := viper.GetString("session")
				if sessionID == "" {
					if s, err := app.ResolveSession(ctx, "", r); err == nil {
						sessionID = s.ID
					}
				}
				events, err := r.ListEvents(ctx, sessionID, n, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys for serve mode"}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyDeleteCmd())
	return k
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("API key for %s (shown once): %s\n", actorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.LoadConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("VALSORT_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("VALSORT_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Valsort API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.LoadConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withSession(ctx context.Context, fn func(context.Context, *engine.SessionEngine) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		s, err := app.ResolveSession(ctx, viper.GetString("session"), e.Repo)
		if err != nil {
			return err
		}
		se, err := e.Load(ctx, s.ID)
		if err != nil {
			return err
		}
		return fn(ctx, se)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
