package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"fitline/internal/app"
	"fitline/internal/board"
	"fitline/internal/config"
	"fitline/internal/db"
	"fitline/internal/engine"
	"fitline/internal/migrate"
	"fitline/internal/policy"
	"fitline/internal/server"
	"fitline/internal/stage"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fitline CLI",
	Long: `Fitline works the sales pipeline board for a kitchen/interior
installation business: every customer, job, and project is a card in an
ordered funnel of stages. Cards move between stages optimistically; the
server confirms or the whole batch rolls back.`,
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
	viper.SetEnvPrefix("FITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "", "CRM server base URL (overrides config)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (overrides config)")
	rootCmd.PersistentFlags().String("user", "", "acting user name")
	rootCmd.PersistentFlags().String("email", "", "acting user email")
	rootCmd.PersistentFlags().String("role", "", "acting user role")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("email", rootCmd.PersistentFlags().Lookup("email"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
}

func newSession() (*app.Session, error) {
	return app.NewSession(viper.GetString("workspace"), app.Overrides{
		BaseURL: viper.GetString("server"),
		Token:   viper.GetString("token"),
		Actor:   viper.GetString("user"),
		Email:   viper.GetString("email"),
		Role:    viper.GetString("role"),
	}, log.Default())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default fitline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func boardCmd() *cobra.Command {
	var query, salesperson, stageName, jobType, from, to string
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Render the pipeline board",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			if err := sess.LoadBoard(cmd.Context()); err != nil {
				return loadError(err)
			}
			filters, err := buildFilters(query, salesperson, stageName, jobType, from, to)
			if err != nil {
				return err
			}
			cols := sess.Engine.Board(filters)
			if viper.GetBool("json") {
				return printJSON(cols)
			}
			renderBoard(cols)
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "free-text search")
	cmd.Flags().StringVar(&salesperson, "salesperson", "", "salesperson filter")
	cmd.Flags().StringVar(&stageName, "stage", "", "stage filter")
	cmd.Flags().StringVar(&jobType, "job-type", "", "job type filter")
	cmd.Flags().StringVar(&from, "measure-from", "", "measure date from (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "measure-to", "", "measure date to (YYYY-MM-DD)")
	return cmd
}

func buildFilters(query, salesperson, stageName, jobType, from, to string) (board.Filters, error) {
	f := board.Filters{Query: query, Salesperson: salesperson, JobType: jobType}
	if stageName != "" {
		s, ok := stage.Parse(stageName)
		if !ok {
			return f, fmt.Errorf("unknown stage %q", stageName)
		}
		f.Stage = s
	}
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return f, fmt.Errorf("measure-from: %w", err)
		}
		f.MeasureFrom = t
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return f, fmt.Errorf("measure-to: %w", err)
		}
		f.MeasureTo = t
	}
	return f, nil
}

func renderBoard(cols []board.Column) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Stage", "Count", "Cards"})
	for _, col := range cols {
		var cards []string
		for _, c := range col.Cards {
			cards = append(cards, fmt.Sprintf("%s %s (%dd)", c.Reference, c.CustomerName, c.DaysInStage))
		}
		t.AppendRow(table.Row{col.Stage, col.Count, strings.Join(cards, "\n")})
	}
	t.Render()
}

func moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <id> <stage> [<id> <stage>...]",
		Short: "Move cards to new stages as one batch",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args)%2 != 0 {
				return fmt.Errorf("arguments must be id/stage pairs")
			}
			sess, err := newSession()
			if err != nil {
				return err
			}
			sess.InvalidateBoard()
			if err := sess.LoadBoard(cmd.Context()); err != nil {
				return loadError(err)
			}

			next := sess.Engine.Cards()
			for i := 0; i < len(args); i += 2 {
				id := args[i]
				target, ok := stage.Parse(args[i+1])
				if !ok {
					return fmt.Errorf("unknown stage %q", args[i+1])
				}
				found := false
				for j := range next {
					if next[j].ID == id {
						next[j].Column = target
						found = true
						break
					}
				}
				if !found {
					return fmt.Errorf("no card %s on the board", id)
				}
			}

			moves, err := sess.Engine.ApplyBoard(cmd.Context(), next)
			if err != nil {
				sess.InvalidateBoard()
				var denied policy.DeniedError
				if errors.As(err, &denied) {
					return fmt.Errorf("not authorized: %w", err)
				}
				return err
			}
			sess.Feed.Put(sess.Engine.Items())
			for _, mv := range moves {
				fmt.Printf("%s: %s -> %s\n", mv.ItemID, mv.From, mv.To)
			}
			return nil
		},
	}
	return cmd
}

func rejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Quick-reject a card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			sess.InvalidateBoard()
			if err := sess.LoadBoard(cmd.Context()); err != nil {
				return loadError(err)
			}
			if err := sess.Engine.QuickTransition(cmd.Context(), args[0], stage.Rejected); err != nil {
				sess.InvalidateBoard()
				return err
			}
			sess.Feed.Put(sess.Engine.Items())
			fmt.Printf("%s -> %s\n", args[0], stage.Rejected)
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent server-side stage events",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			items, err := sess.Client.Events(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
			for _, e := range items {
				t.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Mint a dev token from the demo server and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			user := sess.Engine.User
			token, err := sess.Client.DevLogin(cmd.Context(), user)
			if err != nil {
				return err
			}
			workspace := viper.GetString("workspace")
			cfg := sess.Config
			cfg.Auth.Token = token
			data, err := marshalConfig(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(config.Path(workspace), data, 0o600); err != nil {
				return err
			}
			fmt.Println("token stored in", config.Path(workspace))
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the demo CRM server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if addr == "" {
				addr = cfg.Serve.Addr
			}
			secret := os.Getenv("FITLINE_JWT_SECRET")
			if secret == "" {
				secret = cfg.Serve.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("a JWT secret is required (FITLINE_JWT_SECRET or serve.jwt_secret)")
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				DB:       conn,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, DevAuth: cfg.Serve.DevAuth},
			})
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
			fmt.Printf("Serving demo CRM API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to serve.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load demo records into the demo server DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if err := app.Seed(cmd.Context(), conn, time.Now()); err != nil {
				return err
			}
			fmt.Println("seeded demo records")
			return nil
		},
	}
}

// --- helpers ---

func loadError(err error) error {
	if errors.Is(err, engine.ErrFetchTimeout) {
		return fmt.Errorf("board fetch timed out; check the server and retry")
	}
	return err
}

func marshalConfig(cfg *config.Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
