package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"repairflow/internal/app"
	"repairflow/internal/config"
	"repairflow/internal/domain"
	"repairflow/internal/engine"
	"repairflow/internal/lock"
	"repairflow/internal/logging"
	"repairflow/internal/notify"
	"repairflow/internal/repo"
	"repairflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rf",
	Short: "Repairflow CLI",
	Long: `Repairflow turns component receipts into repair orders.
- Operation types: receipt and repair document types. One may be flagged for component receiving; service types claim a category (battery, wheels, ndt, spare).
- Receipts: a component receipt asks "Repair Order received?". Yes creates one repair order per service line; no hands the receipt to the sales team.
- Repair orders: draft -> confirmed or cancel. Parts are added by sales or through approval lines.
- Approval lines: draft -> waiting -> approved/rejected. Approval writes one part move.
- Event log: every change, view with 'rf log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	// .env in the workspace wins over one in the working directory
	_ = godotenv.Load(filepath.Join(viper.GetString("workspace"), ".env"))
	_ = godotenv.Load()
	viper.SetEnvPrefix("REPAIRFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(optypeCmd())
	rootCmd.AddCommand(productCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(repairCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(activitiesCmd())
	rootCmd.AddCommand(notesCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("actor-id") }

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "repairflow.yml holds sales roles, notification exclusions, lock and log settings, and the declared RBAC roles.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force, withSecret bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default repairflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			if withSecret {
				envPath := filepath.Join(workspace, ".env")
				if err := writeJWTSecret(envPath); err != nil {
					return err
				}
				fmt.Println("wrote REPAIRFLOW_JWT_SECRET to", envPath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&withSecret, "with-jwt-secret", false, "generate REPAIRFLOW_JWT_SECRET into .env")
	return cmd
}

// writeJWTSecret sets a fresh secret in the env file, keeping other keys.
func writeJWTSecret(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		env = map[string]string{}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	env["REPAIRFLOW_JWT_SECRET"] = hex.EncodeToString(buf)
	return godotenv.Write(env, path)
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			if _, err := config.FromFile(file); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config path (default: workspace repairflow.yml)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every state change and chatter note, newest first.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.AuditLog(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable("ID", "TS", "Type", "Entity", "Actor", "Body")
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func notesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notes <kind> <id>",
		Short: "Chatter of one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				notes, err := e.Notes(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(notes)
				}
				for _, n := range notes {
					body := n.Body
					if body == "" {
						body = n.Type
					}
					fmt.Printf("%s  %-12s %s\n", n.TS, n.ActorID, body)
				}
				return nil
			})
		},
	}
}

func activitiesCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "activities",
		Short: "To-dos assigned to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				user = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Activities(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("Summary", "Record", "Created", "By")
				for _, a := range items {
					tw.AppendRow(table.Row{a.Summary, a.ResKind + ":" + a.ResID, a.CreatedAt, a.CreatedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "actor id (default: --actor-id)")
	return cmd
}

func actorCmd() *cobra.Command {
	actor := &cobra.Command{Use: "actor", Short: "Manage actors"}
	var name string
	register := &cobra.Command{
		Use:   "register <id>",
		Short: "Register an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.RegisterActor(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	register.Flags().StringVar(&name, "name", "", "display name")
	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Show an actor and its roles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := actorID()
			if len(args) == 1 {
				id = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.GetActor(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	actor.AddCommand(register, show)
	return actor
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{
		Use:   "role",
		Short: "Grant or revoke roles",
		Long:  "Roles are declared in repairflow.yml. Any of the configured sales roles grants sales capability.",
	}
	for _, grant := range []bool{true, false} {
		grant := grant
		var target, roleID string
		use, short := "revoke", "Revoke role from actor"
		if grant {
			use, short = "grant", "Grant role to actor"
		}
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if target == "" || roleID == "" {
					return fmt.Errorf("--actor and --role required")
				}
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					if grant {
						return e.GrantRole(ctx, target, roleID, actorID())
					}
					return e.RevokeRole(ctx, target, roleID, actorID())
				})
			},
		}
		cmd.Flags().StringVar(&target, "actor", "", "actor id")
		cmd.Flags().StringVar(&roleID, "role", "", "role id")
		role.AddCommand(cmd)
	}
	return role
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var target, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return fmt.Errorf("--actor required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, target, name, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": plain})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&target, "actor", "", "actor id")
	create.Flags().StringVar(&name, "name", "", "key label")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys of an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := target
			if id == "" {
				id = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAPIKeys(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&target, "actor", "", "actor id")
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	keys.AddCommand(create, list, del)
	return keys
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, cfg, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer conn.Close()
			logger := logging.New(cfg.Log.Level, os.Stderr)

			e := engine.New(conn, cfg)
			e.Logger = logger
			if cfg.Lock.RedisAddr != "" {
				locker, rdb, err := lock.Dial(ctx, cfg.Lock.RedisAddr)
				if err != nil {
					return err
				}
				defer rdb.Close()
				e.Locker = locker
				logger.WithField("addr", cfg.Lock.RedisAddr).Info("using redis locks")
			}
			hub := notify.NewHub(logger)
			e.Notifier = hub

			authCfg := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
				DevLogin:         devLogin,
				Logger:           logger,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("REPAIRFLOW_JWT_SECRET is required unless --allow-actor-header is set")
			}
			if devLogin && authCfg.JWTSecret == "" {
				return fmt.Errorf("--dev-login needs REPAIRFLOW_JWT_SECRET")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Hub: hub})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.WithFields(logrus.Fields{"addr": addr, "base_path": basePath}).Info("serving repairflow API")
			fmt.Printf("Serving repairflow API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret (env REPAIRFLOW_JWT_SECRET)")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable POST /auth/dev/login")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	conn, cfg, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, cfg)
	e.Logger = logging.New(cfg.Log.Level, os.Stderr)
	return fn(ctx, e)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
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

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func categoryLabel(c *domain.ServiceCategory) string {
	if c == nil {
		return ""
	}
	return c.Label()
}
