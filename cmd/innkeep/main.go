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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"innkeep/internal/app"
	"innkeep/internal/config"
	"innkeep/internal/db"
	"innkeep/internal/domain"
	"innkeep/internal/repo"
	"innkeep/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "innkeep",
	Short: "innkeep reservation engine",
	Long: `innkeep books hotel rooms for date ranges and guarantees a room is never
double-booked.
- Rooms: bookable units with a nightly rate and a guest capacity.
- Reservations: half-open stays [check-in, check-out) that move
  pending -> confirmed -> completed, or to cancelled from either of the first two.
- Availability: answered from an in-memory index rebuilt from storage at startup;
  storage also refuses overlapping stays on its own.
- Workspace: innkeep.yml plus .innkeep/innkeep.db (SQLite) unless storage points at PostgreSQL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

var logger = logrus.New()

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	workspace := viper.GetString("workspace")
	if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: .env:", err)
	}
	viper.SetEnvPrefix("INNKEEP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	setupLogging()
}

func setupLogging() {
	logger.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	if viper.GetString("log-format") == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text or json)")
	flags.String("driver", "", "storage driver override (sqlite or postgres)")
	flags.String("dsn", "", "storage DSN override")
	flags.String("locker", "", "room locker override (memory or redis)")
	flags.String("redis-addr", "", "redis address for the redis locker")
	for _, name := range []string{"workspace", "json", "log-level", "log-format", "driver", "dsn", "locker", "redis-addr"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(roomCmd())
	rootCmd.AddCommand(reservationCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage innkeep.yml",
		Long:  "innkeep.yml holds the storage driver, engine timeouts and time zone, seasonal pricing, HTTP server settings and role permissions.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default innkeep.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(runtimeOptions(true))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate innkeep.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				_, err = app.LoadConfig(runtimeOptions(true))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func indexCmd() *cobra.Command {
	idx := &cobra.Command{Use: "index", Short: "Availability index maintenance"}
	var roomID string
	rebuild := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the availability index from storage and report its size",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				var (
					n   int
					err error
				)
				if roomID != "" {
					if _, err = rt.Engine.Rooms.Get(ctx, roomID); err == nil {
						n, err = rt.Engine.RebuildRoom(ctx, roomID)
					}
				} else {
					n, err = rt.Engine.RebuildAll(ctx)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"room_id": roomID, "entries": n})
			})
		},
	}
	rebuild.Flags().StringVar(&roomID, "room", "", "rebuild a single room")
	idx.AddCommand(rebuild)
	return idx
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for staff tooling"}

	var subject, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				if _, ok := rt.Config.RBAC.Roles[role]; !ok {
					return fmt.Errorf("unknown role %q", role)
				}
				secret, err := newSecret()
				if err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.NewString(),
					Subject:   subject,
					Role:      role,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: domain.FormatTimestamp(time.Now()),
				}
				if err := rt.Engine.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "subject": key.Subject, "role": key.Role, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&subject, "subject", "", "who the key acts as")
	create.Flags().StringVar(&role, "role", "admin", "configured role granted to the key")
	create.Flags().StringVar(&name, "name", "", "label")
	_ = create.MarkFlagRequired("subject")

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListAPIKeys(ctx, filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Subject", "Role", "Name", "Created")
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.Subject, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filter, "subject", "", "only keys of this subject")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), true, func(ctx context.Context, rt *app.Runtime) error {
				return rt.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}

	keys.AddCommand(create, list, revoke)
	return keys
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("log-level") == "warn" && !cmd.Flags().Changed("log-level") {
				logger.SetLevel(logrus.InfoLevel)
			}
			return withRuntime(cmd.Context(), false, func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:       viper.GetString("jwt-secret"),
					AllowDevHeaders: cfg.Server.AllowDevHeaders,
					Logger:          logger,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowDevHeaders {
					return fmt.Errorf("INNKEEP_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:         rt.Engine,
					BasePath:       basePath,
					Auth:           authCfg,
					AllowedOrigins: cfg.Server.AllowedOrigins,
					Log:            logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				logger.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "locker": cfg.Engine.Locker}).
					Info("serving innkeep API (OpenAPI at openapi.json, Swagger UI at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func runtimeOptions(skipRebuild bool) app.Options {
	return app.Options{
		Workspace:   viper.GetString("workspace"),
		Driver:      viper.GetString("driver"),
		DSN:         viper.GetString("dsn"),
		Locker:      viper.GetString("locker"),
		RedisAddr:   viper.GetString("redis-addr"),
		Log:         logger,
		SkipRebuild: skipRebuild,
	}
}

// withRuntime opens storage and the engine. Read-only commands skip the
// index rebuild.
func withRuntime(ctx context.Context, readOnly bool, fn func(context.Context, *app.Runtime) error) error {
	rt, err := app.Open(ctx, runtimeOptions(readOnly))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "ik_" + hex.EncodeToString(buf), nil
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
