package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"anagami/internal/app"
	"anagami/internal/config"
	"anagami/internal/domain"
	"anagami/internal/engine"
	"anagami/internal/platform/logger"
	"anagami/internal/pricing"
	"anagami/internal/repo"
	"anagami/internal/server"
)

var v = config.New()

var rootCmd = &cobra.Command{
	Use:   "anagami",
	Short: "Anagami business automation service",
	Long: `Anagami drafts sales offers, email replies, contracts, support answers and
marketing copy with an LLM, keeps a human in the loop and prices offers from
managed price lists.
- Task: an input text for one module; draft -> reviewed (generated) -> approved.
- Sections: labeled parts of a task; humans edit content_final, drafts stay as generated.
- Prompts: versioned per module, language and kind; one active version each.
- Offers: priced snapshots computed from the active price list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		if path := v.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
		}
		return nil
	},
}

func main() {
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (yaml)")
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user email (defaults to admin.email)")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("db.workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = v.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = v.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(promptCmd())
	rootCmd.AddCommand(pricingCmd())
	rootCmd.AddCommand(taskCmd())
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(func(a *app.App) error {
				if _, err := a.Seed(ctx); err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				handler, err := server.New(a.ServerConfig())
				if err != nil {
					return err
				}
				go a.Notifier().Run(ctx)

				addr := a.Settings.Server.Addr
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info("serving anagami api", "addr", addr, "base_path", a.Settings.Server.BasePath, "provider", a.Settings.LLM.Provider)
				fmt.Printf("Serving Anagami API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, a.Settings.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("base-path", "", "API base path")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("server.base_path", cmd.Flags().Lookup("base-path"))
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				fmt.Println("database ready:", a.Settings.DB.Workspace)
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the configured admin and default prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				res, err := a.Seed(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userCreateCmd())
	u.AddCommand(userListCmd())
	return u
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				created, err := a.Engine.BootstrapUser(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{created})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "agent", "role (viewer|agent|manager|admin)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (min 8 chars)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				users, err := a.Engine.Repo.ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				return printUsers(users)
			})
		},
	}
}

func printUsers(users []domain.User) error {
	if v.GetBool("json") {
		return printJSON(users)
	}
	tw := newTable("ID", "Email", "Name", "Role", "Active")
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Email, u.Name, u.Role, u.IsActive})
	}
	tw.Render()
	return nil
}

func promptCmd() *cobra.Command {
	p := &cobra.Command{Use: "prompt", Short: "Manage prompt versions"}
	p.AddCommand(promptListCmd())
	p.AddCommand(promptCreateCmd())
	p.AddCommand(promptActivateCmd())
	return p
}

func promptListCmd() *cobra.Command {
	var f repo.PromptFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List prompt versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListPrompts(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printPrompts(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.Scope, "scope", "", "module scope")
	cmd.Flags().StringVar(&f.Language, "language", "", "language (bg|en)")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind (system|style|rules)")
	return cmd
}

func promptCreateCmd() *cobra.Command {
	var opts engine.PromptCreateOptions
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Store a new prompt version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				content, err := readContent(file)
				if err != nil {
					return err
				}
				opts.Content = content
			}
			return withApp(func(a *app.App) error {
				actor, err := actingUser(cmd.Context(), a)
				if err != nil {
					return err
				}
				opts.ActorID = actor
				p, err := a.Engine.CreatePrompt(cmd.Context(), opts)
				if err != nil {
					return err
				}
				return printPrompts([]domain.Prompt{p})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "module scope")
	cmd.Flags().StringVar(&opts.Language, "language", "bg", "language (bg|en)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "system", "kind (system|style|rules)")
	cmd.Flags().StringVar(&opts.Content, "content", "", "prompt text")
	cmd.Flags().StringVar(&file, "file", "", "read prompt text from file (- for stdin)")
	cmd.Flags().BoolVar(&opts.Activate, "activate", false, "activate the new version")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}

func promptActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <id>",
		Short: "Activate a prompt version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				actor, err := actingUser(cmd.Context(), a)
				if err != nil {
					return err
				}
				p, err := a.Engine.ActivatePrompt(cmd.Context(), args[0], actor)
				if err != nil {
					return err
				}
				return printPrompts([]domain.Prompt{p})
			})
		},
	}
}

func printPrompts(items []domain.Prompt) error {
	if v.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable("ID", "Scope", "Lang", "Kind", "Version", "Active", "Content")
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Scope, p.Language, p.Kind, p.Version, p.IsActive, truncate(p.Content, 60)})
	}
	tw.Render()
	return nil
}

func pricingCmd() *cobra.Command {
	p := &cobra.Command{Use: "pricing", Short: "Offer pricing"}
	p.AddCommand(pricingQuoteCmd())
	return p
}

func pricingQuoteCmd() *cobra.Command {
	var items []string
	var req pricing.Request
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview pricing against the active price list",
		Example: `  anagami pricing quote --item website=1 --item seo=3
  anagami pricing quote --item logo=2 --vat-mode none --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := parseItems(items)
			if err != nil {
				return err
			}
			req.Items = lines
			return withApp(func(a *app.App) error {
				res, err := a.Engine.Quote(cmd.Context(), req)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Breakdown)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", nil, "service_key=quantity (repeatable)")
	cmd.Flags().StringVar(&req.Currency, "currency", "", "currency override")
	cmd.Flags().StringVar(&req.VATMode, "vat-mode", "", "vat mode (none|standard)")
	return cmd
}

func parseItems(raw []string) ([]pricing.LineRequest, error) {
	out := make([]pricing.LineRequest, 0, len(raw))
	for _, item := range raw {
		key, qty, ok := strings.Cut(item, "=")
		if !ok {
			qty = "1"
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(qty), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q", item)
		}
		out = append(out, pricing.LineRequest{ServiceKey: strings.TrimSpace(key), Quantity: n})
	}
	return out, nil
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Inspect tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				tasks, err := a.Engine.Repo.ListTasks(cmd.Context(), f)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable("ID", "Module", "Lang", "Status", "Company", "Created")
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Module, t.Language, t.Status, t.Company, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Module, "module", "", "module filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.CreatedBy, "created-by", "", "creator user id")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task with its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				t, sections, err := a.Engine.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(map[string]any{"task": t, "sections": sections})
				}
				fmt.Printf("%s  %s/%s  %s\n\n%s\n", t.ID, t.Module, t.Language, t.Status, t.InputText)
				tw := newTable("Section", "Edited", "Content")
				for _, s := range sections {
					tw.AppendRow(table.Row{s.SectionType, s.ContentFinal != nil, s.Rendered()})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func withApp(fn func(*app.App) error) error {
	s, err := config.FromViper(v)
	if err != nil {
		return err
	}
	log, err := logger.New(s.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()
	a, err := app.Open(s, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// actingUser resolves --as (or admin.email) to an active user id.
func actingUser(ctx context.Context, a *app.App) (string, error) {
	email := v.GetString("as")
	if email == "" {
		email = a.Settings.Admin.Email
	}
	if email == "" {
		return "", errors.New("no acting user; pass --as or set ANAGAMI_ADMIN_EMAIL")
	}
	u, err := a.Engine.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("user %s not found; run anagami seed or user create", email)
		}
		return "", err
	}
	return u.ID, nil
}

func readContent(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printJSON(x any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(x)
}
