package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	listingapp "github.com/erp/feedsync/internal/application/listing"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/config"
	"github.com/erp/feedsync/internal/infrastructure/logger"
	"github.com/erp/feedsync/internal/infrastructure/migration"
	"github.com/erp/feedsync/internal/infrastructure/persistence"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultMigrationsDir = "migrations"

type cli struct {
	path     string
	logLevel string
	log      *zap.Logger
}

func main() {
	c := &cli{}
	root := c.rootCommand()
	err := root.Execute()
	if c.log != nil {
		_ = c.log.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "feedsync schema migrations",
		Long:  `Applies the feedsync schema migrations.

The database comes from FEEDSYNC_DATABASE_HOST, _PORT, _USER, _PASSWORD,
_DBNAME and _SSLMODE, or the [database] section of config.toml.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().StringVar(&c.path, "path", "", "migrations directory (default: the SQL embedded in the binary)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.dbCommand("up", "Apply every pending migration", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			return m.Up()
		}),
		c.dbCommand("down", "Roll back every migration", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			return m.Down()
		}),
		c.dbCommand("step <n>", "Apply n migrations, negative n rolls back", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("step count %q: %w", args[0], err)
			}
			return m.Steps(n)
		}),
		c.dbCommand("goto <version>", "Migrate up or down to version", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("version %q: %w", args[0], err)
			}
			return m.GoTo(uint(v))
		}),
		c.dbCommand("force <version>", "Set the version without running SQL", cobra.ExactArgs(1), func(m *migration.Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version %q: %w", args[0], err)
			}
			c.log.Warn("Forcing schema version; the dirty flag is cleared without running SQL", zap.Int("version", v))
			return m.Force(v)
		}),
		c.dbCommand("version", "Print the current version and dirty flag", cobra.NoArgs, func(m *migration.Migrator, _ []string) error {
			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			if v == 0 {
				c.log.Info("Schema is empty")
				return nil
			}
			c.log.Info("Schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
			return nil
		}),
		c.createCommand(),
		c.listCommand(),
		c.seedProfilesCommand(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	log, err := logger.New(&logger.Config{
		Level:      c.logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if c.path != "" {
		if c.path, err = filepath.Abs(c.path); err != nil {
			return fmt.Errorf("migrations path: %w", err)
		}
	}
	c.log = log.With(zap.String("command", cmd.Name()), zap.String("source", sourceName(c.path)))
	return nil
}

// dbCommand wraps run with a connected migrator
func (c *cli) dbCommand(use, short string, args cobra.PositionalArgs, run func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			db, err := sql.Open("postgres", cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := db.Ping(); err != nil {
				c.log.Error("Database unreachable", zap.String("host", cfg.Database.Host), zap.Error(err))
				return err
			}

			m, err := migration.New(db, c.path, c.log)
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer m.Close()

			if err := run(m, args); err != nil {
				c.log.Error("Migration failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func (c *cli) createCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name> [description]",
		Short: "Write a new up/down pair into --path (default ./migrations)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(_ *cobra.Command, args []string) error {
			var description string
			if len(args) > 1 {
				description = args[1]
			}
			mf, err := migration.CreateMigration(sourceDir(c.path), args[0], description)
			if err != nil {
				return err
			}
			c.log.Info("Migration created",
				zap.String("version", mf.Version),
				zap.String("up", mf.UpPath),
				zap.String("down", mf.DownPath),
			)
			return nil
		},
	}
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List migrations in --path (default ./migrations)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := migration.ListMigrations(sourceDir(c.path))
			if err != nil {
				return err
			}
			c.log.Info("Migrations", zap.Int("count", len(names)))
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), "  -", name)
			}
			return nil
		},
	}
}

// create and list need a directory even when migrations are embedded
func sourceDir(path string) string {
	if path == "" {
		return defaultMigrationsDir
	}
	return path
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

func (c *cli) seedProfilesCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed-profiles <file|dir>",
		Short: "Validate category profiles from YAML and upsert them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := loadProfiles(args[0])
			if err != nil {
				c.log.Error("Profiles rejected", zap.String("path", args[0]), zap.Error(err))
				return err
			}
			for _, p := range profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s -> %s (%d rules)\n", p.Name, p.TargetCategoryPath, len(p.Rules))
			}
			if dryRun {
				c.log.Info("Profiles valid", zap.Int("count", len(profiles)))
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			db, err := persistence.NewDatabaseWithLogger(&cfg.Database, logger.NewGormLogger(c.log, logger.MapGormLogLevel(c.logLevel)))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			if err := saveProfiles(cmd.Context(), persistence.NewGormCategoryProfileRepository(db.DB), profiles); err != nil {
				c.log.Error("Seeding failed", zap.Error(err))
				return err
			}
			c.log.Info("Profiles seeded", zap.Int("count", len(profiles)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only, do not touch the database")
	return cmd
}

func loadProfiles(path string) ([]*listing.CategoryProfile, error) {
	loader := listingapp.NewProfileLoader(listingapp.NewProfileValidator(listing.DefaultHeuristicRegistry()))
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loader.LoadDir(path)
	}
	return loader.LoadFile(path)
}

func saveProfiles(ctx context.Context, repo listing.CategoryProfileRepository, profiles []*listing.CategoryProfile) error {
	for _, p := range profiles {
		if err := repo.Save(ctx, p); err != nil {
			return fmt.Errorf("save profile %q: %w", p.Name, err)
		}
	}
	return nil
}
