package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/angelmondragon/fulfillment-engine/pkg/bootstrap"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands never open a database connection.
var offline = map[string]func(opts options) error{
	"create": func(opts options) error {
		if opts.name == "" {
			return fmt.Errorf("-name is required for create")
		}
		path, err := migrate.CreateSQLMigration(dirOrDefault(opts.dir), opts.name)
		if err != nil {
			return err
		}
		fmt.Println("created", path)
		return nil
	},
	"validate": func(opts options) error {
		if err := migrate.ValidateDir(dirOrDefault(opts.dir)); err != nil {
			return err
		}
		fmt.Println("migrations ok")
		return nil
	},
}

var online = map[string]func(ctx context.Context, conn *sql.DB, opts options) error{
	"up":     gooseCommand("up"),
	"down":   gooseCommand("down"),
	"redo":   gooseCommand("redo"),
	"status": gooseCommand("status"),
	"current": func(ctx context.Context, conn *sql.DB, _ options) error {
		version, err := migrate.CurrentVersion(ctx, conn)
		if err != nil {
			return err
		}
		fmt.Println(version)
		return nil
	},
	"version": func(ctx context.Context, conn *sql.DB, opts options) error {
		if opts.version == "" {
			return fmt.Errorf("-version is required for version")
		}
		return migrate.MigrateToVersion(ctx, conn, opts.dir, opts.version)
	},
}

func gooseCommand(name string) func(context.Context, *sql.DB, options) error {
	return func(ctx context.Context, conn *sql.DB, opts options) error {
		return migrate.Run(ctx, conn, opts.dir, name)
	}
}

func dirOrDefault(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}

func commandNames() string {
	names := make([]string, 0, len(offline)+len(online))
	for name := range offline {
		names = append(names, name)
	}
	for name := range online {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func main() {
	cmd := flag.String("cmd", "up", "migration command: "+commandNames())
	var opts options
	flag.StringVar(&opts.dir, "dir", "", "migrations directory (empty uses the set compiled into this binary; create/validate default to "+migrate.DefaultDir+")")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS, or 0) for -cmd=version")
	flag.Parse()

	if run, ok := offline[*cmd]; ok {
		if err := run(opts); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", *cmd, err)
			os.Exit(1)
		}
		return
	}

	run, ok := online[*cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown -cmd %q (want %s)\n", *cmd, commandNames())
		os.Exit(2)
	}

	proc := bootstrap.Must(bootstrap.Start("migrate"))
	ctx := proc.Logger.WithFields(context.Background(), map[string]any{
		"env": proc.Config.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	// Opened directly: the dev auto-migrate hook must not run ahead of down or redo.
	dbClient, err := db.New(ctx, proc.Config.DB, proc.Logger)
	if err != nil {
		proc.Fatal(ctx, "database unavailable", err)
	}
	proc.Defer("database", dbClient)

	conn, err := dbClient.DB().DB()
	if err != nil {
		proc.Fatal(ctx, "database handle unavailable", err)
	}
	if err := run(ctx, conn, opts); err != nil {
		proc.Fatal(ctx, "migration command failed", err)
	}
	_ = proc.Shutdown(ctx)
	proc.Logger.Info(ctx, "migration command finished")
}
