package main

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/tabsync/internal/analyzer"
	"github.com/lotas/tabsync/internal/applog"
	"github.com/lotas/tabsync/internal/config"
	"github.com/lotas/tabsync/internal/engine"
	"github.com/lotas/tabsync/internal/export"
	"github.com/lotas/tabsync/internal/firefox"
	"github.com/lotas/tabsync/internal/materialize"
	"github.com/lotas/tabsync/internal/remote"
	"github.com/lotas/tabsync/internal/server"
	"github.com/lotas/tabsync/internal/sessionfile"
	"github.com/lotas/tabsync/internal/snapshot"
	"github.com/lotas/tabsync/internal/storage"
	"github.com/lotas/tabsync/internal/tui"
	"github.com/lotas/tabsync/internal/types"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "tabs":
			runTabs(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "save":
			runSave(os.Args[2:])
			return
		case "import":
			runImport(os.Args[2:])
			return
		case "repair":
			runRepair(os.Args[2:])
			return
		case "snapshot":
			runSnapshot(os.Args[2:])
			return
		case "profiles":
			runProfiles()
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("tabsync", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(os.Args[1:])

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := newEngine(cfg, materialize.NewHeadless(), db)
	model := tui.NewModel(ctx, eng)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	_, err := p.Run()
	model.Close()
	eng.Close()
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`tabsync — synced tab manager

Usage:
  tabsync                                  Start the TUI (default)
    --api <url>            Tab API base URL (env: TABSYNC_API_URL)
    --token <token>        API bearer token (env: TABSYNC_TOKEN)
    --db <path>            Local database (env: TABSYNC_DB)

  tabsync serve [--port N]                 Serve a UI shell over WebSocket (default: 19192)

  tabsync tabs [--check]                   List tabs; --check probes for dead links

  tabsync export                           Export tabs to stdout or file
    --json                 Export as JSON instead of markdown
    --out <file>           Output file path (default: stdout)
    --session <file>       Export a saved session file instead of the live tabs

  tabsync save <file>                      Save the current tabs to a session file
  tabsync import <file>                    Open the tabs of a session file
  tabsync import --firefox [--profile X]   Open the tabs of a Firefox profile
  tabsync profiles                         List Firefox profiles

  tabsync repair                           Fix tabs that share position zero

  tabsync snapshot [--label "text"]        Snapshot the tabs (only if changed)
  tabsync snapshot list                    List saved snapshots
  tabsync snapshot diff [rev] [rev2]       Compare snapshots or current tabs
  tabsync snapshot delete <rev> [--yes]    Delete a snapshot
  tabsync snapshot restore <rev>           Reopen the tabs of a snapshot

Every command accepts --api, --token and --db.

Environment:
  TABSYNC_API_URL            Tab API base URL (default: http://localhost:3000/api)
  TABSYNC_TOKEN              API bearer token
  TABSYNC_REQUEST_TIMEOUT    Remote call timeout (default: 15s)
  TABSYNC_MAX_OPEN_TABS      Background frames kept open (default: 5)
  TABSYNC_INACTIVITY_TIMEOUT Idle time before a frame may be closed (default: 15m)
  TABSYNC_FETCH_TITLES       Fetch page titles for new tabs (default: true)
  TABSYNC_PORT               WebSocket port for serve (default: 19192)
  TABSYNC_DB                 Database path (default: ~/.local/share/tabsync/tabsync.db)
  TABSYNC_LOG_DIR            Log directory (default: next to the database)
`)
}

// --- Shared setup ---

type globalFlags struct {
	api   *string
	token *string
	db    *string
}

func addGlobalFlags(fs *flag.FlagSet) globalFlags {
	return globalFlags{
		api:   fs.String("api", "", "Tab API base URL (overrides TABSYNC_API_URL)"),
		token: fs.String("token", "", "API bearer token (overrides TABSYNC_TOKEN)"),
		db:    fs.String("db", "", "Database path (overrides TABSYNC_DB)"),
	}
}

// loadConfig reads the environment, applies flag overrides and sets up
// logging. Flags win over environment variables.
func loadConfig(g globalFlags) config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *g.api != "" {
		cfg.APIURL = *g.api
	}
	if *g.token != "" {
		cfg.Token = *g.token
	}
	if *g.db != "" {
		cfg.DBPath = *g.db
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if cfg.DBPath == "" {
		cfg.DBPath, err = storage.DefaultDBPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Dir(cfg.DBPath)
	}
	if err := applog.Init(logDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	return *cfg
}

func openDB(cfg config.Config) *sql.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

func newEngine(cfg config.Config, frames materialize.Frames, db *sql.DB) *engine.Engine {
	client := remote.NewClient(cfg.APIURL,
		remote.WithToken(cfg.Token),
		remote.WithTimeout(cfg.RequestTimeout),
	)
	var opts []engine.Option
	if db != nil {
		opts = append(opts, engine.WithDB(db))
	}
	return engine.New(cfg, client, frames, opts...)
}

// loadTabs loads the remote tabs into a fresh engine without presenting
// anything. Callers must Close the engine to flush background calls.
func loadTabs(ctx context.Context, cfg config.Config, db *sql.DB) *engine.Engine {
	eng := newEngine(cfg, materialize.NewHeadless(), db)
	res, err := eng.Reconciler.Load(ctx)
	if err != nil {
		eng.Close()
		fmt.Fprintf(os.Stderr, "Error loading tabs from %s: %v\n", cfg.APIURL, err)
		os.Exit(1)
	}
	if res.Duplicates > 0 {
		fmt.Fprintf(os.Stderr, "Ignored %d duplicate tabs.\n", res.Duplicates)
	}
	return eng
}

func parseRev(s string) int {
	rev, err := strconv.Atoi(s)
	if err != nil || rev < 1 {
		fmt.Fprintf(os.Stderr, "Invalid revision number: %s\n", s)
		os.Exit(1)
	}
	return rev
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
// Boolean flags must be given as --flag=value when followed by a
// positional argument.
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && !isBoolFlag(args[i]) &&
				i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "yes", "json", "check", "firefox":
		return true
	}
	return false
}

// --- Commands ---

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	g := addGlobalFlags(fs)
	port := fs.Int("port", 0, "WebSocket port (overrides TABSYNC_PORT)")
	fs.Parse(args)

	cfg := loadConfig(g)
	if *port != 0 {
		cfg.Port = *port
	}
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg.Port)
	eng := newEngine(cfg, server.NewFrameBridge(srv), db)
	defer eng.Close()
	bridge := engine.NewBridge(eng, srv)
	go bridge.Run(ctx)

	res, err := eng.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not load tabs: %v\n", err)
	} else {
		fmt.Fprintf(os.Stderr, "Loaded %d tabs from %s\n", res.Loaded, eng.Account())
		if res.NeedsRepair {
			fmt.Fprintln(os.Stderr, "Tab positions are inconsistent; run `tabsync repair`.")
		}
	}

	fmt.Fprintf(os.Stderr, "Waiting for UI shell on ws://127.0.0.1:%d ...\n", cfg.Port)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTabs(args []string) {
	fs := flag.NewFlagSet("tabs", flag.ExitOnError)
	g := addGlobalFlags(fs)
	check := fs.Bool("check", false, "Probe http(s) tabs for dead links")
	fs.Parse(args)

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	ctx := context.Background()
	eng := loadTabs(ctx, cfg, db)
	defer eng.Close()

	tabs := eng.Registry.List()
	spaces := make(map[string]string)
	for _, s := range eng.Registry.Spaces() {
		spaces[s.ID] = s.Name
	}

	fmt.Printf("%-6s %4s  %-16s %-40s  %s\n", "ID", "POS", "SPACE", "TITLE", "URL")
	for _, t := range tabs {
		rid, _ := t.ID.Remote()
		space := export.PersonalName
		if t.SpaceID != "" {
			space = spaces[t.SpaceID]
			if space == "" {
				space = t.SpaceID
			}
		}
		if t.Overflowed {
			space += "*"
		}
		fmt.Printf("%-6s %4d  %-16s %-40s  %s\n", rid, t.Position, truncate(space, 16), truncate(t.Title, 40), t.URL)
	}

	stats := analyzer.ComputeStats(tabs, eng.Registry.Spaces())
	fmt.Printf("\n%d tabs · %d personal · %d in More · %d spaces\n",
		stats.TotalTabs, stats.PersonalTabs, stats.OverflowedTabs, stats.Spaces)

	if !*check {
		return
	}
	fmt.Fprintln(os.Stderr, "Checking links...")
	dead := analyzer.CheckLinks(ctx, tabs)
	if len(dead) == 0 {
		fmt.Println("No dead links.")
		return
	}
	fmt.Printf("\nDead links (%d):\n", len(dead))
	for _, d := range dead {
		fmt.Printf("  %-12s %s\n", d.Reason, d.Tab.URL)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	g := addGlobalFlags(fs)
	jsonFlag := fs.Bool("json", false, "Export as JSON instead of markdown")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	sessionPath := fs.String("session", "", "Export a saved session file instead of the live tabs")
	fs.Parse(args)

	cfg := loadConfig(g)
	defer applog.Close()

	var (
		session types.Session
		account = cfg.APIURL
	)
	if *sessionPath != "" {
		var err error
		session, err = sessionfile.ReadFile(*sessionPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		account = ""
	} else {
		db := openDB(cfg)
		defer db.Close()
		eng := loadTabs(context.Background(), cfg, db)
		session = eng.Reconciler.Session()
		eng.Close()
	}

	var output string
	if *jsonFlag {
		var err error
		output, err = export.JSON(session, account, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	} else {
		output = export.Markdown(session, account, time.Now())
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Print(output)
	}
}

func runSave(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(reorderArgs(args))

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: tabsync save <file>")
		os.Exit(1)
	}

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	eng := loadTabs(context.Background(), cfg, db)
	session := eng.Reconciler.Session()
	eng.Close()

	if err := sessionfile.WriteFile(fs.Arg(0), session); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved %d tabs in %d spaces to %s\n", len(session.Tabs), len(session.Spaces), fs.Arg(0))
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fromFirefox := fs.Bool("firefox", false, "Import the open tabs of a Firefox profile")
	profileName := fs.String("profile", "", "Firefox profile name (default: the default profile)")
	fs.Parse(reorderArgs(args))

	var (
		session types.Session
		source  string
		err     error
	)
	switch {
	case *fromFirefox:
		session, source, err = readFirefox(*profileName)
	case fs.NArg() == 1:
		source = fs.Arg(0)
		session, err = sessionfile.ReadFile(source)
	default:
		fmt.Fprintln(os.Stderr, "Usage: tabsync import <file> | tabsync import --firefox [--profile name]")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	eng := loadTabs(context.Background(), cfg, db)
	n := eng.Reconciler.Import(context.Background(), session)
	eng.Close()

	skipped := len(session.Tabs) - n
	fmt.Printf("Opened %d tabs from %s", n, source)
	if skipped > 0 {
		fmt.Printf(" (%d already open)", skipped)
	}
	fmt.Println()
}

// readFirefox reads the session of the named profile, or the default
// profile when name is empty.
func readFirefox(name string) (types.Session, string, error) {
	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		return types.Session{}, "", fmt.Errorf("discover profiles: %w", err)
	}
	if len(profiles) == 0 {
		return types.Session{}, "", fmt.Errorf("no Firefox profiles found")
	}
	profile, err := firefox.FindProfile(profiles, name)
	if err != nil {
		return types.Session{}, "", err
	}
	session, err := firefox.ReadSessionFile(profile.Path)
	if err != nil {
		return types.Session{}, "", fmt.Errorf("read session: %w", err)
	}
	return session, "Firefox profile " + profile.Name, nil
}

func runProfiles() {
	profiles, err := firefox.DiscoverProfiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error discovering Firefox profiles: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "No Firefox profiles found.")
		os.Exit(1)
	}

	for _, p := range profiles {
		suffix := ""
		if p.IsDefault {
			suffix = " [default]"
		}
		fmt.Printf("%s (%s)%s\n", p.Name, p.Path, suffix)
	}
}

func runRepair(args []string) {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	eng := loadTabs(context.Background(), cfg, db)
	n := eng.Reconciler.RepairPositions(context.Background())
	eng.Close()

	if n == 0 {
		fmt.Println("Tab positions are consistent.")
		return
	}
	fmt.Printf("Repaired positions in %d scopes.\n", n)
}

// --- Snapshots ---

func runSnapshot(args []string) {
	// If no args or first arg is a flag, it's the auto-create flow.
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		runSnapshotCreate(args)
		return
	}

	subcmd := args[0]
	subArgs := args[1:]

	switch subcmd {
	case "create":
		runSnapshotCreate(subArgs)
	case "list":
		runSnapshotList(subArgs)
	case "diff":
		runSnapshotDiff(subArgs)
	case "delete":
		runSnapshotDelete(subArgs)
	case "restore":
		runSnapshotRestore(subArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown snapshot command %q. Use list, diff, delete, or restore.\n", subcmd)
		os.Exit(1)
	}
}

func runSnapshotCreate(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	g := addGlobalFlags(fs)
	label := fs.String("label", "", "Optional label for the snapshot")
	fs.Parse(args)

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	eng := loadTabs(context.Background(), cfg, db)
	session := eng.Reconciler.Session()
	eng.Close()

	rev, created, diff, err := snapshot.Create(db, eng.Account(), session, *label)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating snapshot: %v\n", err)
		os.Exit(1)
	}

	if !created {
		fmt.Printf("No changes since snapshot #%d\n", rev)
		return
	}
	fmt.Printf("Snapshot #%d created: %d tabs in %d spaces\n", rev, len(session.Tabs), len(session.Spaces))

	if diff != nil && !diff.Empty() {
		fmt.Println()
		fmt.Print(snapshot.FormatDiff(diff))
	}
}

func runSnapshotList(args []string) {
	fs := flag.NewFlagSet("snapshot list", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(args)

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	snaps, err := storage.ListSnapshots(db, cfg.APIURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing snapshots: %v\n", err)
		os.Exit(1)
	}

	if len(snaps) == 0 {
		fmt.Println("No snapshots found.")
		return
	}

	fmt.Printf("%-5s %5s  %-20s  %s\n", "REV", "TABS", "LABEL", "CREATED")
	for _, s := range snaps {
		fmt.Printf("%5d %5d  %-20s  %s\n",
			s.Rev,
			s.TabCount,
			s.Name,
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
}

func runSnapshotDiff(args []string) {
	fs := flag.NewFlagSet("snapshot diff", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(reorderArgs(args))

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	var (
		result *snapshot.DiffResult
		err    error
	)
	switch fs.NArg() {
	case 0, 1:
		// Latest or given rev vs current.
		rev := 0
		if fs.NArg() == 1 {
			rev = parseRev(fs.Arg(0))
		}
		eng := loadTabs(context.Background(), cfg, db)
		current := eng.Reconciler.Session()
		eng.Close()
		result, err = snapshot.DiffAgainstCurrent(db, cfg.APIURL, rev, current)
	case 2:
		result, err = snapshot.DiffRevs(db, cfg.APIURL, parseRev(fs.Arg(0)), parseRev(fs.Arg(1)))
	default:
		fmt.Fprintln(os.Stderr, "Usage: tabsync snapshot diff [rev] [rev2]")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(snapshot.FormatDiff(result))
}

func runSnapshotDelete(args []string) {
	fs := flag.NewFlagSet("snapshot delete", flag.ExitOnError)
	g := addGlobalFlags(fs)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tabsync snapshot delete <rev> [--yes]")
		os.Exit(1)
	}
	rev := parseRev(fs.Arg(0))

	if !*yes {
		fmt.Printf("Delete snapshot #%d? [y/N] ", rev)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	if err := storage.DeleteSnapshot(db, cfg.APIURL, rev); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Snapshot #%d deleted.\n", rev)
}

func runSnapshotRestore(args []string) {
	fs := flag.NewFlagSet("snapshot restore", flag.ExitOnError)
	g := addGlobalFlags(fs)
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: tabsync snapshot restore <rev>")
		os.Exit(1)
	}
	rev := parseRev(fs.Arg(0))

	cfg := loadConfig(g)
	db := openDB(cfg)
	defer db.Close()
	defer applog.Close()

	ctx := context.Background()
	eng := loadTabs(ctx, cfg, db)
	n, err := snapshot.Restore(ctx, db, eng.Account(), rev, eng.Reconciler)
	eng.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Printf("All tabs of snapshot #%d are already open.\n", rev)
		return
	}
	fmt.Printf("Reopened %d tabs from snapshot #%d.\n", n, rev)
}
