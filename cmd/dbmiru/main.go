package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mirulabs/dbmiru/internal/config"
	"github.com/mirulabs/dbmiru/internal/db"
	"github.com/mirulabs/dbmiru/internal/db/postgres"
	"github.com/mirulabs/dbmiru/internal/profile"
	"github.com/mirulabs/dbmiru/internal/secret"
	"github.com/mirulabs/dbmiru/internal/session"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configDir := flag.String("config-dir", "", "config directory (default: OS config location)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	flag.Parse()

	if err := run(*configDir, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "dbmiru: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir, logLevel string) error {
	log := newLogger(logLevel)

	if configDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("config dir: %w", err)
		}
		configDir = filepath.Join(base, "dbmiru")
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		log.Warn("load config", "err", err)
		cfg = config.Default()
	}

	profiles := profile.NewStore(configDir)
	secrets := secret.NewKeyringStore()

	factory := func(p profile.ConnectionProfile) db.Adapter {
		return postgres.New(p, postgres.Options{
			ConnectTimeout:       cfg.ConnectTimeout,
			KeepaliveInterval:    cfg.KeepaliveInterval,
			RowLimit:             cfg.RowLimit,
			IncludeSystemSchemas: cfg.IncludeSystemSchemas,
			Logger:               log,
		})
	}
	manager := session.NewManager(factory, session.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Logger:         log,
	})

	rl, err := readline.New("dbmiru> ")
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	a := &app{
		cfg:      cfg,
		profiles: profiles,
		secrets:  secrets,
		manager:  manager,
		rl:       rl,
		log:      log,
	}
	a.loop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.Warn("shutdown", "err", err)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// app holds the interactive loop's state: at most one open session at a time,
// plus the token of the last submitted command so cancel knows its target.
type app struct {
	cfg      config.Config
	profiles *profile.Store
	secrets  secret.Store
	manager  *session.Manager
	rl       *readline.Instance
	log      *slog.Logger

	current   session.Handle
	connected bool
	lastToken session.Token
}

func (a *app) loop() {
	fmt.Println("dbmiru. Type 'help' for commands, 'quit' to exit.")
	for {
		line, err := a.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil { // io.EOF on ^D
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !a.command(line) {
			return
		}
	}
}

// command handles one input line. It returns false to exit the loop.
func (a *app) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return false
	case "help":
		printHelp()
	case "profiles":
		a.listProfiles()
	case "add":
		a.addProfile()
	case "connect":
		a.connect(fields[1:])
	case "disconnect":
		a.submit(session.Disconnect(session.NewToken()))
		a.connected = false
	case "schemas":
		a.submit(session.ListSchemas(session.NewToken()))
	case "tables":
		if len(fields) != 2 {
			fmt.Println("usage: tables <schema>")
			return true
		}
		a.submit(session.ListTables(session.NewToken(), fields[1]))
	case "columns":
		if len(fields) != 3 {
			fmt.Println("usage: columns <schema> <table>")
			return true
		}
		a.submit(session.ListColumns(session.NewToken(), fields[1], fields[2]))
	case "preview":
		a.preview(fields[1:])
	case "cancel":
		if !a.connected {
			fmt.Println("not connected; use 'connect <name>'")
			return true
		}
		if a.lastToken == "" {
			fmt.Println("nothing to cancel")
			return true
		}
		if err := a.current.Cancel(a.lastToken); err != nil {
			fmt.Printf("%v\n", err)
		}
	default:
		// Anything else is SQL.
		a.submit(session.Execute(session.NewToken(), line))
	}
	return true
}

func printHelp() {
	fmt.Print(`commands:
  profiles                      list saved connection profiles
  add                           add a connection profile
  connect <name>                open a session for a profile
  disconnect                    close the current session
  schemas                       list schemas
  tables <schema>               list tables in a schema
  columns <schema> <table>      list columns of a table
  preview <schema> <table> [n]  sample rows from a table
  cancel                        cancel the last submitted command
  quit                          exit
anything else is executed as SQL against the current session.
`)
}

func (a *app) listProfiles() {
	list, err := a.profiles.Load()
	if err != nil {
		fmt.Printf("load profiles: %v\n", err)
		return
	}
	if len(list) == 0 {
		fmt.Println("no profiles; use 'add'")
		return
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	t := newTable()
	t.AppendHeader(table.Row{"name", "connection"})
	for _, p := range list {
		t.AppendRow(table.Row{p.Name, p.DisplayString()})
	}
	t.Render()
}

func (a *app) addProfile() {
	name := a.prompt("name: ")
	host := a.prompt("host: ")
	var port uint16
	if raw := a.prompt("port (5432): "); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			fmt.Printf("invalid port: %v\n", err)
			return
		}
		port = uint16(n)
	}
	database := a.prompt("database: ")
	username := a.prompt("username: ")
	remember := strings.EqualFold(a.prompt("remember password? (y/N): "), "y")
	p := profile.New(name, host, port, database, username, remember)

	if err := p.Validate(); err != nil {
		fmt.Printf("invalid profile: %v\n", err)
		return
	}

	list, err := a.profiles.Load()
	if err != nil {
		fmt.Printf("load profiles: %v\n", err)
		return
	}
	for _, existing := range list {
		if existing.Name == p.Name {
			fmt.Printf("profile %q already exists\n", p.Name)
			return
		}
	}
	list = append(list, p)
	if err := a.profiles.Save(list); err != nil {
		fmt.Printf("save profiles: %v\n", err)
		return
	}
	fmt.Printf("saved %s\n", p.DisplayString())
}

func (a *app) prompt(msg string) string {
	a.rl.SetPrompt(msg)
	defer a.rl.SetPrompt("dbmiru> ")
	line, err := a.rl.Readline()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

func (a *app) connect(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: connect <name>")
		return
	}
	list, err := a.profiles.Load()
	if err != nil {
		fmt.Printf("load profiles: %v\n", err)
		return
	}
	var p profile.ConnectionProfile
	var found bool
	for _, candidate := range list {
		if candidate.Name == args[0] {
			p, found = candidate, true
			break
		}
	}
	if !found {
		fmt.Printf("no profile named %q\n", args[0])
		return
	}

	password, err := a.resolvePassword(p)
	if err != nil {
		fmt.Printf("resolve password: %v\n", err)
		return
	}

	h := a.manager.OpenSession(p)
	if h != a.current {
		// A fresh session gets exactly one event printer; reconnecting to an
		// already-open profile reuses the existing one.
		a.current = h
		go a.printEvents(h)
	}
	a.connected = true

	token := session.NewToken()
	a.lastToken = token
	if err := h.Submit(session.Connect(token, db.Credential{Username: p.Username, Secret: password})); err != nil {
		fmt.Printf("connect: %v\n", err)
	}
}

// resolvePassword checks the OS keyring first for remembered profiles and
// falls back to an interactive prompt. The password is handed straight to the
// session and never written anywhere else.
func (a *app) resolvePassword(p profile.ConnectionProfile) (string, error) {
	if p.RememberPassword {
		stored, err := a.secrets.Get(p)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, secret.ErrNotFound) {
			a.log.Warn("keyring lookup failed", "profile", p.Name, "err", err)
		}
	}

	raw, err := a.rl.ReadPassword(fmt.Sprintf("password for %s: ", p.Username))
	if err != nil {
		return "", err
	}
	password := string(raw)

	if p.RememberPassword {
		if err := a.secrets.Set(p, password); err != nil {
			a.log.Warn("keyring store failed", "profile", p.Name, "err", err)
		}
	}
	return password, nil
}

func (a *app) preview(args []string) {
	if len(args) < 2 || len(args) > 3 {
		fmt.Println("usage: preview <schema> <table> [limit]")
		return
	}
	limit := a.cfg.PreviewLimit
	if len(args) == 3 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Printf("invalid limit: %v\n", err)
			return
		}
		limit = n
	}
	a.submit(session.Preview(session.NewToken(), args[0], args[1], limit))
}

func (a *app) submit(cmd session.Command) {
	if !a.connected {
		fmt.Println("not connected; use 'connect <name>'")
		return
	}
	if cmd.Kind != session.CmdCancel {
		a.lastToken = cmd.Token
	}
	if err := a.current.Submit(cmd); err != nil {
		fmt.Printf("%v\n", err)
		if errors.Is(err, session.ErrSessionClosed) {
			a.connected = false
		}
	}
}

// printEvents drains one session's event stream until it closes, rendering
// each event as it arrives.
func (a *app) printEvents(h session.Handle) {
	for ev := range h.Events() {
		switch e := ev.(type) {
		case session.Connected:
			fmt.Printf("connected to %s (server %s)\n", e.Info.Database, e.Info.ServerVersion)
		case session.ConnectionClosed:
			fmt.Printf("connection closed: %s\n", e.Reason)
		case session.QueryStarted:
			// Quiet; the result or error follows.
		case session.QueryResult:
			printOutcome(e.Outcome)
		case session.PreviewResult:
			fmt.Printf("preview of %s.%s:\n", e.Schema, e.Table)
			printOutcome(e.Outcome)
		case session.QueryError:
			fmt.Printf("query error [%s]: %s\n", e.Kind, e.Summary)
			if e.Detail != "" {
				fmt.Println(e.Detail)
			}
		case session.SchemasLoaded:
			printNames("schema", e.Schemas)
		case session.TablesLoaded:
			printNames("table", e.Tables)
		case session.ColumnsLoaded:
			printColumns(e.Columns)
		case session.MetadataError:
			fmt.Printf("metadata error [%s]: %s\n", e.Kind, e.Summary)
		case session.Cancelled:
			fmt.Println("cancelled")
		case session.CommandRejected:
			fmt.Printf("rejected %s: %s\n", e.Command, e.Reason)
		}
	}
}

func printOutcome(o *db.QueryOutcome) {
	if len(o.Columns) == 0 {
		fmt.Printf("ok, %d row(s) affected (%s)\n", o.RowCount, o.Elapsed.Round(time.Millisecond))
		return
	}

	t := newTable()
	header := make(table.Row, len(o.Columns))
	for i, c := range o.Columns {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, row := range o.Rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		t.AppendRow(r)
	}
	t.Render()

	suffix := ""
	if o.Truncated {
		suffix = fmt.Sprintf(", showing first %d", len(o.Rows))
	}
	fmt.Printf("%d row(s)%s (%s)\n", o.RowCount, suffix, o.Elapsed.Round(time.Millisecond))
}

func printNames(kind string, names []string) {
	if len(names) == 0 {
		fmt.Printf("no %ss\n", kind)
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{kind})
	for _, n := range names {
		t.AppendRow(table.Row{n})
	}
	t.Render()
}

func printColumns(columns []db.Column) {
	t := newTable()
	t.AppendHeader(table.Row{"column", "type", "nullable"})
	for _, c := range columns {
		t.AppendRow(table.Row{c.Name, c.DataType, c.Nullable})
	}
	t.Render()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}
