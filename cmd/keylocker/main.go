package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"keylocker/internal/agent"
	"keylocker/internal/configdir"
	"keylocker/internal/locker"
	"keylocker/internal/store"
	"keylocker/internal/tui"
)

const version = "0.1.0-dev"

// passphraseEnv lets scripts unlock non-interactively. Interactive use
// always prompts.
const passphraseEnv = "KEYLOCKER_PASSPHRASE"

func main() {
	if len(os.Args) <= 1 {
		runTUI()
		return
	}

	command := strings.ToLower(os.Args[1])
	if handler, ok := commandHandlers()[command]; ok {
		handler()
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
	printUsage()
	os.Exit(1)
}

func commandHandlers() map[string]func() {
	return map[string]func(){
		"init":    runInit,
		"add":     runAdd,
		"set":     runAdd, // Alias for add
		"get":     runGet,
		"list":    runList,
		"ls":      runList, // Alias for list
		"remove":  runRemove,
		"rm":      runRemove, // Alias for remove
		"export":  runExport,
		"import":  runImport,
		"run":     runWithEnv,
		"agent":   runAgent,
		"version": runVersion,
		"help":    printUsage,
		"--help":  printUsage,
		"-h":      printUsage,
	}
}

func runVersion() {
	fmt.Printf("keylocker version %s\n", version)
}

// runTUI unlocks the store and starts the interactive TUI mode
func runTUI() {
	dir := mustLockerDir()
	cfg := loadConfig(dir)
	logger := newLogger(cfg, dir)
	defer closeLogger(logger)

	startTime := time.Now()
	logger.Info("app.started", "Application started", map[string]interface{}{
		"version": version,
		"ts":      startTime.UTC().Format(time.RFC3339),
	})

	key, st := unlockInteractive(dir)
	defer zero(key)

	// A TUI session may mutate the store. A live agent would keep
	// serving its pre-session snapshot, so stop it for the session and
	// start a fresh one primed from the updated store on exit.
	wasRunning := stopAgentForWrite(dir)
	if wasRunning {
		logger.Info("agent.stopped_for_session", "Stopped agent for interactive session", nil)
	}

	err := tui.Run(st, agent.NewClient(dir), cfg, logger)
	exitReason := "normal"
	if err != nil {
		exitReason = "error"
		logger.Error("app.error", "Application error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if wasRunning || cfg.Agent.AutoStart {
		if spawnErr := agent.Spawn(dir, key); spawnErr != nil {
			logger.Warn("agent.spawn_failed", "Failed to start agent after session", map[string]interface{}{
				"error": spawnErr.Error(),
			})
			fmt.Fprintf(os.Stderr, "Warning: failed to start agent: %v\n", spawnErr)
		} else {
			logger.Info("agent.spawned", "Background agent started", map[string]interface{}{
				"dir": dir,
			})
		}
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}

	logger.Info("app.exited", "Application exited", map[string]interface{}{
		"ts":     time.Now().UTC().Format(time.RFC3339),
		"reason": exitReason,
	})
}

// runInit creates a fresh locker in the config directory
func runInit() {
	force := false
	passphrase := ""
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--force":
			force = true
		case "--passphrase":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "Usage: keylocker init [--force] [--passphrase <value>]\n")
				os.Exit(1)
			}
			passphrase = args[i+1]
			i++
		default:
			fmt.Fprintf(os.Stderr, "Unknown init flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	dir, err := configdir.EnsureLockerDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing locker directory: %v\n", err)
		os.Exit(1)
	}

	if locker.IsInitialized(dir) {
		if !force {
			fmt.Fprintf(os.Stderr, "Locker already initialized at %s\n", dir)
			fmt.Fprintf(os.Stderr, "Use --force to wipe it and start over. This destroys all stored secrets.\n")
			os.Exit(1)
		}
		confirmWipe(dir)
		// A running agent still holds the old key in memory.
		if err := agent.NewClient(dir).Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stop running agent: %v\n", err)
		}
		if err := locker.Reset(dir); err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting locker: %v\n", err)
			os.Exit(1)
		}
		// The old store is sealed under the discarded key; remove it so
		// the fresh locker starts empty instead of corrupt.
		if err := os.Remove(filepath.Join(dir, store.StoreFile)); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error removing old store: %v\n", err)
			os.Exit(1)
		}
	}

	if passphrase == "" {
		passphrase = promptNewPassphrase()
	}

	key, err := locker.Initialize(dir, passphrase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing locker: %v\n", err)
		os.Exit(1)
	}
	zero(key)

	fmt.Printf("✓ Locker initialized at %s\n", dir)
}

func confirmWipe(dir string) {
	fmt.Printf("⚠️  Warning: this will permanently delete all secrets in %s\n", dir)
	fmt.Print("Type 'yes' to confirm: ")
	var response string
	if _, err := fmt.Scanln(&response); err != nil || strings.ToLower(response) != "yes" {
		fmt.Fprintf(os.Stderr, "Aborted\n")
		os.Exit(1)
	}
}

// runAdd stores a new secret
func runAdd() {
	name := ""
	value := ""
	expires := ""
	overwrite := false
	positional := 0

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--expires":
			if i+1 >= len(args) {
				addUsage()
			}
			expires = args[i+1]
			i++
		case "--overwrite", "-f":
			overwrite = true
		default:
			switch positional {
			case 0:
				name = args[i]
			case 1:
				value = args[i]
			default:
				addUsage()
			}
			positional++
		}
	}
	if name == "" {
		addUsage()
	}

	expiresAt, err := store.ParseExpiryDays(expires)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if value == "" {
		value = promptSecret(fmt.Sprintf("Value for %s: ", name))
	}

	dir := mustLockerDir()
	key, st := unlockInteractive(dir)
	defer zero(key)
	wasRunning := stopAgentForWrite(dir)

	if err := st.Add(name, value, expiresAt, overwrite); err != nil {
		if errors.Is(err, store.ErrDuplicateSecret) {
			fmt.Fprintf(os.Stderr, "Secret %s already exists. Use --overwrite to replace it.\n", name)
		} else {
			fmt.Fprintf(os.Stderr, "Error adding secret: %v\n", err)
		}
		restartAgentAfterWrite(dir, key, wasRunning)
		os.Exit(1)
	}

	fmt.Printf("✓ Stored %s\n", name)
	restartAgentAfterWrite(dir, key, wasRunning)
}

func addUsage() {
	fmt.Fprintf(os.Stderr, "Usage: keylocker add <name> [value] [--expires <days>] [--overwrite]\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "When value is omitted it is read from a hidden prompt.\n")
	os.Exit(1)
}

// runGet prints a single secret value to stdout
func runGet() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: keylocker get <name>\n")
		os.Exit(1)
	}
	name := os.Args[2]
	dir := mustLockerDir()

	// Fast path: a running agent answers without a passphrase.
	client := agent.NewClient(dir)
	value, found, err := client.GetSecret(name)
	if err == nil {
		if !found {
			fmt.Fprintf(os.Stderr, "Secret not found: %s\n", name)
			os.Exit(1)
		}
		fmt.Println(value)
		return
	}
	if !errors.Is(err, agent.ErrAgentNotRunning) {
		fmt.Fprintf(os.Stderr, "Error querying agent: %v\n", err)
		os.Exit(1)
	}

	key, st := unlockInteractive(dir)
	defer zero(key)
	maybeSpawnAgentFromConfig(dir, key)

	value, err = st.Get(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Secret not found: %s\n", name)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println(value)
}

// runList shows the names of all stored secrets
func runList() {
	dir := mustLockerDir()

	client := agent.NewClient(dir)
	if names, err := client.List(); err == nil {
		for _, name := range names {
			fmt.Println(name)
		}
		return
	} else if !errors.Is(err, agent.ErrAgentNotRunning) {
		fmt.Fprintf(os.Stderr, "Error querying agent: %v\n", err)
		os.Exit(1)
	}

	key, st := unlockInteractive(dir)
	defer zero(key)

	if st.Len() == 0 {
		fmt.Println("No secrets stored.")
		return
	}

	now := time.Now()
	for _, entry := range st.List() {
		line := entry.Name
		if days, ok := entry.DaysUntilExpiration(now); ok {
			line += fmt.Sprintf("  (expires in %dd)", days)
		}
		fmt.Println(line)
	}
}

// runRemove deletes a secret by name
func runRemove() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: keylocker remove <name>\n")
		os.Exit(1)
	}
	name := os.Args[2]

	dir := mustLockerDir()
	key, st := unlockInteractive(dir)
	defer zero(key)
	wasRunning := stopAgentForWrite(dir)

	if err := st.Remove(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Secret not found: %s\n", name)
		} else {
			fmt.Fprintf(os.Stderr, "Error removing secret: %v\n", err)
		}
		restartAgentAfterWrite(dir, key, wasRunning)
		os.Exit(1)
	}

	fmt.Printf("✓ Removed %s\n", name)
	restartAgentAfterWrite(dir, key, wasRunning)
}

// runAgent dispatches the agent subcommands
func runAgent() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: keylocker agent <start|run|status|stop>\n")
		os.Exit(1)
	}

	switch strings.ToLower(os.Args[2]) {
	case "start":
		runAgentStart()
	case "run":
		runAgentServe()
	case "status":
		runAgentStatus()
	case "stop":
		runAgentStop()
	default:
		fmt.Fprintf(os.Stderr, "Unknown agent subcommand: %s\n", os.Args[2])
		fmt.Fprintf(os.Stderr, "Valid subcommands: start, run, status, stop\n")
		os.Exit(1)
	}
}

// runAgentStart unlocks the locker and spawns a background agent
func runAgentStart() {
	dir := mustLockerDir()
	if agent.NewClient(dir).IsRunning() {
		fmt.Println("Agent is already running.")
		return
	}

	key, _ := unlockInteractive(dir)
	defer zero(key)

	if err := agent.Spawn(dir, key); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting agent: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Agent started")
}

// runAgentServe is the daemon entry point. It expects the encryption key
// on stdin and must never receive it via argv.
func runAgentServe() {
	dir := ""
	args := os.Args[3:]
	for i := 0; i < len(args); i++ {
		if args[i] == "--dir" && i+1 < len(args) {
			dir = args[i+1]
			i++
		}
	}
	if dir == "" {
		dir = mustLockerDir()
	}

	key, err := agent.ReadKeyFromStdin(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading key: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig(dir)
	logger := newLogger(cfg, dir)
	defer closeLogger(logger)

	st, err := store.Load(dir, key)
	if err != nil {
		zero(key)
		logger.Error("agent.load_failed", "Failed to load store", map[string]interface{}{
			"error": err.Error(),
		})
		fmt.Fprintf(os.Stderr, "Error loading store: %v\n", err)
		os.Exit(1)
	}

	a := agent.New(dir, key, cfg.TTL(), logger)
	if err := a.Serve(st); err != nil {
		fmt.Fprintf(os.Stderr, "Agent error: %v\n", err)
		os.Exit(1)
	}
}

// runAgentStatus pings the agent and reports uptime and session TTL
func runAgentStatus() {
	dir := mustLockerDir()
	data, err := agent.NewClient(dir).Status()
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotRunning) {
			if agent.IsProcessAlive(dir) {
				fmt.Println("Agent process exists but is not answering on its socket.")
				fmt.Printf("Consider removing %s and %s if it is hung.\n",
					agent.SocketPath(dir), agent.PidPath(dir))
				os.Exit(1)
			}
			fmt.Println("Agent is not running.")
			return
		}
		fmt.Fprintf(os.Stderr, "Error querying agent: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Agent is running.")
	fmt.Printf("  Uptime:        %s\n", (time.Duration(data.UptimeSecs) * time.Second).String())
	fmt.Printf("  Session ends:  in %s\n", (time.Duration(data.TTLRemainingSecs) * time.Second).String())
}

// runAgentStop asks a running agent to shut down
func runAgentStop() {
	dir := mustLockerDir()
	client := agent.NewClient(dir)
	if !client.IsRunning() {
		fmt.Println("Agent is not running.")
		return
	}
	if err := client.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping agent: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Agent stopped")
}

func printUsage() {
	fmt.Printf(`keylocker - local secrets locker (version %s)

Usage:
  keylocker                               Start the interactive TUI (default)
  keylocker init [--force]                Initialize a new locker
  keylocker add <name> [value] [--expires <days>] [--overwrite]
                                          Store a secret (prompts when value omitted)
  keylocker get <name>                    Print a secret value
  keylocker list                          List stored secret names
  keylocker remove <name>                 Delete a secret
  keylocker export [--json|--env]         Print all secrets (env format by default)
  keylocker import <file> [--json|--env]  Bulk-load secrets from a dotenv or JSON file
  keylocker run [--] <command> [args...]  Run a command with secrets in its environment
  keylocker agent start                   Unlock and start the background agent
  keylocker agent status                  Show agent uptime and session expiry
  keylocker agent stop                    Stop the background agent
  keylocker version                       Print version information
  keylocker help                          Show this help message

The agent keeps the unlocked session in memory so repeated get/list/run
calls need no passphrase until the session expires.
`, version)
}
