package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"keylocker/internal/agent"
	"keylocker/internal/config"
	"keylocker/internal/configdir"
	"keylocker/internal/locker"
	"keylocker/internal/logging"
	"keylocker/internal/store"
)

const agentLogFile = "agent.log"

// mustLockerDir resolves the locker directory or exits
func mustLockerDir() string {
	dir, err := configdir.EnsureLockerDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving locker directory: %v\n", err)
		os.Exit(1)
	}
	return dir
}

// loadConfig loads config.yaml, falling back to defaults on error
func loadConfig(dir string) config.Config {
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		return config.DefaultConfig()
	}
	return cfg
}

func newLogger(cfg config.Config, dir string) *logging.Logger {
	level := logging.Level(cfg.Logging.Level)

	path := cfg.Logging.File
	if path == "" {
		path = filepath.Join(dir, agentLogFile)
	}
	logger, err := logging.NewFileLogger(level, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to open log file, logging to stderr: %v\n", err)
		return logging.NewLogger(level)
	}
	return logger
}

func closeLogger(logger *logging.Logger) {
	if err := logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
	}
}

// unlockInteractive prompts for the passphrase and returns the derived
// key along with the decrypted store. Exits on any failure.
func unlockInteractive(dir string) ([]byte, *store.Store) {
	if !locker.IsInitialized(dir) {
		fmt.Fprintf(os.Stderr, "No locker found at %s\n", dir)
		fmt.Fprintf(os.Stderr, "Run 'keylocker init' first.\n")
		os.Exit(1)
	}

	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		passphrase = promptSecret("Passphrase: ")
	}

	key, err := locker.Unlock(dir, passphrase)
	if err != nil {
		if errors.Is(err, locker.ErrInvalidPassphrase) {
			fmt.Fprintf(os.Stderr, "Invalid passphrase\n")
		} else {
			fmt.Fprintf(os.Stderr, "Error unlocking: %v\n", err)
		}
		os.Exit(1)
	}

	st, err := store.Load(dir, key)
	if err != nil {
		zero(key)
		fmt.Fprintf(os.Stderr, "Error loading store: %v\n", err)
		os.Exit(1)
	}
	return key, st
}

// promptSecret reads a line with terminal echo disabled
func promptSecret(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
	return string(value)
}

// promptNewPassphrase prompts twice and requires both entries to match
func promptNewPassphrase() string {
	first := promptSecret("New passphrase: ")
	if strings.TrimSpace(first) == "" {
		fmt.Fprintf(os.Stderr, "Passphrase must not be empty\n")
		os.Exit(1)
	}
	second := promptSecret("Confirm passphrase: ")
	if first != second {
		fmt.Fprintf(os.Stderr, "Passphrases do not match\n")
		os.Exit(1)
	}
	return first
}

// stopAgentForWrite stops a running agent before a store mutation. A
// live agent serves the snapshot it was primed with, so mutating while
// it runs would hand clients deleted or missing secrets until its TTL.
// Returns whether an agent was running so the caller can start a fresh
// one after the mutation.
func stopAgentForWrite(dir string) bool {
	client := agent.NewClient(dir)
	if !client.IsRunning() {
		return false
	}
	if err := client.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping agent before write: %v\n", err)
		os.Exit(1)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !client.IsRunning() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "Error: agent did not stop in time\n")
	os.Exit(1)
	return true
}

// restartAgentAfterWrite starts a fresh agent primed from the updated
// store when one was stopped for the write.
func restartAgentAfterWrite(dir string, key []byte, wasRunning bool) {
	if !wasRunning {
		return
	}
	if err := agent.Spawn(dir, key); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to restart agent: %v\n", err)
	}
}

func maybeSpawnAgentFromConfig(dir string, key []byte) {
	cfg := loadConfig(dir)
	if !cfg.Agent.AutoStart {
		return
	}
	if agent.NewClient(dir).IsRunning() {
		return
	}
	if err := agent.Spawn(dir, key); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to auto-start agent: %v\n", err)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
