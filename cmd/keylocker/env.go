package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"keylocker/internal/agent"
)

// collectSecrets returns all live secrets as name→value, preferring a
// running agent over a passphrase prompt
func collectSecrets(dir string) map[string]string {
	client := agent.NewClient(dir)
	secrets, err := client.GetSecrets()
	if err == nil {
		return secrets
	}
	if !errors.Is(err, agent.ErrAgentNotRunning) {
		fmt.Fprintf(os.Stderr, "Error querying agent: %v\n", err)
		os.Exit(1)
	}

	key, st := unlockInteractive(dir)
	defer zero(key)
	maybeSpawnAgentFromConfig(dir, key)

	secrets, err = st.ExportAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading secrets: %v\n", err)
		os.Exit(1)
	}
	return secrets
}

// runExport prints every secret in env or JSON format
func runExport() {
	format := "env"
	for _, arg := range os.Args[2:] {
		switch arg {
		case "--json":
			format = "json"
		case "--env":
			format = "env"
		default:
			fmt.Fprintf(os.Stderr, "Usage: keylocker export [--json|--env]\n")
			os.Exit(1)
		}
	}

	secrets := collectSecrets(mustLockerDir())

	switch format {
	case "json":
		out, err := json.MarshalIndent(secrets, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding secrets: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	case "env":
		names := make([]string, 0, len(secrets))
		for name := range secrets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s=%s\n", name, secrets[name])
		}
	}
}

// runImport bulk-loads secrets from a dotenv or JSON file
func runImport() {
	format := "env"
	path := ""
	for _, arg := range os.Args[2:] {
		switch arg {
		case "--json":
			format = "json"
		case "--env":
			format = "env"
		default:
			if path != "" {
				importUsage()
			}
			path = arg
		}
	}
	if path == "" {
		importUsage()
	}

	var secrets map[string]string
	var err error
	switch format {
	case "json":
		secrets, err = readJSONFile(path)
	case "env":
		secrets, err = readEnvFile(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	dir := mustLockerDir()
	key, st := unlockInteractive(dir)
	defer zero(key)
	wasRunning := stopAgentForWrite(dir)

	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := st.Add(name, secrets[name], nil, true); err != nil {
			fmt.Fprintf(os.Stderr, "Error importing %s: %v\n", name, err)
			restartAgentAfterWrite(dir, key, wasRunning)
			os.Exit(1)
		}
	}

	fmt.Printf("✓ Imported %d secrets from %s\n", len(names), path)
	restartAgentAfterWrite(dir, key, wasRunning)
}

func importUsage() {
	fmt.Fprintf(os.Stderr, "Usage: keylocker import <file> [--json|--env]\n")
	os.Exit(1)
}

func readJSONFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var secrets map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("not a flat JSON object of strings: %w", err)
	}
	return secrets, nil
}

// readEnvFile parses KEY=VALUE lines, skipping blanks and comments.
func readEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close file: %v\n", cerr)
		}
	}()

	secrets := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		name, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed line %d: %s", lineNo, line)
		}
		name = strings.TrimSpace(name)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		secrets[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return secrets, nil
}

// runWithEnv executes a command with every secret injected into its
// environment. The child's exit code is propagated.
func runWithEnv() {
	args := os.Args[2:]
	if len(args) > 0 && args[0] == "--" {
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "Usage: keylocker run [--] <command> [args...]\n")
		os.Exit(1)
	}

	secrets := collectSecrets(mustLockerDir())

	env := os.Environ()
	for name, value := range secrets {
		env = append(env, name+"="+value)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "Error running command: %v\n", err)
		os.Exit(1)
	}
}
