package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// loadEnvFile loads API keys from ~/.cortex/.env and ~/.cortexcompanion/.env.
// Variables already set in the environment win.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	for _, path := range []string{
		filepath.Join(home, ".cortex", ".env"),
		filepath.Join(home, ".cortexcompanion", ".env"),
	} {
		loadEnv(path)
	}
}

func loadEnv(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	loaded := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if _, set := os.LookupEnv(key); !set {
			os.Setenv(key, value)
			loaded++
		}
	}
	return loaded
}
