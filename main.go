package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/auth"
	"github.com/sadopc/vitals/internal/source"
	"github.com/sadopc/vitals/internal/store"
	"github.com/sadopc/vitals/internal/tui"
)

func main() {
	// Optional; client IDs may also come from the environment directly.
	godotenv.Load()

	log, logFile, err := openLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()

	dbPath, err := store.DefaultDBPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	keyPath, err := store.DefaultKeyPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	s, err := store.New(dbPath, keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	am := auth.NewManager(s, clientsFromEnv(), log)

	sources := []source.Source{
		source.NewHealth(s),
		source.NewGitHub(s, am),
		source.NewSpotify(s, am),
	}
	orch := aggregate.New(sources, log)

	app := tui.NewApp(s, orch, am)
	p := tea.NewProgram(app, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openLogger writes structured logs next to the database rather than to
// the terminal, which the TUI owns.
func openLogger() (*slog.Logger, *os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil, err
	}
	dir := filepath.Join(home, ".config", "vitals")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, "vitals.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return slog.New(slog.NewTextHandler(f, nil)), f, nil
}

func clientsFromEnv() map[auth.Destination]auth.ClientCredentials {
	clients := make(map[auth.Destination]auth.ClientCredentials)
	if id := os.Getenv("GITHUB_CLIENT_ID"); id != "" {
		clients[auth.DestGitHub] = auth.ClientCredentials{
			ID:     id,
			Secret: os.Getenv("GITHUB_CLIENT_SECRET"),
		}
	}
	if id := os.Getenv("SPOTIFY_CLIENT_ID"); id != "" {
		clients[auth.DestSpotify] = auth.ClientCredentials{ID: id}
	}
	return clients
}
