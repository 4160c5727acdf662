package app

import (
	"fmt"

	"buddy/runtime"
)

// ListSessions prints every persisted session, most recently modified
// first, for the `buddy session list` command.
func ListSessions() error {
	dir, err := resolveSessionsDir()
	if err != nil {
		return fmt.Errorf("resolving sessions dir: %w", err)
	}
	store, err := runtime.NewFileSessionStore(dir)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	sessions, err := store.List()
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions found")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s\t%s\n", s.ID, s.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}
