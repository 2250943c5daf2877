// Package profile manages the lock files Chrome keeps in a user data
// directory while a browser process owns it.
package profile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ytget/livecap/internal/logger"
)

// LockFiles are created in the user data directory root by a running Chrome.
// SingletonLock is a symlink on Linux and macOS.
var LockFiles = []string{"SingletonLock", "SingletonCookie", "SingletonSocket"}

// DefaultPollInterval is how often WaitReleased looks at the lock files.
const DefaultPollInterval = 250 * time.Millisecond

var log = logger.WithComponent(logger.ComponentProfile)

// ParseUserDataArg extracts the directory from "--user-data-dir=X",
// "user-data-dir=X" or a bare path. Quotes and whitespace are trimmed.
func ParseUserDataArg(arg string) string {
	s := strings.TrimSpace(arg)
	s = strings.TrimPrefix(s, "--")
	if strings.HasPrefix(s, "user-data-dir=") {
		s = strings.TrimPrefix(s, "user-data-dir=")
	}
	return strings.Trim(strings.TrimSpace(s), `"'`)
}

// Locked reports which lock files currently exist in dir.
func Locked(dir string) []string {
	if dir == "" {
		return nil
	}
	var held []string
	for _, name := range LockFiles {
		if _, err := os.Lstat(filepath.Join(dir, name)); err == nil {
			held = append(held, name)
		}
	}
	return held
}

// IsLocked reports whether any lock file exists in dir.
func IsLocked(dir string) bool {
	return len(Locked(dir)) > 0
}

// WaitReleased polls until dir holds no lock file or timeout expires.
// It returns true when the profile is free. An empty dir is always free.
func WaitReleased(ctx context.Context, dir string, timeout, poll time.Duration) bool {
	if dir == "" {
		return true
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if !IsLocked(dir) {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !IsLocked(dir)
		case <-ticker.C:
		}
	}
}

// CleanupLocks removes stale lock files. Errors are logged and ignored;
// a live browser will simply recreate them.
func CleanupLocks(dir string) {
	for _, name := range Locked(dir) {
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove lock file failed", logger.Fields{"file": p, "err": err})
			continue
		}
		log.Debug("removed stale lock file", logger.Fields{"file": p})
	}
}

// IsBusyError reports whether err says the user data directory is in use
// by another browser process. Chrome hands a launch over to the process
// that already holds the profile and exits with "Opening in existing
// browser session."; chromedriver reports the directory as in use.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "user data directory is already in use") ||
		strings.Contains(msg, "opening in existing browser session") {
		return true
	}
	return strings.Contains(msg, "profile") && strings.Contains(msg, "in use")
}
