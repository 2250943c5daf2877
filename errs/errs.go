package errs

import (
	"errors"
)

var (
	// ErrProfileBusy indicates the browser user data directory is held by another process.
	ErrProfileBusy = errors.New("profile busy")
	// ErrBrowserStart indicates the browser could not be launched for a reason other than a busy profile.
	ErrBrowserStart = errors.New("browser start failed")
	// ErrNoRooms indicates room discovery returned nothing for the category.
	ErrNoRooms = errors.New("no rooms found")
	// ErrUnknownSite indicates the requested site is not registered.
	ErrUnknownSite = errors.New("unknown site")
	// ErrUnknownCategory indicates the category selector matched nothing.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrInvalidRoomURL indicates a URL is not a room page of the site.
	ErrInvalidRoomURL = errors.New("invalid room url")
	// ErrCaptureFailed indicates the packet capture process failed to start or exited badly.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrScript indicates an injected or user supplied script failed to compile or run.
	ErrScript = errors.New("script failed")
	// ErrTimeout indicates a page condition did not become true in time.
	ErrTimeout = errors.New("timed out")
)
