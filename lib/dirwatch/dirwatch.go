// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dirwatch reports changes to the files of one directory via
// inotify. It is deliberately narrow: the caller learns that a file
// was written, that a file went away, or that events were lost and
// the directory must be rescanned. What to do about it is the
// caller's business.
package dirwatch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Op classifies a directory event.
type Op int

const (
	// OpChanged: a file was fully written (closed after writing) or
	// moved into the directory.
	OpChanged Op = iota + 1

	// OpRemoved: a file was deleted or moved out of the directory.
	OpRemoved

	// OpOverflow: the kernel queue overflowed and events were lost.
	// Name is empty.
	OpOverflow
)

func (op Op) String() string {
	switch op {
	case OpChanged:
		return "changed"
	case OpRemoved:
		return "removed"
	case OpOverflow:
		return "overflow"
	default:
		return fmt.Sprintf("Op(%d)", int(op))
	}
}

// Event is a single decoded inotify event.
type Event struct {
	Op   Op
	Name string
}

// Handler receives events. Calls are made sequentially from the
// watching goroutine; a slow handler delays later events.
type Handler interface {
	// FileChanged is called with the absolute path of a file that was
	// created, rewritten, or moved in.
	FileChanged(path string)

	// FileRemoved is called with the absolute path of a file that was
	// deleted or moved out.
	FileRemoved(path string)

	// Overflow is called when events were lost.
	Overflow()
}

// watchMask selects the events the watcher reports. IN_CREATE is not
// included: a created file is reported once its writer closes it
// (IN_CLOSE_WRITE), so handlers never see partial content.
const watchMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO | unix.IN_DELETE | unix.IN_MOVED_FROM

// pollTimeoutMilliseconds bounds how long the loop waits before
// re-checking the context.
const pollTimeoutMilliseconds = 100

// Watch reports events for directory to handler until ctx is
// cancelled. Returns nil on cancellation and an error if the watch
// cannot be established or the inotify descriptor fails.
//
// Events that happen before Watch installs its watch are not seen;
// callers that need a consistent view scan the directory after Watch
// signals readiness through the ready callback (may be nil).
func Watch(ctx context.Context, directory string, handler Handler, logger *slog.Logger, ready func()) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("dirwatch: inotify_init1: %w", err)
	}
	defer unix.Close(fd)

	if _, err := unix.InotifyAddWatch(fd, directory, watchMask); err != nil {
		return fmt.Errorf("dirwatch: inotify_add_watch on %s: %w", directory, err)
	}
	logger.Info("watching directory", "directory", directory)
	if ready != nil {
		ready()
	}

	buffer := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))
	for {
		if ctx.Err() != nil {
			return nil
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, pollTimeoutMilliseconds)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("dirwatch: poll: %w", err)
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("dirwatch: read: %w", err)
		}

		for _, event := range ParseEvents(buffer[:bytesRead]) {
			logger.Debug("directory event", "op", event.Op.String(), "name", event.Name)
			switch event.Op {
			case OpChanged:
				handler.FileChanged(filepath.Join(directory, event.Name))
			case OpRemoved:
				handler.FileRemoved(filepath.Join(directory, event.Name))
			case OpOverflow:
				logger.Warn("inotify queue overflowed, rescanning", "directory", directory)
				handler.Overflow()
			}
		}
	}
}

// ParseEvents decodes a buffer of raw inotify events. Events on the
// watched directory itself (empty name) are skipped except for queue
// overflow.
//
// Layout per inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded
//	};
func ParseEvents(buffer []byte) []Event {
	var events []Event
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		mask := binary.NativeEndian.Uint32(buffer[offset+4 : offset+8])
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		name := nullTerminated(buffer[offset+unix.SizeofInotifyEvent : offset+eventSize])
		offset += eventSize

		switch {
		case mask&unix.IN_Q_OVERFLOW != 0:
			events = append(events, Event{Op: OpOverflow})
		case name == "" || mask&unix.IN_ISDIR != 0:
			continue
		case mask&(unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO) != 0:
			events = append(events, Event{Op: OpChanged, Name: name})
		case mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
			events = append(events, Event{Op: OpRemoved, Name: name})
		}
	}
	return events
}

func nullTerminated(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
