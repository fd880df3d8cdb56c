// Package wal journals every accepted message before the database write, so
// a message acknowledged to a sender survives a storage outage and gets
// replayed into the store once it recovers.
package wal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/mercura/order-chat/internal/models"
	"github.com/mercura/order-chat/pkg/logger"

	"go.uber.org/zap"
)

// Entry is one journaled message. The message already carries its
// authoritative id and created_at; replay never re-assigns identity.
type Entry struct {
	Message models.Message `json:"message"`
}

// WAL is an append-only newline-delimited JSON journal.
type WAL struct {
	filePath string
	file     *os.File
	mu       sync.Mutex
}

// NewWAL opens (or creates) the journal at filePath.
func NewWAL(filePath string) (*WAL, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &WAL{
		filePath: filePath,
		file:     file,
	}, nil
}

// Write appends an entry and syncs it to disk before returning.
func (w *WAL) Write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		logger.Log.Error("WAL: failed to marshal entry",
			zap.String("message_id", entry.Message.ID),
			zap.Error(err),
		)
		return err
	}

	if _, err := w.file.WriteString(string(data) + "\n"); err != nil {
		logger.Log.Error("WAL: failed to write entry",
			zap.String("message_id", entry.Message.ID),
			zap.Error(err),
		)
		return err
	}

	if err := w.file.Sync(); err != nil {
		logger.Log.Error("WAL: failed to sync to disk",
			zap.String("message_id", entry.Message.ID),
			zap.Error(err),
		)
		return err
	}

	return nil
}

// Pending returns every journaled entry that has not been cleaned up yet.
func (w *WAL) Pending() ([]Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.readAllUnsafe()
}

// Cleanup drops entries whose messages have been persisted, rewriting the
// journal atomically with only the remainder.
func (w *WAL) Cleanup(persistedIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	allEntries, err := w.readAllUnsafe()
	if err != nil {
		return err
	}

	persisted := make(map[string]bool, len(persistedIDs))
	for _, id := range persistedIDs {
		persisted[id] = true
	}

	var remaining []Entry
	for _, entry := range allEntries {
		if !persisted[entry.Message.ID] {
			remaining = append(remaining, entry)
		}
	}

	if len(remaining) == len(allEntries) {
		return nil
	}

	// Build the replacement before touching the live handle, so a failure
	// here leaves the journal writable.
	tempFile := w.filePath + ".tmp"
	f, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	for _, entry := range remaining {
		data, _ := json.Marshal(entry)
		f.WriteString(string(data) + "\n")
	}
	f.Sync()
	f.Close()

	w.file.Close()

	if err := os.Rename(tempFile, w.filePath); err != nil {
		os.Remove(tempFile)
		// Get the append handle back so later writes still land in the
		// original file.
		if reopened, openErr := os.OpenFile(w.filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644); openErr == nil {
			w.file = reopened
		} else {
			logger.Log.Error("WAL: failed to reopen after rename failure",
				zap.String("file_path", w.filePath),
				zap.Error(openErr),
			)
		}
		return err
	}

	// Reopen with the same flags so subsequent writes append to the new file.
	newFile, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		logger.Log.Error("WAL: failed to reopen after cleanup",
			zap.String("file_path", w.filePath),
			zap.Error(err),
		)
		return err
	}
	w.file = newFile

	logger.Log.Debug("WAL: cleanup completed",
		zap.Int("before_count", len(allEntries)),
		zap.Int("remaining_count", len(remaining)),
	)

	return nil
}

// readAllUnsafe reads all entries without locking (internal use only).
func (w *WAL) readAllUnsafe() ([]Entry, error) {
	file, err := os.Open(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, scanner.Err()
}

// Close closes the journal file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
