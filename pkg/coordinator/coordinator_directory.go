package coordinator

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fragstore/pkg/protocol"
	"fragstore/pkg/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// stagingPrefix marks reassembly files in the coordinator directory.
// They are private to one retrieve and never listed or deletable.
const stagingPrefix = ".staging-"

func isStagingName(name string) bool {
	return strings.HasPrefix(name, stagingPrefix)
}

// Entries returns the sorted names of the regular files in the coordinator
// directory, staging files excluded. A missing directory has no entries.
func (c *Coordinator) Entries() ([]string, error) {
	entries, err := os.ReadDir(c.config.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read coordinator directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || isStagingName(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (c *Coordinator) handleList(conn net.Conn, logger *zap.Logger) error {
	names, err := c.Entries()
	if err != nil {
		logger.Error("Failed to list files", zap.Error(err))
		c.reply(conn, logger, protocol.StatusEmptyList)
		return err
	}
	if len(names) == 0 {
		logger.Debug("No files to list")
		c.reply(conn, logger, protocol.StatusEmptyList)
		return fmt.Errorf("%w: coordinator directory is empty", errFileNotFound)
	}

	logger.Debug("Listing files", zap.Int("count", len(names)))
	return protocol.WriteNameList(conn, names)
}

// handleDelete removes one entry from the coordinator directory. Storage
// nodes are not contacted, so the fragments of that name remain on them.
func (c *Coordinator) handleDelete(conn net.Conn, logger *zap.Logger) error {
	name, err := protocol.ReadString(conn)
	if err != nil {
		return fmt.Errorf("failed to read file name: %w", err)
	}

	if err := c.deleteEntry(name); err != nil {
		logger.Warn("Delete failed", zap.String("file", name), zap.Error(err))
		c.reply(conn, logger, protocol.StatusDeleteFailed)
		return err
	}

	logger.Info("File deleted", zap.String("file", name))
	return protocol.WriteString(conn, protocol.StatusDeleted)
}

func (c *Coordinator) deleteEntry(name string) error {
	if err := storage.ValidateName(name); err != nil {
		return fmt.Errorf("%w: %v", errRejected, err)
	}
	if isStagingName(name) {
		return fmt.Errorf("%w: %q is a staging file", errRejected, name)
	}

	path := filepath.Join(c.config.Directory, name)
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", errFileNotFound, name)
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", errRejected, name)
	}

	return os.Remove(path)
}

func (c *Coordinator) createStagingFile() (*os.File, error) {
	path := filepath.Join(c.config.Directory, stagingPrefix+uuid.NewString())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	return f, nil
}

func (c *Coordinator) removeStagingFile(f *os.File, logger *zap.Logger) {
	f.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove staging file",
			zap.String("path", f.Name()),
			zap.Error(err))
	}
}
