// Package downloads saves files the player pushes to the kiosk.
package downloads

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/kiosk-presence/kiosk/internal/delivery"
)

const maxExtLen = 16

// File is the payload of a fileReceived event. File is base64 on the wire.
type File struct {
	File      []byte `json:"file"`
	Extension string `json:"extension"`
}

type Saver struct {
	dir   string
	newID func() string
}

func NewSaver(dir string) *Saver {
	return &Saver{dir: dir, newID: func() string { return uuid.NewString()[:8] }}
}

// Save writes the file carried by a fileReceived payload and returns its
// path.
func (s *Saver) Save(data json.RawMessage) (string, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("decode file: %w: %w", delivery.ErrMalformedPayload, err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	name := fmt.Sprintf("received_file-%s.%s", s.newID(), extension(f.Extension))
	path := filepath.Join(s.dir, name)

	// Written under a temp name so a watcher on the directory never sees a
	// partial file.
	tmp, err := os.CreateTemp(s.dir, ".download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(f.File); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return "", fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	committed = true
	return path, nil
}

// Handle is a controller event observer.
func (s *Saver) Handle(ev delivery.Event) {
	if ev.Type != delivery.EventFileReceived {
		return
	}
	path, err := s.Save(ev.Data)
	if err != nil {
		log.Printf("downloads: %v", err)
		return
	}
	log.Printf("downloads: saved %s", path)
}

// extension keeps only ASCII letters and digits so the name cannot leave
// the download directory.
func extension(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	var b strings.Builder
	for _, r := range ext {
		if b.Len() == maxExtLen {
			break
		}
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "bin"
	}
	return strings.ToLower(b.String())
}
