package session

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/hydrolab-data/seastate/internal/monitoring"
)

// AttachAdminRoutes mounts the catalog's operator tooling under
// /debug/: a tailsql browser over the live database and an on-demand
// backup download.
func (c *Catalog) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+c.path, c.DB, &tailsql.DBOptions{
		Label: "Session catalog",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a catalog backup now", http.HandlerFunc(c.handleBackup))
	return nil
}

// handleBackup snapshots the catalog with VACUUM INTO and streams the
// result gzipped. The snapshot file is removed after the download.
func (c *Catalog) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("catalog-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(filepath.Dir(c.path), name)
	if _, err := c.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/octet-stream")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("failed to stream backup: %v", err)
	}
}
