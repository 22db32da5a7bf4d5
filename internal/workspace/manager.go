package workspace

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/agentctl/agentctl/internal/apperr"
	"github.com/rs/zerolog/log"
)

// Manager presents a per-workspace directory tree rooted at Root.
type Manager struct {
	Root string
}

// New builds a Manager rooted at the configured object mount path.
func New(root string) *Manager {
	return &Manager{Root: root}
}

func (m *Manager) workspaceDir(workspaceID string) string {
	return filepath.Join(m.Root, workspaceID)
}

// Ensure creates the workspace directory if missing and initializes a VCS
// marker the first time, then returns the absolute path. Safe to call
// concurrently for the same workspace_id: MkdirAll and the VCS init guard
// are both idempotent.
func (m *Manager) Ensure(workspaceID string) (string, error) {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return "", err
	}

	dir := m.workspaceDir(workspaceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.Internal, "failed to create workspace directory", err)
	}

	markerPath := filepath.Join(dir, vcsMarkerDir)
	if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		m.initVCS(dir)
	}

	return dir, nil
}

// initVCS runs `git init` and configures a throwaway commit identity.
// Failure is logged, never propagated: a workspace without VCS is still
// usable for every other purpose.
func (m *Manager) initVCS(dir string) {
	if _, err := exec.LookPath("git"); err != nil {
		log.Warn().Str("dir", dir).Msg("workspace: git binary not found, skipping VCS init")
		return
	}

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Warn().Err(err).Str("dir", dir).Str("output", string(out)).Msg("workspace: git command failed")
		}
	}

	run("init")
	run("config", "user.name", "agentctl")
	run("config", "user.email", "agentctl@localhost")
}

// List returns the entries under subpath within workspaceID, excluding
// dot-prefixed names at the workspace root so control directories like
// .git never show up in an inventory.
func (m *Manager) List(workspaceID, subpath string) ([]FileEntry, error) {
	clean, err := cleanSubpath(subpath)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(m.workspaceDir(workspaceID), clean)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "path not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to list directory", err)
	}

	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		if clean == "" && len(e.Name()) > 0 && e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileEntry{
			Name:    e.Name(),
			Path:    filepath.Join(clean, e.Name()),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Upload writes src to subpath within workspaceID, rejecting payloads over
// MaxUploadBytes.
func (m *Manager) Upload(workspaceID, subpath string, src io.Reader, size int64) error {
	if size > MaxUploadBytes {
		return apperr.New(apperr.Validation, "upload exceeds maximum size of 100 MiB")
	}

	clean, err := cleanSubpath(subpath)
	if err != nil {
		return err
	}
	if clean == "" {
		return apperr.New(apperr.Validation, "upload target path must not be empty")
	}

	dest := filepath.Join(m.workspaceDir(workspaceID), clean)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to create upload directory", err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to create upload target", err)
	}
	defer f.Close()

	limited := io.LimitReader(src, MaxUploadBytes+1)
	n, err := io.Copy(f, limited)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "failed to write upload", err)
	}
	if n > MaxUploadBytes {
		os.Remove(dest)
		return apperr.New(apperr.Validation, "upload exceeds maximum size of 100 MiB")
	}

	return nil
}

// UploadTar extracts a gzip-compressed tar stream into workspaceID,
// preserving relative paths. It is the bulk counterpart to Upload, used
// by the client runtime to sync a whole workspace tree in one request
// instead of one per file. Every entry name is run through the same
// cleanSubpath traversal guard as a single-file upload, and the running
// total is capped at MaxUploadBytes just like Upload.
func (m *Manager) UploadTar(workspaceID string, src io.Reader) error {
	if _, err := m.Ensure(workspaceID); err != nil {
		return err
	}

	gr, err := gzip.NewReader(src)
	if err != nil {
		return apperr.Wrap(apperr.Validation, "upload is not a valid gzip stream", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperr.Wrap(apperr.Validation, "malformed tar stream", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		clean, err := cleanSubpath(hdr.Name)
		if err != nil {
			return err
		}
		if clean == "" {
			continue
		}

		total += hdr.Size
		if total > MaxUploadBytes {
			return apperr.New(apperr.Validation, "upload exceeds maximum size of 100 MiB")
		}

		dest := filepath.Join(m.workspaceDir(workspaceID), clean)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return apperr.Wrap(apperr.Internal, "failed to create upload directory", err)
		}

		f, err := os.Create(dest)
		if err != nil {
			return apperr.Wrap(apperr.Internal, "failed to create upload target", err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return apperr.Wrap(apperr.Internal, "failed to write upload", err)
		}
		f.Close()
	}
}

// Open returns a ReadCloser over subpath for a streamed download.
func (m *Manager) Open(workspaceID, subpath string) (*os.File, error) {
	clean, err := cleanSubpath(subpath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(m.workspaceDir(workspaceID), clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.NotFound, "file not found")
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to open file", err)
	}
	return f, nil
}

// DeleteFile removes subpath within workspaceID.
func (m *Manager) DeleteFile(workspaceID, subpath string) error {
	clean, err := cleanSubpath(subpath)
	if err != nil {
		return err
	}
	if clean == "" {
		return apperr.New(apperr.Validation, "path must not be empty")
	}

	target := filepath.Join(m.workspaceDir(workspaceID), clean)
	if err := os.RemoveAll(target); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete path", err)
	}
	return nil
}

// ListWorkspaces enumerates workspace_ids on the mount, excluding
// dot-prefixed control directories (.thread-cache, .sessions).
func (m *Manager) ListWorkspaces() ([]string, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.Internal, "failed to list workspaces", err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) == 0 || e.Name()[0] == '.' {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

// DeleteWorkspace removes a workspace directory entirely.
func (m *Manager) DeleteWorkspace(workspaceID string) error {
	if err := ValidateWorkspaceID(workspaceID); err != nil {
		return err
	}
	if err := os.RemoveAll(m.workspaceDir(workspaceID)); err != nil {
		return apperr.Wrap(apperr.Internal, "failed to delete workspace", err)
	}
	return nil
}

// SweepOlderThan deletes every workspace whose directory mtime is older
// than the horizon and returns the list of deleted workspace_ids.
func (m *Manager) SweepOlderThan(horizon time.Duration) ([]string, error) {
	ids, err := m.ListWorkspaces()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-horizon)
	var deleted []string
	for _, id := range ids {
		info, err := os.Stat(m.workspaceDir(id))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := m.DeleteWorkspace(id); err != nil {
				log.Warn().Err(err).Str("workspace_id", id).Msg("workspace: retention sweep failed to delete")
				continue
			}
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}
