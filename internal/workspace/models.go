// Package workspace manages the per-workspace directories rooted at the
// configured object mount: lazy creation with a VCS marker, file listing
// and transfer, and retention sweeps. Every caller-supplied path is run
// through a traversal guard before it touches the filesystem.
package workspace

import "time"

// FileEntry describes one entry in a workspace directory listing.
type FileEntry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

const (
	// vcsMarkerDir is created inside a fresh workspace to record that VCS
	// has been initialized for it.
	vcsMarkerDir = ".git"
	// MaxUploadBytes bounds a single multipart upload.
	MaxUploadBytes = 100 << 20
	// maxPathLength bounds any caller-supplied path; longer paths are
	// rejected outright.
	maxPathLength = 1024
)
