package workspace

import (
	"regexp"
	"strings"

	"github.com/agentctl/agentctl/internal/apperr"
)

var workspaceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateWorkspaceID enforces the shared id regex for workspace_id and
// session_id path segments.
func ValidateWorkspaceID(id string) error {
	if !workspaceIDPattern.MatchString(id) {
		return apperr.New(apperr.Validation, "workspace_id must match [A-Za-z0-9_-]{1,128}")
	}
	return nil
}

// cleanSubpath rejects absolute paths, backslashes, `..` traversal segments,
// and anything over maxPathLength before it is ever joined to a root
// directory.
func cleanSubpath(p string) (string, error) {
	if len(p) > maxPathLength {
		return "", apperr.New(apperr.Validation, "path exceeds maximum length")
	}
	if strings.Contains(p, "\\") {
		return "", apperr.New(apperr.Validation, "path must not contain backslashes")
	}
	if strings.HasPrefix(p, "/") {
		return "", apperr.New(apperr.Validation, "path must not be absolute")
	}

	parts := strings.Split(p, "/")
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", apperr.New(apperr.Validation, "path must not traverse outside the workspace")
		}
	}

	return strings.TrimPrefix(p, "/"), nil
}
