package api

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/p-arndt/sessionbox/internal/session"
	"github.com/p-arndt/sessionbox/internal/staging"
)

var (
	// sessionIDPattern matches caller-chosen session ids: letters, digits and ._:@-
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]*$`)
)

const maxSessionIDLength = 128

// ValidateSessionID checks a session id taken from a request path.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("session id must not exceed %d characters", maxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id must start with a letter or digit and contain only letters, digits, '.', '_', ':', '@' and '-'")
	}
	return nil
}

func validateRunRequest(req runRequest) error {
	if req.FileName != "" {
		if err := staging.ValidateEntryName(req.FileName); err != nil {
			return fmt.Errorf("file_name: %w", err)
		}
	}
	if req.SourceDir != "" && !filepath.IsAbs(req.SourceDir) {
		return fmt.Errorf("source_dir must be an absolute path")
	}
	return nil
}

func validateInstallRequest(req installRequest) error {
	if err := session.ValidatePackageName(req.PackageName); err != nil {
		return fmt.Errorf("package_name: %w", err)
	}
	return nil
}
