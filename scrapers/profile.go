package scrapers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// chromePreferences makes Chrome save PDFs into downloadPath instead of
// rendering them in its viewer, and never ask where to save.
func chromePreferences(downloadPath string) map[string]any {
	return map[string]any{
		"plugins": map[string]any{
			"always_open_pdf_externally": true,
		},
		"download": map[string]any{
			"default_directory":   downloadPath,
			"prompt_for_download": false,
			"directory_upgrade":   true,
		},
	}
}

// prepareProfile writes the preferences into a fresh user data directory.
// Chrome reads Default/Preferences on startup.
func prepareProfile(profileDir, downloadPath string) error {
	defaultDir := filepath.Join(profileDir, "Default")
	if err := os.MkdirAll(defaultDir, 0700); err != nil {
		return fmt.Errorf("failed to create browser profile: %w", err)
	}
	data, err := json.Marshal(chromePreferences(downloadPath))
	if err != nil {
		return fmt.Errorf("failed to encode browser preferences: %w", err)
	}
	if err := os.WriteFile(filepath.Join(defaultDir, "Preferences"), data, 0600); err != nil {
		return fmt.Errorf("failed to write browser preferences: %w", err)
	}
	return nil
}
