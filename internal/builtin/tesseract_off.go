//go:build !tesseract

package builtin

import (
	"github.com/toricodesthings/docintel/internal/config"
	"github.com/toricodesthings/docintel/internal/plugin"
)

// Without the tesseract tag only the hosted backend is available.
func registerTesseract(*plugin.Set, config.Config) error { return nil }
