package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/casetrail/backend/internal/util"
)

// UnsupportedFormatError reports an upload in a format the ingest pipeline
// cannot read. Callers map it to a 4xx response or a permanent queue
// failure instead of retrying.
type UnsupportedFormatError struct {
	Ext string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q", e.Ext)
}

// IsUnsupportedFormat reports whether err is (or wraps) an
// UnsupportedFormatError.
func IsUnsupportedFormat(err error) bool {
	var ue *UnsupportedFormatError
	return errors.As(err, &ue)
}

// TextFromFile returns the narrative text of an uploaded case document.
// Plain text and Word documents are supported; everything else fails with
// an UnsupportedFormatError.
func TextFromFile(name string, content []byte) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "txt", "md":
		// arbitrary uploads; the text ends up in Postgres columns
		return util.SanitizePostgresText(string(content)), nil
	case "docx":
		text, err := parseDocx(content)
		if err != nil {
			return "", err
		}
		return util.SanitizePostgresText(string(text)), nil
	default:
		return "", &UnsupportedFormatError{Ext: ext}
	}
}
