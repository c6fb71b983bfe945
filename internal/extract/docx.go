package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const docXMLMax = 50 << 20

// parseDocx pulls the visible text out of a .docx archive by streaming
// word/document.xml. Paragraphs become lines, tabs and breaks are kept,
// tracked deletions are skipped.
func parseDocx(content []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("document.xml not found in docx")
	}
	if docFile.UncompressedSize64 > docXMLMax {
		return nil, fmt.Errorf("document.xml too large: %d bytes", docFile.UncompressedSize64)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open document.xml: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(io.LimitReader(rc, int64(docXMLMax)))

	var sb strings.Builder
	inText := false
	delDepth := 0

	writeNewline := func() {
		if sb.Len() == 0 {
			return
		}
		if !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "del":
				delDepth++
			case "t":
				inText = true
			case "tab":
				if delDepth == 0 {
					sb.WriteRune('\t')
				}
			case "br", "cr":
				if delDepth == 0 {
					sb.WriteByte('\n')
				}
			case "noBreakHyphen":
				if delDepth == 0 {
					sb.WriteRune('-')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "del":
				if delDepth > 0 {
					delDepth--
				}
			case "t":
				inText = false
			case "p":
				if delDepth == 0 {
					writeNewline()
				}
			}
		case xml.CharData:
			if inText && delDepth == 0 {
				sb.Write(t)
			}
		}
	}

	return []byte(strings.TrimSpace(sb.String())), nil
}
