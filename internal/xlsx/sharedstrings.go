package xlsx

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// sharedStrings is the workbook's shared string table. Cells with t="s"
// store an index into this table instead of inline text.
type sharedStrings struct {
	items []string
}

// loadSharedStrings pull-parses xl/sharedStrings.xml. Rich-text runs inside
// an <si> are concatenated into one string. A workbook without the part is
// valid (all strings inline).
func loadSharedStrings(p *Package) (*sharedStrings, error) {
	const part = "xl/sharedStrings.xml"
	if !p.hasPart(part) {
		return &sharedStrings{}, nil
	}

	rc, err := p.openPart(part)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	ss := &sharedStrings{}
	dec := xml.NewDecoder(rc)

	var sb strings.Builder
	inSI := false
	inT := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse shared strings: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inSI = true
				sb.Reset()
			case "t":
				inT = inSI
			}
		case xml.CharData:
			if inT {
				sb.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				ss.items = append(ss.items, sb.String())
				inSI = false
			}
		}
	}
	return ss, nil
}

// lookup resolves a shared string index, returning "" for out-of-range
// references rather than failing the row.
func (ss *sharedStrings) lookup(idx int) string {
	if idx < 0 || idx >= len(ss.items) {
		return ""
	}
	return ss.items[idx]
}
