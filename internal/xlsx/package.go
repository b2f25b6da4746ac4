package xlsx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"
)

// spillThreshold is the upload size above which the package is spooled to a
// temp file instead of held in memory. The zip central directory requires
// random access, but sheet bodies are still decompressed as streams.
const spillThreshold = 32 << 20 // 32MB

// oleMagic is the signature of OLE compound documents (legacy .xls).
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// SheetInfo identifies one worksheet inside the package, in workbook order.
type SheetInfo struct {
	Name string
	Part string // zip entry path, e.g. "xl/worksheets/sheet1.xml"
}

// Package is an opened .xlsx container. It holds the workbook metadata,
// shared strings, and style table; sheet bodies are opened on demand as
// decompressed streams and are never buffered whole.
type Package struct {
	zr      *zip.Reader
	sheets  []SheetInfo
	shared  *sharedStrings
	styles  *styleTable
	tmpPath string
}

// OpenStream opens a package from a sequential stream, spooling to a temp
// file when the stream exceeds spillThreshold. The caller must Close the
// returned package.
func OpenStream(r io.Reader) (*Package, error) {
	head := make([]byte, 8)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("read package header: %w", err)
	}
	head = head[:n]
	if bytes.HasPrefix(head, oleMagic) {
		return nil, ErrLegacyFormat
	}
	if !bytes.HasPrefix(head, []byte("PK")) {
		return nil, ErrNotZip
	}

	full := io.MultiReader(bytes.NewReader(head), r)

	// Try to keep small uploads in memory.
	buf := &bytes.Buffer{}
	limited, err := io.Copy(buf, io.LimitReader(full, spillThreshold+1))
	if err != nil {
		return nil, fmt.Errorf("buffer package: %w", err)
	}
	if limited <= spillThreshold {
		return OpenPackage(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	}

	tmp, err := os.CreateTemp("", "migrator-upload-*.xlsx")
	if err != nil {
		return nil, fmt.Errorf("spool package: %w", err)
	}
	size, err := io.Copy(tmp, io.MultiReader(bytes.NewReader(buf.Bytes()), r))
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("spool package: %w", err)
	}
	pkg, err := OpenPackage(tmp, size)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, err
	}
	pkg.tmpPath = tmp.Name()
	return pkg, nil
}

// OpenPackage opens a package from random-access bytes.
func OpenPackage(r io.ReaderAt, size int64) (*Package, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotZip, err)
	}

	p := &Package{zr: zr}
	if err := p.loadWorkbook(); err != nil {
		return nil, err
	}
	if p.shared, err = loadSharedStrings(p); err != nil {
		return nil, err
	}
	if p.styles, err = loadStyles(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Close releases the spool file, if any.
func (p *Package) Close() error {
	if p.tmpPath != "" {
		return os.Remove(p.tmpPath)
	}
	return nil
}

// Sheets returns the worksheets in workbook order.
func (p *Package) Sheets() []SheetInfo { return p.sheets }

// openPart returns a decompressed stream over one zip entry.
func (p *Package) openPart(name string) (io.ReadCloser, error) {
	for _, f := range p.zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("package part %q not found", name)
}

// hasPart reports whether the named zip entry exists.
func (p *Package) hasPart(name string) bool {
	for _, f := range p.zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

// loadWorkbook parses xl/workbook.xml and its relationship part to map each
// sheet name to its worksheet part, preserving workbook order.
func (p *Package) loadWorkbook() error {
	rels, err := p.loadRelationships("xl/_rels/workbook.xml.rels")
	if err != nil {
		return err
	}

	rc, err := p.openPart("xl/workbook.xml")
	if err != nil {
		return fmt.Errorf("workbook metadata: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse workbook.xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}

		var name, relID string
		for _, attr := range se.Attr {
			switch {
			case attr.Name.Local == "name":
				name = attr.Value
			case attr.Name.Local == "id": // r:id
				relID = attr.Value
			}
		}
		part, ok := rels[relID]
		if !ok {
			return fmt.Errorf("sheet %q references unknown relationship %q", name, relID)
		}
		p.sheets = append(p.sheets, SheetInfo{Name: name, Part: part})
	}

	if len(p.sheets) == 0 {
		return fmt.Errorf("workbook contains no sheets")
	}
	return nil
}

// loadRelationships parses a .rels part into id -> resolved part path.
func (p *Package) loadRelationships(part string) (map[string]string, error) {
	rc, err := p.openPart(part)
	if err != nil {
		return nil, fmt.Errorf("workbook relationships: %w", err)
	}
	defer rc.Close()

	var doc struct {
		Relationships []struct {
			ID     string `xml:"Id,attr"`
			Target string `xml:"Target,attr"`
		} `xml:"Relationship"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", part, err)
	}

	rels := make(map[string]string, len(doc.Relationships))
	for _, rel := range doc.Relationships {
		target := rel.Target
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = "xl/" + target
		}
		rels[rel.ID] = target
	}
	return rels, nil
}
