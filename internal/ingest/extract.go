package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/htmlindex"
)

// ErrUnsupported means no text extractor handles the content type.
var ErrUnsupported = eris.New("ingest: unsupported content type")

// maxZipEntry bounds a single decompressed archive member.
const maxZipEntry = 32 << 20

var mimeExt = map[string]string{
	"text/plain":                ".txt",
	"text/markdown":             ".md",
	"text/csv":                  ".csv",
	"text/tab-separated-values": ".tsv",
	"text/html":                 ".html",
	"application/xhtml+xml":     ".html",
	"application/json":          ".json",
	"application/xml":           ".xml",
	"text/xml":                  ".xml",
	"application/zip":           ".zip",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
}

// extOf picks the extension that decides the extractor. The name wins over
// the MIME type.
func extOf(name, mimeType string) string {
	if ext := strings.ToLower(path.Ext(name)); ext != "" {
		return ext
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		return mimeExt[mt]
	}
	return ""
}

// Extract returns the plain text of a file. It returns ErrUnsupported for
// binary formats it cannot read (PDF, images, office documents other than
// spreadsheets).
func Extract(name, mimeType string, data []byte) (string, error) {
	return extract(name, mimeType, data, true)
}

func extract(name, mimeType string, data []byte, allowArchive bool) (string, error) {
	switch ext := extOf(name, mimeType); ext {
	case ".txt", ".text", ".md", ".markdown", ".rst", ".log":
		return decodeText(data), nil
	case ".csv":
		return csvText(data, ',')
	case ".tsv":
		return csvText(data, '\t')
	case ".json", ".jsonl":
		return jsonText(data), nil
	case ".html", ".htm":
		return htmlText(data)
	case ".xml":
		return xmlText(data)
	case ".xlsx":
		return xlsxText(data)
	case ".zip":
		if !allowArchive {
			return "", eris.Wrap(ErrUnsupported, "nested archive")
		}
		return zipText(data)
	default:
		if strings.HasPrefix(mimeType, "text/") {
			return decodeText(data), nil
		}
		return "", eris.Wrapf(ErrUnsupported, "%q (%s)", name, mimeType)
	}
}

func csvText(data []byte, delim rune) (string, error) {
	r := csv.NewReader(strings.NewReader(decodeText(data)))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var b strings.Builder
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "csv: read row")
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		b.WriteString(strings.Join(record, "\t"))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// jsonText pretty-prints valid JSON so keys and values read as lines, and
// passes anything else through.
func jsonText(data []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, trimBOM(data), "", "  "); err != nil {
		return decodeText(data)
	}
	return out.String()
}

var skipHTML = map[string]bool{"script": true, "style": true, "noscript": true, "template": true, "svg": true, "head": true}

var blockHTML = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true,
	"blockquote": true, "table": true, "ul": true, "ol": true, "header": true, "footer": true,
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", eris.Wrap(err, "html: parse")
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipHTML[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockHTML[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return b.String(), nil
}

func xmlText(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", eris.Wrap(err, "xml: read token")
		}
		switch t := tok.(type) {
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" {
				b.WriteString(s)
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}

func xlsxText(data []byte) (string, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return "", eris.Wrap(err, "xlsx: open workbook")
	}
	var b strings.Builder
	for _, sheet := range f.Sheets {
		if len(f.Sheets) > 1 {
			b.WriteString("## " + sheet.Name + "\n")
		}
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, strings.TrimSpace(cell.String()))
			}
			line := strings.TrimRight(strings.Join(cells, "\t"), "\t")
			if line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// zipText extracts every readable member of an archive. Unreadable members
// are skipped; an archive with no readable member is unsupported.
func zipText(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "zip: open archive")
	}
	var parts []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || f.UncompressedSize64 > maxZipEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(io.LimitReader(rc, maxZipEntry))
		_ = rc.Close()
		if err != nil {
			continue
		}
		text, err := extract(f.Name, "", body, false)
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, "### "+f.Name+"\n"+text)
	}
	if len(parts) == 0 {
		return "", eris.Wrap(ErrUnsupported, "zip: no readable members")
	}
	return strings.Join(parts, "\n\n"), nil
}
