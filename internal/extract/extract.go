package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"audiobrand-backend/internal/shared/storage/object"
	"audiobrand-backend/internal/shared/util"
)

const (
	mimePDF      = "application/pdf"
	mimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeText     = "text/plain"
	mimeMarkdown = "text/markdown"
	mimeJSON     = "application/json"

	maxSourceBytes = 20 << 20
)

// DerivedSuffix is appended to a file key to cache its extracted text.
const DerivedSuffix = ".extracted.txt"

// ExtractText pulls text from a stored object. A derived .extracted.txt copy is
// reused when present and written after a fresh extraction.
func ExtractText(ctx context.Context, store object.ObjectStore, fileKey string, mimeType string, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	extractedKey := fileKey + DerivedSuffix
	if cached, ok := readCached(ctx, store, extractedKey); ok {
		return cached, nil
	}

	body, err := store.Open(ctx, fileKey)
	if err != nil {
		return "", fmt.Errorf("extract text key=%s mime=%s: %w", fileKey, mimeType, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(io.LimitReader(body, maxSourceBytes))
	if err != nil {
		return "", fmt.Errorf("extract text key=%s mime=%s: read: %w", fileKey, mimeType, err)
	}

	text, err := ExtractTextFromBytes(ctx, raw, mimeType, fileName)
	if err != nil {
		return "", fmt.Errorf("extract text key=%s mime=%s: %w", fileKey, mimeType, err)
	}

	if _, err := store.Put(ctx, extractedKey, strings.NewReader(text), "text/plain; charset=utf-8"); err != nil {
		return "", fmt.Errorf("extract text key=%s mime=%s: save derived: %w", fileKey, mimeType, err)
	}

	return text, nil
}

// Excerpt returns at most limit characters of a file's text with whitespace collapsed.
// Unsupported types yield an empty excerpt and no error.
func Excerpt(ctx context.Context, store object.ObjectStore, fileKey, mimeType, fileName string, limit int) (string, error) {
	if !Supported(mimeType, fileName) {
		return "", nil
	}
	text, err := ExtractText(ctx, store, fileKey, mimeType, fileName)
	if err != nil {
		return "", err
	}
	return util.Truncate(text, limit), nil
}

// Supported reports whether text can be extracted from the given type.
func Supported(mimeType, fileName string) bool {
	_, ok := extractors[detectType(mimeType, fileName, nil)]
	return ok
}

// ExtractTextFromBytes extracts text from an in-memory payload.
func ExtractTextFromBytes(ctx context.Context, data []byte, mimeType string, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kind := detectType(mimeType, fileName, data)
	fn, ok := extractors[kind]
	if !ok {
		return "", fmt.Errorf("unsupported mime type: %s", kind)
	}
	return fn(data)
}

var extractors = map[string]func([]byte) (string, error){
	mimePDF:      pdfText,
	mimeDOCX:     docxText,
	mimeText:     plainText,
	mimeMarkdown: plainText,
	mimeJSON:     plainText,
}

var byExtension = map[string]string{
	".pdf":  mimePDF,
	".docx": mimeDOCX,
	".txt":  mimeText,
	".md":   mimeMarkdown,
	".json": mimeJSON,
}

// detectType trusts the declared type except for generic ones. Browsers often
// upload .docx as application/zip, so zips are sniffed for a Word body.
func detectType(mimeType, fileName string, data []byte) string {
	declared := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	ext := strings.ToLower(filepath.Ext(fileName))
	switch declared {
	case "application/zip":
		if zipEntry(data, docxBody) != nil || (len(data) == 0 && ext == ".docx") {
			return mimeDOCX
		}
		return declared
	case "", "application/octet-stream", "binary/octet-stream":
		if kind, ok := byExtension[ext]; ok {
			return kind
		}
	}
	return declared
}

func readCached(ctx context.Context, store object.ObjectStore, key string) (string, bool) {
	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	body, err := store.Open(ctx, key)
	if err != nil {
		return "", false
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return "", false
	}
	return string(raw), true
}

const docxBody = "word/document.xml"

// zipEntry returns the named entry of a zip payload, or nil.
func zipEntry(data []byte, name string) *zip.File {
	if len(data) == 0 {
		return nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == name {
			return f
		}
	}
	return nil
}

func plainText(data []byte) (string, error) {
	return string(data), nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", err
	}
	return b.String(), nil
}

// docxText streams the Word body and keeps paragraph and line breaks.
func docxText(data []byte) (string, error) {
	entry := zipEntry(data, docxBody)
	if entry == nil {
		return "", errors.New("docx: word/document.xml not found")
	}
	rc, err := entry.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var b strings.Builder
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: %w", err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			if t.Name.Local == "tab" {
				b.WriteByte('\t')
			}
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "br") && b.Len() > 0 {
				b.WriteByte('\n')
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
