package pdftext

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PdfToText extracts text using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes data to a temp file and runs pdftotext -layout on it.
func (p *PdfToText) ExtractText(ctx context.Context, data []byte) (string, error) {
	if _, err := exec.LookPath(p.binPath); err != nil {
		return "", fmt.Errorf("pdftotext unavailable: %w", err)
	}
	tmp, err := os.CreateTemp("", "enricher-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp pdf: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp pdf: %w", err)
	}

	// #nosec G204 -- binary path comes from operator config
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-enc", "UTF-8", tmp.Name(), "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// Native extracts text with the pure-Go ledongthuc/pdf reader.
type Native struct{}

// ExtractText parses the document and concatenates the plain text of every page.
func (Native) ExtractText(_ context.Context, data []byte) (text string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(raw), nil
}

var (
	streamPattern = regexp.MustCompile(`(?s)stream\r?\n(.*?)\nendstream`)
	tjPattern     = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)\s*Tj`)
	tjArrayPat    = regexp.MustCompile(`\[((?:\\.|[^\]])*)\]\s*TJ`)
	arrayString   = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
)

// Raw scans content streams for text-showing operators. It only recovers
// text from simple single-byte fonts, which is usually enough for digits.
type Raw struct{}

// ExtractText inflates Flate streams when possible and collects Tj/TJ strings.
func (Raw) ExtractText(_ context.Context, data []byte) (string, error) {
	var sb strings.Builder
	for _, m := range streamPattern.FindAllSubmatch(data, -1) {
		content := m[1]
		if inflated, err := inflate(content); err == nil {
			content = inflated
		}
		collectText(&sb, content)
	}
	if sb.Len() == 0 {
		collectText(&sb, data)
	}
	return sb.String(), nil
}

func collectText(sb *strings.Builder, content []byte) {
	for _, m := range tjPattern.FindAllSubmatch(content, -1) {
		sb.WriteString(unescapePDFString(m[1]))
		sb.WriteByte('\n')
	}
	for _, m := range tjArrayPat.FindAllSubmatch(content, -1) {
		for _, part := range arrayString.FindAllSubmatch(m[1], -1) {
			sb.WriteString(unescapePDFString(part[1]))
		}
		sb.WriteByte('\n')
	}
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open flate stream: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(io.LimitReader(zr, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("inflate stream: %w", err)
	}
	return out, nil
}

func unescapePDFString(s []byte) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			out.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		case 't':
			out.WriteByte('\t')
		case '(', ')', '\\':
			out.WriteByte(s[i])
		default:
			if s[i] >= '0' && s[i] <= '7' {
				v, n := 0, 0
				for n < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7' {
					v = v*8 + int(s[i]-'0')
					i++
					n++
				}
				i--
				out.WriteByte(byte(v))
				continue
			}
			out.WriteByte(s[i])
		}
	}
	return out.String()
}
