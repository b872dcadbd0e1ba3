package pdftext

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) ExtractText(context.Context, []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

func minimalPDF(content string) []byte {
	return []byte(fmt.Sprintf("%%PDF-1.4\n1 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n%%%%EOF\n",
		len(content), content))
}

func TestChainFallsThrough(t *testing.T) {
	t.Parallel()

	first := &fakeExtractor{err: errors.New("missing binary")}
	second := &fakeExtractor{text: "   \n"}
	third := &fakeExtractor{text: "ИНН 7703412988"}
	c := New(0,
		WithExtractor("first", first),
		WithExtractor("second", second),
		WithExtractor("third", third),
	)

	text, err := c.ExtractText(context.Background(), minimalPDF(""))
	require.NoError(t, err)
	require.Equal(t, "ИНН 7703412988", text)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
	require.Equal(t, 1, third.calls)
}

func TestChainReportsNoText(t *testing.T) {
	t.Parallel()

	c := New(0, WithExtractor("broken", &fakeExtractor{err: errors.New("boom")}))
	_, err := c.ExtractText(context.Background(), minimalPDF(""))
	require.ErrorIs(t, err, ErrNoText)
	require.ErrorContains(t, err, "broken: boom")
}

func TestChainGuards(t *testing.T) {
	t.Parallel()

	inner := &fakeExtractor{text: "x"}
	c := New(16, WithExtractor("inner", inner))

	_, err := c.ExtractText(context.Background(), bytes.Repeat([]byte("a"), 17))
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = c.ExtractText(context.Background(), []byte("<html></html>"))
	require.ErrorIs(t, err, ErrNotPDF)
	require.Zero(t, inner.calls)
}

func TestRawExtractsPlainStream(t *testing.T) {
	t.Parallel()

	doc := minimalPDF("BT /F1 12 Tf 72 712 Td (Rekvizity: INN 7703412988) Tj ET\nBT [(KPP ) -20 (772001001)] TJ ET")
	text, err := Raw{}.ExtractText(context.Background(), doc)
	require.NoError(t, err)
	require.Contains(t, text, "INN 7703412988")
	require.Contains(t, text, "KPP 772001001")
}

func TestRawInflatesFlateStreams(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write([]byte(`BT (email: sales@b.ru \(main\)) Tj ET`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc := minimalPDF(buf.String())
	text, err := Raw{}.ExtractText(context.Background(), doc)
	require.NoError(t, err)
	require.Contains(t, text, "email: sales@b.ru (main)")
}

func TestUnescapePDFString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a(b)\\c\n", unescapePDFString([]byte(`a\(b\)\\c\n`)))
	require.Equal(t, "AB", unescapePDFString([]byte(`\101\102`)))
}

func TestPdfToTextMissingBinary(t *testing.T) {
	t.Parallel()

	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), minimalPDF(""))
	require.Error(t, err)
	require.Equal(t, "pdftotext", NewPdfToText("").binPath)
}

func TestNativeRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Native{}.ExtractText(context.Background(), []byte("%PDF-1.4 garbage"))
	require.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	t.Parallel()

	require.True(t, IsPDF([]byte("%PDF-1.7\n")))
	require.True(t, IsPDF(append([]byte("\xef\xbb\xbf"), []byte("%PDF-1.4")...)))
	require.False(t, IsPDF([]byte("<!doctype html>")))
}
