package parser

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Format identifies a statement file format.
type Format string

const (
	FormatCSV     Format = "CSV"
	FormatMT940   Format = "MT940"
	FormatCAMT053 Format = "CAMT053"
)

var formatAliases = map[string]Format{
	"CSV":      FormatCSV,
	"MT940":    FormatMT940,
	"STA":      FormatMT940,
	"CAMT053":  FormatCAMT053,
	"CAMT.053": FormatCAMT053,
	"CAMT":     FormatCAMT053,
}

// NormalizeFormat maps a declared format name to its canonical Format.
func NormalizeFormat(declared string) (Format, error) {
	f, ok := formatAliases[strings.ToUpper(strings.TrimSpace(declared))]
	if !ok {
		return "", &UnsupportedFormatError{Declared: declared}
	}
	return f, nil
}

// StatementDecoder turns the raw bytes of one format into a canonical
// statement. Implementations reject content that does not have their shape.
type StatementDecoder interface {
	Format() Format
	Decode(raw []byte) (*ParsedStatement, error)
}

// Registry dispatches to the decoder registered for a format.
type Registry struct {
	decoders map[Format]StatementDecoder
}

// NewRegistry returns a registry with the CSV, MT940 and CAMT.053 decoders.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{decoders: make(map[Format]StatementDecoder)}
	r.Register(NewCSVDecoder(cfg))
	r.Register(NewMT940Decoder(cfg))
	r.Register(NewCAMT053Decoder(cfg))
	return r
}

// Register adds or replaces the decoder for d.Format().
func (r *Registry) Register(d StatementDecoder) {
	r.decoders[d.Format()] = d
}

// Formats lists the registered formats in a stable order.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.decoders))
	for f := range r.decoders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse decodes raw with the decoder for declaredFormat, canonicalizes the
// result and returns it. Either a complete statement or an error is returned.
// Balance validation is left to the caller via CheckBalance.
func (r *Registry) Parse(raw []byte, declaredFormat string) (*ParsedStatement, error) {
	f, err := NormalizeFormat(declaredFormat)
	if err != nil {
		return nil, err
	}
	d, ok := r.decoders[f]
	if !ok {
		return nil, &UnsupportedFormatError{Declared: declaredFormat}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, lineError(f, 0, "", "", "empty input")
	}

	ps, err := d.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := canonicalize(ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// DetectFormat guesses the format from the content. It is only meant for
// callers that have no declared format at all.
func DetectFormat(raw []byte) (Format, error) {
	s := bytes.TrimSpace(bytes.TrimPrefix(raw, utf8BOM))
	switch {
	case len(s) == 0:
		return "", fmt.Errorf("DetectFormat: empty input")
	case s[0] == '<':
		if bytes.Contains(s, []byte("BkToCstmrStmt")) {
			return FormatCAMT053, nil
		}
		return "", fmt.Errorf("DetectFormat: XML document is not a camt.053 statement")
	case bytes.Contains(s, []byte(":20:")) && bytes.Contains(s, []byte(":61:")) || bytes.HasPrefix(s, []byte(":20:")):
		return FormatMT940, nil
	case bytes.ContainsAny(firstLine(s), ";,\t"):
		return FormatCSV, nil
	}
	return "", fmt.Errorf("DetectFormat: unrecognized content")
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i]
	}
	return b
}
