package content

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode turns a raw fragment into scannable text. Content is normalised to
// UTF-8; JSON fragments are re-serialised as YAML so class names in string
// values sit in plain text like any other markup.
func Decode(raw RawFragment) (types.ContentFragment, error) {
	text, err := ToUTF8(raw.Content)
	if err != nil {
		return types.ContentFragment{}, fmt.Errorf("decode fragment %s: %w", raw.ID, err)
	}

	encoding := raw.Type
	if encoding == "" {
		encoding = types.EncodingText
	}

	switch encoding {
	case types.EncodingText:
	case types.EncodingJSON:
		text, err = CanonicalJSON(text)
		if err != nil {
			return types.ContentFragment{}, fmt.Errorf("decode fragment %s: %w", raw.ID, err)
		}
	default:
		return types.ContentFragment{}, fmt.Errorf("decode fragment %s: unknown encoding %q", raw.ID, encoding)
	}

	return types.ContentFragment{
		ID:       raw.ID,
		Title:    raw.Title,
		Content:  text,
		Encoding: encoding,
	}, nil
}

// CanonicalJSON re-serialises a JSON document as YAML with sorted keys.
func CanonicalJSON(text string) (string, error) {
	var v interface{}
	if err := sonic.UnmarshalString(text, &v); err != nil {
		return "", fmt.Errorf("invalid json: %w", err)
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("yaml: %w", err)
	}
	return string(out), nil
}

// DetectCharset returns the most likely charset of data, defaulting to utf-8.
func DetectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// ToUTF8 returns data as a UTF-8 string, transcoding from the detected
// charset when data is not already valid UTF-8.
func ToUTF8(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}

	reader, err := charset.NewReader(bytes.NewReader(data), "text/plain; charset="+DetectCharset(data))
	if err != nil {
		return "", fmt.Errorf("charset: %w", err)
	}
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("charset: %w", err)
	}
	return string(out), nil
}
