package reports

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding: CSV の出力文字コード
type Encoding string

const (
	EncodingUTF8    Encoding = "utf8"
	EncodingUTF8BOM Encoding = "utf8bom" // Excel でそのまま開ける
	EncodingSJIS    Encoding = "sjis"    // 日本語版 Excel 向け (CP932)
)

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, nil
	case "utf8bom", "utf-8-bom":
		return EncodingUTF8BOM, nil
	case "sjis", "shift_jis", "cp932":
		return EncodingSJIS, nil
	}
	return "", fmt.Errorf("unknown encoding %q (utf8|utf8bom|sjis)", s)
}

// Charset: Content-Type 用
func (e Encoding) Charset() string {
	if e == EncodingSJIS {
		return "Shift_JIS"
	}
	return "utf-8"
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// newEncodedWriter: 書き終わったら必ず Close すること（変換バッファを吐き出す）
func newEncodedWriter(w io.Writer, e Encoding) io.WriteCloser {
	var enc *encoding.Encoder
	switch e {
	case EncodingUTF8BOM:
		enc = unicode.UTF8BOM.NewEncoder()
	case EncodingSJIS:
		// Shift_JIS に無い文字は '?' に置き換える
		enc = encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
	default:
		return nopCloser{w}
	}
	return transform.NewWriter(w, enc)
}
