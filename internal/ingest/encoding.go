package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// ErrUndecodable is returned when no candidate encoding yields valid text.
var ErrUndecodable = fmt.Errorf("ingest: no candidate encoding decoded the file")

type candidateEncoding struct {
	name string
	enc  encoding.Encoding
}

// Candidate encodings in trial order. UTF-8 first because it is both the
// common case and self-validating.
var candidateEncodings = []candidateEncoding{
	{"utf-8", nil},
	{"gbk", simplifiedchinese.GBK},
	{"gb2312", simplifiedchinese.GB18030},
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
	{"big5", traditionalchinese.Big5},
}

// DecodeText converts raw file bytes to a UTF-8 string, trying each
// candidate encoding in order. The first decode that produces valid UTF-8
// wins; ErrUndecodable is returned when all fail.
func DecodeText(raw []byte) (string, string, error) {
	for _, c := range candidateEncodings {
		if c.enc == nil {
			if utf8.Valid(raw) {
				return string(raw), c.name, nil
			}
			continue
		}
		decoded, err := c.enc.NewDecoder().Bytes(raw)
		if err != nil {
			continue
		}
		// x/text decoders substitute U+FFFD instead of erroring; treat
		// any substitution as a failed decode so the next candidate runs.
		text := string(decoded)
		if utf8.ValidString(text) && !strings.ContainsRune(text, utf8.RuneError) {
			return text, c.name, nil
		}
	}
	return "", "", ErrUndecodable
}
