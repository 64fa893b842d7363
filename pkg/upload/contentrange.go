package upload

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentRange is the parsed form of a chunk upload header
// "Content-Range: bytes <from>-<to>/<total>". All bounds are inclusive
// byte offsets.
type ContentRange struct {
	From  int64
	To    int64
	Total int64
}

// Size returns the number of body bytes the range announces.
func (r ContentRange) Size() int64 { return r.To - r.From + 1 }

// IsFinal reports whether this chunk ends the upload.
func (r ContentRange) IsFinal() bool { return r.To+1 == r.Total }

// ParseContentRange parses exactly "bytes <from>-<to>/<total>" where each
// part is a non-negative base-10 integer. Anything else is ErrUnparsable.
func ParseContentRange(header string) (ContentRange, error) {
	rest, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: content range %q", ErrUnparsable, header)
	}
	span, totalPart, ok := strings.Cut(rest, "/")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: content range %q", ErrUnparsable, header)
	}
	fromPart, toPart, ok := strings.Cut(span, "-")
	if !ok {
		return ContentRange{}, fmt.Errorf("%w: content range %q", ErrUnparsable, header)
	}

	from, err := parseByteCount(fromPart)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: content range %q", ErrUnparsable, header)
	}
	to, err := parseByteCount(toPart)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: content range %q", ErrUnparsable, header)
	}
	total, err := parseByteCount(totalPart)
	if err != nil {
		return ContentRange{}, fmt.Errorf("%w: content range %q", ErrUnparsable, header)
	}

	if to < from || total <= to {
		return ContentRange{}, fmt.Errorf("%w: content range %q out of order", ErrUnparsable, header)
	}
	return ContentRange{From: from, To: to, Total: total}, nil
}

// ParseStatusRange parses the status probe form "bytes */<total>" and
// returns the announced total. Anything else is ErrUnparsable.
func ParseStatusRange(header string) (int64, error) {
	totalPart, ok := strings.CutPrefix(header, "bytes */")
	if !ok {
		return 0, fmt.Errorf("%w: status range %q", ErrUnparsable, header)
	}
	total, err := parseByteCount(totalPart)
	if err != nil {
		return 0, fmt.Errorf("%w: status range %q", ErrUnparsable, header)
	}
	return total, nil
}

// ParseDeclaredSize parses the x-upload-content-length value announced by
// the pre-request and checks it against the configured payload limit.
func ParseDeclaredSize(header string, limit int64) (int64, error) {
	size, err := parseByteCount(header)
	if err != nil || size < 1 {
		return 0, fmt.Errorf("%w: declared size %q", ErrUnparsable, header)
	}
	if size > limit {
		return 0, fmt.Errorf("%w: declared size %d exceeds limit %d", ErrPayloadTooLarge, size, limit)
	}
	return size, nil
}

// parseByteCount parses a strictly non-negative decimal integer. Signs,
// spaces and empty strings are rejected so that "-1" or "+5" never slip
// through strconv's lenient forms.
func parseByteCount(s string) (int64, error) {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}
