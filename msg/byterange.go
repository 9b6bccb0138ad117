package msg

import (
	"fmt"
	"strconv"
	"strings"
)

// parseByteRange parses "<start>-<end|*>/<total|*>".
func parseByteRange(s string) (ByteRange, error) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return ByteRange{}, fmt.Errorf("byte-range %q: missing '/'", s)
	}
	rangePart, totalPart := s[:slash], s[slash+1:]

	dash := strings.IndexByte(rangePart, '-')
	if dash < 0 {
		return ByteRange{}, fmt.Errorf("byte-range %q: missing '-'", s)
	}
	startPart, endPart := rangePart[:dash], rangePart[dash+1:]

	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil {
		return ByteRange{}, fmt.Errorf("byte-range %q: bad start: %w", s, err)
	}

	var end int64 = -1
	if endPart != "*" {
		end, err = strconv.ParseInt(endPart, 10, 64)
		if err != nil {
			return ByteRange{}, fmt.Errorf("byte-range %q: bad end: %w", s, err)
		}
	}

	var total int64 = -1
	if totalPart != "*" {
		total, err = strconv.ParseInt(totalPart, 10, 64)
		if err != nil {
			return ByteRange{}, fmt.Errorf("byte-range %q: bad total: %w", s, err)
		}
	}

	return ByteRange{Start: start, End: end, Total: total}, nil
}

func (br ByteRange) String() string {
	end := "*"
	if br.End >= 0 {
		end = strconv.FormatInt(br.End, 10)
	}
	total := "*"
	if br.Total >= 0 {
		total = strconv.FormatInt(br.Total, 10)
	}
	return strconv.FormatInt(br.Start, 10) + "-" + end + "/" + total
}
