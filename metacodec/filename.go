package metacodec

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// DefaultTimestampFormat is used for $timestamp when no format is given.
const DefaultTimestampFormat = "%Y%m%d-%H%M%S"

// MaxCounterWidth caps the zero padding of ${n}.
const MaxCounterWidth = 16

var counterPlaceholder = regexp.MustCompile(`\$\{(\d*)\}`)

// FormatFilename fills the first ${n} with index zero padded to width n (at
// most MaxCounterWidth) and the first $timestamp with now in the strftime
// layout. Later occurrences are kept literally.
func FormatFilename(template string, index int, timestampFormat string, now time.Time) string {
	if loc := counterPlaceholder.FindStringSubmatchIndex(template); loc != nil {
		digits := strings.TrimLeft(template[loc[2]:loc[3]], "0")
		width := MaxCounterWidth
		if len(digits) <= 2 {
			width, _ = strconv.Atoi(digits)
			width = min(width, MaxCounterWidth)
		}
		template = template[:loc[0]] + fmt.Sprintf("%0*d", width, index) + template[loc[1]:]
	}
	if timestampFormat == "" {
		timestampFormat = DefaultTimestampFormat
	}
	return strings.Replace(template, "$timestamp", strftime.Format(timestampFormat, now), 1)
}

// FormatFromPath picks the container from the file extension. Anything that
// is not .webp is written as PNG.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		return FormatWEBP
	}
	return FormatPNG
}
