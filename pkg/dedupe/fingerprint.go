package dedupe

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

var whitespacePattern = regexp.MustCompile(`\s+`)

// normalizeField canonicalizes a text field so cosmetic differences do not
// produce distinct fingerprints: NFC form, lowercased, whitespace collapsed.
func normalizeField(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// Fingerprint derives the stable identity of a report from its normalized
// title, description and stack signature. Timestamps and free-form custom data
// are deliberately excluded so two reports describing the same defect collapse
// to the same key regardless of wall-clock time.
func Fingerprint(title, description, stackSignature string) string {
	digest := xxhash.New()
	digest.WriteString(normalizeField(title))
	digest.WriteString("\x00")
	digest.WriteString(normalizeField(description))
	digest.WriteString("\x00")
	digest.WriteString(normalizeField(stackSignature))
	return strconv.FormatUint(digest.Sum64(), 16)
}
