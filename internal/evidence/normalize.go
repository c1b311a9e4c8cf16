package evidence

import (
	"fmt"
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// forbiddenChars cannot appear in a folder or file name on Windows.
const forbiddenChars = `<>:"/\|?*`

// MaxNameLength keeps generated paths well under the 255 byte limit.
const MaxNameLength = 200

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Normalize trims the reference and collapses internal whitespace to a
// single underscore, so "CASE 001" and " CASE  001 " file under the same folder.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	return whitespaceRegex.ReplaceAllString(s, "_")
}

// ValidateName checks that s can be used verbatim as one path component on
// every platform the evidence folder may be copied to.
func ValidateName(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s must not be empty", kind)
	}
	if strings.TrimSpace(s) != s {
		return fmt.Errorf("%s must not start or end with spaces", kind)
	}
	if i := strings.IndexAny(s, forbiddenChars); i >= 0 {
		return fmt.Errorf("%s contains forbidden character %q", kind, s[i])
	}
	if len(s) > MaxNameLength {
		return fmt.Errorf("%s is too long (max %d characters)", kind, MaxNameLength)
	}
	if s == "." || s == ".." {
		return fmt.Errorf("%s must not be %q", kind, s)
	}
	upper := strings.ToUpper(s)
	if reservedNames[upper] || reservedNames[strings.SplitN(upper, ".", 2)[0]] {
		return fmt.Errorf("%s %q is a reserved name", kind, s)
	}
	if strings.HasSuffix(s, ".") {
		return fmt.Errorf("%s must not end with a dot", kind)
	}
	for _, r := range s {
		if r < 32 || r == 127 {
			return fmt.Errorf("%s contains control characters", kind)
		}
	}
	return nil
}

// ValidateObjectLetter checks a single upper-case letter A..Z.
func ValidateObjectLetter(s string) error {
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return fmt.Errorf("object must be a single letter A-Z, got %q", s)
	}
	return nil
}
