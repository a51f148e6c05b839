package ocr

import (
	"regexp"
	"strings"
)

var (
	zeroWidthChars     = regexp.MustCompile("[\u200B-\u200D\uFEFF\u00AD\u2060]")
	standaloneImgName  = regexp.MustCompile(`(?mi)^[\w-]*(?:img|image|figure|fig|photo|pic)[\w-]*\.(jpeg|jpg|png|gif|webp|svg|bmp|tiff?)[ \t]*$`)
	standaloneFileName = regexp.MustCompile(`(?mi)^[\w-]+\.(jpeg|jpg|png|gif|webp|svg|bmp|tiff?)[ \t]*$`)
	markdownImageRef   = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	excessiveNewlines  = regexp.MustCompile(`\n{4,}`)
	trailingSpaces     = regexp.MustCompile(`(?m)[ \t]+$`)
)

// CleanText strips invisible characters and image placeholders from raw
// OCR output and normalizes line endings.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = zeroWidthChars.ReplaceAllString(text, "")
	text = markdownImageRef.ReplaceAllString(text, "")
	text = standaloneImgName.ReplaceAllString(text, "")
	text = standaloneFileName.ReplaceAllString(text, "")

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = trailingSpaces.ReplaceAllString(text, "")
	text = excessiveNewlines.ReplaceAllString(text, "\n\n\n")

	return strings.TrimSpace(text)
}

// SanitizeError turns a backend error into a short user-facing message.
func SanitizeError(err error) string {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized"):
		return "OCR service rejected the credentials"
	case strings.Contains(msg, "429"):
		return "OCR service rate limit reached, try again later"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "OCR request timed out"
	}

	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
