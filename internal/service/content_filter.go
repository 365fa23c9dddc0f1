package service

import "regexp"

// MarkupPlaceholder replaces text messages that look like they carry markup.
const MarkupPlaceholder = "[message removed: markup is not allowed]"

var openingTag = regexp.MustCompile(`<[A-Za-z][A-Za-z0-9-]*(\s[^<>]*)?/?>`)

// FilterContent substitutes the whole message with MarkupPlaceholder when it
// contains anything shaped like an opening tag. It never rejects input.
func FilterContent(content string) string {
	if openingTag.MatchString(content) {
		return MarkupPlaceholder
	}
	return content
}
