package richtext

import (
	"fmt"
	"html"
	"strings"
)

// ToHTML renders a body for read-only display. Each delta line becomes a
// paragraph; inline attributes become marks. Bodies that are not deltas are
// escaped and wrapped in a single paragraph.
func ToHTML(body string) string {
	delta, err := Parse(body)
	if err != nil {
		return fmt.Sprintf("<p>%s</p>", html.EscapeString(stripTags(body)))
	}

	var out strings.Builder
	var line strings.Builder
	flush := func() {
		out.WriteString("<p>")
		if line.Len() == 0 {
			out.WriteString("<br>")
		} else {
			out.WriteString(line.String())
		}
		out.WriteString("</p>")
		line.Reset()
	}

	for _, op := range delta.Ops {
		text, ok := op.text()
		if !ok {
			continue
		}
		segments := strings.Split(text, "\n")
		for i, segment := range segments {
			if i > 0 {
				flush()
			}
			line.WriteString(renderTextWithMarks(segment, op.Attributes))
		}
	}
	if line.Len() > 0 {
		flush()
	}
	return out.String()
}

// renderTextWithMarks renders text with formatting marks
func renderTextWithMarks(text string, attrs map[string]interface{}) string {
	if text == "" {
		return ""
	}

	htmlText := html.EscapeString(text)
	if len(attrs) == 0 {
		return htmlText
	}

	// Fixed order keeps the output stable across map iteration.
	if v, ok := attrs["code"].(bool); ok && v {
		htmlText = fmt.Sprintf("<code>%s</code>", htmlText)
	}
	if v, ok := attrs["bold"].(bool); ok && v {
		htmlText = fmt.Sprintf("<strong>%s</strong>", htmlText)
	}
	if v, ok := attrs["italic"].(bool); ok && v {
		htmlText = fmt.Sprintf("<em>%s</em>", htmlText)
	}
	if v, ok := attrs["underline"].(bool); ok && v {
		htmlText = fmt.Sprintf("<u>%s</u>", htmlText)
	}
	if v, ok := attrs["strike"].(bool); ok && v {
		htmlText = fmt.Sprintf("<s>%s</s>", htmlText)
	}
	if href, ok := attrs["link"].(string); ok && href != "" {
		htmlText = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), htmlText)
	}
	return htmlText
}
