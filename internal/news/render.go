package news

import (
	"fmt"
	"html"
	"strings"
)

// Render formats a report in the given format: "text", "markdown" or
// "html". Unknown formats fall back to text.
func Render(r *Report, format string) string {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return renderMarkdown(r)
	case "html":
		return renderHTML(r)
	default:
		return renderText(r)
	}
}

func renderText(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s — %s\n", r.Title, r.GeneratedAt.Format("2006-01-02"))
	if len(r.Items) == 0 {
		b.WriteString("No news today.\n")
		return strings.TrimRight(b.String(), "\n")
	}
	for _, item := range r.Items {
		fmt.Fprintf(&b, "[%s] %s\n", item.Source, item.Title)
		if item.Link != "" {
			fmt.Fprintf(&b, "    %s\n", item.Link)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMarkdown(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n_%s_\n\n", r.Title, r.GeneratedAt.Format("2006-01-02"))
	if len(r.Items) == 0 {
		b.WriteString("No news today.\n")
		return b.String()
	}
	for _, item := range r.Items {
		if item.Link != "" {
			fmt.Fprintf(&b, "- **%s** — [%s](%s)\n", item.Source, item.Title, item.Link)
		} else {
			fmt.Fprintf(&b, "- **%s** — %s\n", item.Source, item.Title)
		}
	}
	return b.String()
}

func renderHTML(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n<p>%s</p>\n", html.EscapeString(r.Title), r.GeneratedAt.Format("2006-01-02"))
	if len(r.Items) == 0 {
		b.WriteString("<p>No news today.</p>\n")
		return b.String()
	}
	b.WriteString("<ul>\n")
	for _, item := range r.Items {
		title := html.EscapeString(item.Title)
		if item.Link != "" {
			fmt.Fprintf(&b, "<li>[%s] <a href=%q>%s</a></li>\n", html.EscapeString(item.Source), item.Link, title)
		} else {
			fmt.Fprintf(&b, "<li>[%s] %s</li>\n", html.EscapeString(item.Source), title)
		}
	}
	b.WriteString("</ul>\n")
	return b.String()
}
