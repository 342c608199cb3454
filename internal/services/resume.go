package services

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// grantFactsheetURL documents the part-time re-employment grant.
const grantFactsheetURL = "https://www.wsg.gov.sg/docs/default-source/content/programmes-and-initiatives/senior-worker-early-adopter-grant-and-part-time-re-employment-grant-employers/new-ptrg-factsheet.pdf?sfvrsn=586dc2eb_0"

// ResumeFacts are the collected answers a resume is written from.
type ResumeFacts struct {
	Name       string
	Age        *int
	Phone      string
	Experience string
	// PhotoURL is a signed, resized image URL, empty when declined.
	PhotoURL string
}

// BuildResumePrompt composes the language model prompt. now anchors the
// birth year hint.
func BuildResumePrompt(f ResumeFacts, now time.Time) string {
	var b strings.Builder
	b.WriteString("Given the following context, generate a one page resume in Markdown format.\n\n")
	b.WriteString("If there is a photo, include it at the top.\n\n")
	b.WriteString(`Include a callout as Markdown block quote about the "NEW PART-TIME RE-EMPLOYMENT GRANT (UP TO $125,000 PER COMPANY)" `)
	b.WriteString("when employing a senior worker aged 60 years and above with a link to ")
	b.WriteString(grantFactsheetURL)
	b.WriteString(` titled "more details".` + "\n\n")
	b.WriteString("Expand the experience section to include a paragraph for each bullet point but don't invent any facts.\n\n")
	b.WriteString("CONTEXT:\n")
	if f.PhotoURL != "" {
		fmt.Fprintf(&b, "- Photo: %s\n", f.PhotoURL)
	}
	b.WriteString("- Personal Particulars:\n")
	fmt.Fprintf(&b, "  - Name: %s\n", f.Name)
	if f.Age != nil {
		fmt.Fprintf(&b, "  - Age: %d (born around %d, include the birth year)\n", *f.Age, now.Year()-*f.Age)
	}
	b.WriteString("- Contact Information:\n")
	fmt.Fprintf(&b, "  - Phone: %s (phone communication preferred)\n", f.Phone)
	b.WriteString("- Experience:\n")
	for _, line := range strings.Split(strings.TrimSpace(f.Experience), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	return b.String()
}

var mdRenderer = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// MarkdownToHTML renders GitHub-flavoured Markdown to an HTML fragment.
func MarkdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
