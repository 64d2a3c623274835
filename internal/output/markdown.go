package output

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"golang.org/x/term"
)

const (
	guideWidth    = 80
	minGuideWidth = 20
)

// RenderMarkdown renders operator documentation. A width <= 0 follows the
// terminal, capped at 80 columns. When stdout is not a terminal the plain
// style is used so the guide stays readable in pipes and files.
func RenderMarkdown(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	if width <= 0 {
		width = guideWidth
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); tty && err == nil && w > 0 && w < width {
			width = w
		}
	}
	width = max(width, minGuideWidth)

	style := glamour.WithAutoStyle()
	if !tty {
		style = glamour.WithStandardStyle(styles.NoTTYStyle)
	}
	renderer, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
