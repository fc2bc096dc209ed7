package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title     lipgloss.Style
	user      lipgloss.Style
	assistant lipgloss.Style
	dim       lipgloss.Style
	errText   lipgloss.Style
}

func defaultStyles() styles {
	brand := lipgloss.AdaptiveColor{Light: "26", Dark: "81"}
	subtle := lipgloss.AdaptiveColor{Light: "245", Dark: "244"}
	return styles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(brand),
		user:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		assistant: lipgloss.NewStyle().Bold(true).Foreground(brand),
		dim:       lipgloss.NewStyle().Foreground(subtle),
		errText:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
	}
}

// Session holds a conversation in chronological order
type Session struct {
	responder Responder
	history   []Turn
	styles    styles
}

// NewSession starts an empty conversation
func NewSession(r Responder) *Session {
	return &Session{responder: r, styles: defaultStyles()}
}

// Send asks the responder for a reply and records both turns. A failed
// reply leaves the history unchanged.
func (s *Session) Send(ctx context.Context, user string) (Turn, error) {
	reply, err := s.responder.Respond(ctx, s.history, user)
	if err != nil {
		return Turn{}, err
	}
	if reply.Role == "" {
		reply.Role = RoleAssistant
	}
	s.history = append(s.history, Turn{Role: RoleUser, Content: user}, reply)
	return reply, nil
}

// History returns the turns oldest first
func (s *Session) History() []Turn {
	return append([]Turn(nil), s.history...)
}

// Render draws the conversation newest first
func (s *Session) Render() string {
	var b strings.Builder
	for i := len(s.history) - 1; i >= 0; i-- {
		t := s.history[i]
		label := s.styles.assistant.Render("assistant")
		if t.Role == RoleUser {
			label = s.styles.user.Render("user")
		}
		fmt.Fprintf(&b, "%s %s\n", label, t.Content)
	}
	return b.String()
}

// Run reads user messages line by line from in until EOF or /quit and
// writes the conversation to out after every turn.
func Run(ctx context.Context, in io.Reader, out io.Writer, r Responder) error {
	s := NewSession(r)
	fmt.Fprintln(out, s.styles.title.Render("skipdoc chat"))
	fmt.Fprintln(out, s.styles.dim.Render("Type a message, /history to show the conversation, /quit to exit."))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/history":
			fmt.Fprint(out, s.Render())
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(out, s.styles.errText.Render("error: "+err.Error()))
			continue
		}
		fmt.Fprintln(out, s.styles.dim.Render(strings.Repeat("-", 40)))
		fmt.Fprint(out, s.Render())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading chat input: %w", err)
	}
	return nil
}
