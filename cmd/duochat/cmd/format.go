package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/topicmgr"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	if format != formatTable && format != formatJSON {
		return fmt.Errorf("unsupported output format %q, use table or json", format)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printUsers(w io.Writer, format string, users []domain.User) error {
	if format == formatJSON {
		return writeJSON(w, users)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", u.ID, u.Username, u.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printMessages(w io.Writer, format string, messages []domain.Message) error {
	if format == formatJSON {
		return writeJSON(w, messages)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tFROM\tTO\tCONTENT")
	for _, m := range messages {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			m.ID, m.Timestamp.Format(time.RFC3339Nano), m.Sender, m.Receiver, truncate(oneLine(m.Content), 60))
	}
	return tw.Flush()
}

type topicView struct {
	Name        string `json:"name"`
	Scope       string `json:"scope"`
	Module      string `json:"module,omitempty"`
	Description string `json:"description"`
	Example     string `json:"example,omitempty"`
}

func printTopics(w io.Writer, format string, topics []topicmgr.Topic) error {
	if format == formatJSON {
		views := make([]topicView, 0, len(topics))
		for _, t := range topics {
			views = append(views, topicView{
				Name:        t.Name(),
				Scope:       string(t.Scope()),
				Module:      t.Module(),
				Description: t.Description(),
				Example:     t.Example(),
			})
		}
		return writeJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tMODULE\tDESCRIPTION")
	for _, t := range topics {
		module := t.Module()
		if module == "" {
			module = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name(), t.Scope(), module, truncate(t.Description(), 60))
	}
	return tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate shortens s to at most max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
