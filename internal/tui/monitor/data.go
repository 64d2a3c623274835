package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/notify"
)

// fetchTimeout bounds one refresh round trip
const fetchTimeout = 10 * time.Second

// FetchData retrieves status and recent runs from the source
func FetchData(ctx context.Context, src Source) RefreshDataMsg {
	msg := RefreshDataMsg{Timestamp: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	status, err := src.Status(ctx)
	if err != nil {
		msg.Err = fmt.Errorf("status: %w", err)
		return msg
	}
	msg.Status = status

	runs, err := src.Runs(ctx, runsShown)
	if err != nil {
		msg.Err = fmt.Errorf("runs: %w", err)
		return msg
	}
	msg.Runs = runs
	return msg
}

// tableColumns splits width across the stats columns, giving the entity type
// whatever is left after the fixed columns and cell padding.
func tableColumns(width int) []table.Column {
	const num = 9
	name := width - 4*num - 10 - 2*6
	if name < 10 {
		name = 10
	}
	return []table.Column{
		{Title: "Entity type", Width: name},
		{Title: "Total", Width: num},
		{Title: "Pending", Width: num},
		{Title: "Synced", Width: num},
		{Title: "Failed", Width: num},
		{Title: "Last sync", Width: 10},
	}
}

// tableRows converts per-table stats to table rows
func tableRows(st *engine.Status) []table.Row {
	if st == nil {
		return nil
	}
	rows := make([]table.Row, 0, len(st.PerTableStats))
	for _, s := range st.PerTableStats {
		last := "never"
		if s.LastSync != nil {
			last = formatTimeAgo(*s.LastSync)
		}
		rows = append(rows, table.Row{
			s.TableName,
			fmt.Sprint(s.TotalRecords),
			fmt.Sprint(s.PendingCount),
			fmt.Sprint(s.SyncedCount),
			fmt.Sprint(s.FailedCount),
			last,
		})
	}
	return rows
}

// connectEvents dials the event feed and pumps decoded events into the
// model's feed channel until the connection drops or the monitor quits.
func (m Model) connectEvents() tea.Cmd {
	url, parent, feed := m.EventsURL, m.ctx, m.feed
	return func() tea.Msg {
		dialCtx, cancel := context.WithTimeout(parent, fetchTimeout)
		conn, _, err := websocket.Dial(dialCtx, url, nil)
		cancel()
		if err != nil {
			return eventsClosedMsg{err: fmt.Errorf("connect events: %w", err)}
		}

		go pumpEvents(parent, conn, feed)
		return eventsConnectedMsg{}
	}
}

func pumpEvents(ctx context.Context, conn *websocket.Conn, feed chan<- engine.Event) {
	defer conn.CloseNow()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				select {
				case feed <- engine.Event{Type: feedClosed, Error: err.Error()}:
				case <-ctx.Done():
				}
			}
			return
		}
		var ev engine.Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == notify.EventHello {
			continue
		}
		select {
		case feed <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// feedClosed marks the sentinel event pumpEvents sends when the socket drops.
const feedClosed = "feed_closed"

// waitForEvent blocks for the next event on the feed
func waitForEvent(feed <-chan engine.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-feed
		if !ok {
			return eventsClosedMsg{err: errors.New("event feed closed")}
		}
		if ev.Type == feedClosed {
			return eventsClosedMsg{err: errors.New(ev.Error)}
		}
		return EventMsg(ev)
	}
}
