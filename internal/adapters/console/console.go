// Package console prints table activity for a terminal user.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dkeye/tablesession/internal/app/vote"
	"github.com/dkeye/tablesession/internal/domain"
)

// Names resolves a connection to its display name.
type Names interface {
	Name(cid domain.ConnectionID) (string, bool)
}

type Console struct {
	mu    sync.Mutex
	names Names
	info  pterm.PrefixPrinter
	warn  pterm.PrefixPrinter
	fail  pterm.PrefixPrinter
	chat  pterm.PrefixPrinter
}

func New(out io.Writer, names Names) *Console {
	return &Console{
		names: names,
		info:  *pterm.Info.WithWriter(out),
		warn:  *pterm.Warning.WithWriter(out),
		fail:  *pterm.Error.WithWriter(out),
		chat: *pterm.Info.WithWriter(out).WithPrefix(pterm.Prefix{
			Text:  "CHAT",
			Style: pterm.NewStyle(pterm.BgLightBlue, pterm.FgBlack),
		}),
	}
}

func (c *Console) name(cid domain.ConnectionID) string {
	if n, ok := c.names.Name(cid); ok && n != "" {
		return n
	}
	return fmt.Sprintf("#%d", cid)
}

func (c *Console) OnInit(self domain.ConnectionID, seat domain.SeatID, seats int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Printfln("Seated at %d of %d (connection %d)", seat+1, seats, self)
}

func (c *Console) OnClient(data domain.ClientData, cid domain.ConnectionID, seat domain.SeatID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Printfln("%s [%s] joined at seat %d", pterm.LightCyan(data.Name), data.ShortName(), seat+1)
}

func (c *Console) OnClientLeave(cid domain.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warn.Printfln("%s left the table", pterm.LightCyan(c.name(cid)))
}

func (c *Console) OnChatMessage(text string, cid domain.ConnectionID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chat.Printfln("%s: %s", pterm.LightCyan(c.name(cid)), text)
}

func (c *Console) OnConnectionLost(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail.Printfln("Connection lost: %v. Restart to rejoin.", err)
}

// ShowVote renders counters like "Yes (3/5)".
func (c *Console) ShowVote(kind domain.VoteKind, tallies []vote.Tally) {
	parts := make([]string, len(tallies))
	for i, t := range tallies {
		parts[i] = fmt.Sprintf("%s (%d/%d)", pterm.LightGreen(t.Option), t.Count, t.Total)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Printfln("Vote %s: %s", pterm.LightYellow(kind.String()), strings.Join(parts, "  "))
}

func (c *Console) HideVote() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info.Println("Vote closed")
}
