// Package hmi is a terminal dashboard of the site's live state.
package hmi

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gdamore/tcell"
	"github.com/google/uuid"
	"github.com/rivo/tview"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/engine"
	"github.com/ohowland/winterriver/internal/pkg/msg"
)

const logo = `
 __      __.__        __                __________.__
/  \    /  \__| _____/  |_  ___________ \______   \__|__  __ ___________
\   \/\/   /  |/    \   __\/ __ \_  __ \ |       _/  \  \/ // __ \_  __ \
 \        /|  |   |  \  | \  ___/|  | \/ |    |   \  |\   /\  ___/|  | \/
  \__/\  / |__|___|  /__|  \___  >__|    |____|_  /__| \_/  \___  >__|
       \/          \/          \/               \/              \/
`

// Columns of the node table.
var Columns = []string{"Node", "Type", "Side", "Present", "VOut", "Status", "Battery", "Timer", "Source", "Command"}

// Row is one rendered node.
type Row struct {
	Cells   []string
	Present bool
	Fault   bool
}

// Snapshotter reads the live topology.
type Snapshotter interface {
	Snapshot(ctx context.Context) (asset.Snapshot, error)
}

// TickRows renders a tick result in plan order.
func TickRows(result engine.TickResult) []Row {
	rows := make([]Row, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		last := n.Command
		if n.Faulted() {
			last = "FAULT: " + n.Fault
		}
		rows = append(rows, row(n.Def, n.State, n.Source, last, n.Faulted()))
	}
	return rows
}

// SnapshotRows renders a store snapshot in id order. Nodes without a live
// state are shown as faulted.
func SnapshotRows(snap asset.Snapshot) []Row {
	rows := make([]Row, 0, len(snap.Defs))
	for _, d := range snap.Defs {
		s, ok := snap.States[d.ID]
		if !ok {
			rows = append(rows, row(d, asset.LiveState{}, "", "no live state", true))
			continue
		}
		rows = append(rows, row(d, s, "", "", false))
	}
	return rows
}

func row(d asset.Def, s asset.LiveState, src asset.Source, last string, fault bool) Row {
	side := string(d.Side)
	if side == "" {
		side = "-"
	}
	battery, timer := "-", "-"
	switch d.Type {
	case asset.UPS:
		battery = fmt.Sprintf("%d%%", s.Battery)
	case asset.Generator:
		timer = fmt.Sprintf("%d", s.GenTimer)
	}
	present := "no"
	if s.Present {
		present = "yes"
	}
	return Row{
		Cells: []string{
			d.ID,
			string(d.Type),
			side,
			present,
			fmt.Sprintf("%.1f", s.VOut),
			string(s.Status),
			battery,
			timer,
			string(src),
			last,
		},
		Present: s.Present,
		Fault:   fault,
	}
}

// Dashboard is the tview application.
type Dashboard struct {
	pid    uuid.UUID
	app    *tview.Application
	pages  *tview.Pages
	table  *tview.Table
	footer *tview.TextView
}

// New builds the splash and overview pages.
func New(title string) *Dashboard {
	d := &Dashboard{
		pid:    uuid.New(),
		app:    tview.NewApplication(),
		pages:  tview.NewPages(),
		table:  tview.NewTable().SetFixed(1, 1),
		footer: tview.NewTextView().SetDynamicColors(true),
	}
	d.table.SetBorder(true).SetTitle(" Nodes ")
	d.table.SetSelectable(true, false).SetSeparator(' ')
	d.header()

	overview := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(d.table, 0, 1, true).
		AddItem(d.footer, 1, 0, false)

	d.pages.AddPage("Splash", d.splash(title), true, true)
	d.pages.AddPage("Overview", overview, true, false)
	d.app.SetRoot(d.pages, true)
	return d
}

func (d *Dashboard) splash(title string) tview.Primitive {
	lines := strings.Split(logo, "\n")
	width := 0
	for _, line := range lines {
		if len(line) > width {
			width = len(line)
		}
	}
	logoBox := tview.NewTextView().
		SetTextColor(tcell.ColorBlue).
		SetDoneFunc(func(key tcell.Key) {
			d.pages.SwitchToPage("Overview")
			d.app.SetFocus(d.table)
		})
	fmt.Fprint(logoBox, logo)

	frame := tview.NewFrame(tview.NewBox()).
		SetBorders(0, 0, 0, 0, 0, 0).
		AddText(title, true, tview.AlignCenter, tcell.ColorWhite).
		AddText("", true, tview.AlignCenter, tcell.ColorWhite).
		AddText("press enter", true, tview.AlignCenter, tcell.ColorDarkMagenta)

	return tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tview.NewBox(), 0, 5, false).
		AddItem(tview.NewFlex().
			AddItem(tview.NewBox(), 0, 1, false).
			AddItem(logoBox, width, 1, true).
			AddItem(tview.NewBox(), 0, 1, false), len(lines), 1, true).
		AddItem(frame, 0, 10, false)
}

func (d *Dashboard) header() {
	for col, name := range Columns {
		d.table.SetCell(0, col, tview.NewTableCell(name).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false))
	}
}

func (d *Dashboard) render(rows []Row, footer string) {
	d.app.QueueUpdateDraw(func() {
		d.table.Clear()
		d.header()
		for r, row := range rows {
			color := tcell.ColorWhite
			switch {
			case row.Fault:
				color = tcell.ColorRed
			case !row.Present:
				color = tcell.ColorGray
			}
			for col, text := range row.Cells {
				c := color
				if col == 0 && !row.Fault {
					c = tcell.ColorDarkCyan
				}
				d.table.SetCell(r+1, col, tview.NewTableCell(text).SetTextColor(c))
			}
		}
		d.footer.SetText(footer)
	})
}

// Follow renders every tick published by system until ctx is cancelled.
func (d *Dashboard) Follow(ctx context.Context, system msg.Publisher) error {
	ch, err := system.Subscribe(d.pid, msg.Status)
	if err != nil {
		return err
	}
	defer system.Unsubscribe(d.pid)
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if result, ok := m.Payload().(engine.TickResult); ok {
				d.render(TickRows(result), fmt.Sprintf(" tick %v  %v", result.ID, result.Duration))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Poll renders a fresh snapshot of store every period until ctx is
// cancelled.
func (d *Dashboard) Poll(ctx context.Context, store Snapshotter, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		snap, err := store.Snapshot(ctx)
		if err != nil {
			log.Println("[HMI] snapshot:", err)
			d.render(nil, fmt.Sprintf(" [red]%v", err))
		} else {
			d.render(SnapshotRows(snap), fmt.Sprintf(" %v  %d nodes", time.Now().Format("15:04:05"), len(snap.Defs)))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Run blocks until the user quits or ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.app.Stop()
	}()
	return d.app.Run()
}

// Stop closes the application.
func (d *Dashboard) Stop() {
	d.app.Stop()
}
