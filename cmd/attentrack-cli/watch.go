package main

import (
	"fmt"
	"strconv"
	"time"

	"attentrack/internal/ipc"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
)

var sessionColumns = []string{"SESSION", "CONNECTED", "PHASE", "TARGET", "ROUND", "OMISSIONS", "DEVIATIONS"}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live view of the sessions running in the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = time.Second
		}
		if err := runWatch(interval); err != nil {
			fmt.Println("Error:", err)
		}
	},
}

func runWatch(interval time.Duration) error {
	app := tview.NewApplication()

	header := tview.NewTextView().SetDynamicColors(true)
	table := tview.NewTable().SetFixed(1, 0).SetSelectable(true, false)
	table.SetBorder(true).SetTitle(" attentrack sessions ")
	footer := tview.NewTextView().SetText("q/Esc: quit")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(table, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return ev
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			status, err := fetchStatus()
			app.QueueUpdateDraw(func() { render(header, table, status, err) })
			select {
			case <-done:
				return
			case <-ticker.C:
			}
		}
	}()

	return app.SetRoot(layout, true).Run()
}

func fetchStatus() (ipc.StatusData, error) {
	var status ipc.StatusData
	resp, err := request(ipc.Command{Name: ipc.CmdGetStatus})
	if err != nil {
		return status, err
	}
	if !resp.Success {
		return status, fmt.Errorf("%s", resp.Message)
	}
	err = decodeData(resp.Data, &status)
	return status, err
}

func render(header *tview.TextView, table *tview.Table, status ipc.StatusData, err error) {
	now := time.Now().Format("15:04:05")
	if err != nil {
		header.SetText(fmt.Sprintf("[red]%s  daemon unreachable: %v", now, err))
		return
	}
	header.SetText(fmt.Sprintf("[green]%s[white]  clients: %d  sessions: %d  storage: %s",
		now, status.Clients, len(status.Sessions), status.Driver))

	table.Clear()
	for col, name := range sessionColumns {
		table.SetCell(0, col, tview.NewTableCell(name).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}
	for i, s := range status.Sessions {
		row := i + 1
		round := "-"
		if s.Status.Round > 0 {
			round = strconv.Itoa(s.Status.Round)
		}
		cells := []string{
			s.ID,
			time.Since(s.ConnectedAt).Round(time.Second).String(),
			s.Status.Phase.String(),
			strconv.Itoa(s.Status.Target),
			round,
			strconv.Itoa(s.Status.OmissionErrors),
			strconv.Itoa(s.Status.DeviationErrors),
		}
		for col, text := range cells {
			table.SetCell(row, col, tview.NewTableCell(text).SetExpansion(1))
		}
	}
}
