// Copyright 2026 The Crawlvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell"
	"github.com/spf13/cobra"

	"github.com/tycoon-systems/crawlvisor/crawlvisor/util"
	"github.com/tycoon-systems/crawlvisor/rest"
)

/*
   The screen looks like this:

    Server: http://127.0.0.1:8321                                 Crawlvisor
    3 Services  1 Running  1 Failed  0 Standby  1 Disabled  1 Watching
   ────────────────────────────────────────────────────────────────────────────
   tycoon-crawler           failed        0:10:32  Failed: exit status 1
   worker                   running       0:00:05  Files changed
   dontrunme                disabled     132:10:05 Disabled
   ...
   [Q]uit [E]nable [D]isable [R]estart [C]lear
*/

var (
	styleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	styleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	styleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	styleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
	styleKeys = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
)

const topKeys = "[Q]uit [E]nable [D]isable [R]estart [C]lear"

type top struct {
	client *rest.Client
	addr   string
	screen tcell.Screen
	kick   chan struct{}

	mu    sync.Mutex
	items []*rest.ServiceInfo
	err   error
	sel   int
}

func newTop(client *rest.Client, addr string, screen tcell.Screen) *top {
	return &top{
		client: client,
		addr:   addr,
		screen: screen,
		kick:   make(chan struct{}, 1),
	}
}

func (c *cli) topCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Full screen service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			screen, err := tcell.NewScreen()
			if err != nil {
				return err
			}
			if err := screen.Init(); err != nil {
				return err
			}
			defer screen.Fini()
			return newTop(client, c.addr(), screen).run(cmd.Context())
		},
	}
}

func (t *top) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go t.poll(ctx)
	go func() {
		<-ctx.Done()
		t.screen.PostEvent(tcell.NewEventInterrupt(nil))
	}()

	for {
		t.draw()
		switch ev := t.screen.PollEvent().(type) {
		case nil:
			return nil
		case *tcell.EventResize:
			t.screen.Sync()
		case *tcell.EventKey:
			if t.handleKey(ctx, ev) {
				return nil
			}
		case *tcell.EventInterrupt:
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// poll refreshes the service list once a second, or right after an action.
func (t *top) poll(ctx context.Context) {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		t.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		case <-t.kick:
		}
	}
}

func (t *top) refresh(ctx context.Context) {
	items, err := fetchServices(ctx, t.client, nil, nil)
	t.mu.Lock()
	if err == nil {
		t.items = items
	}
	t.err = err
	t.mu.Unlock()
	t.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

func (t *top) selected() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sel < 0 || t.sel >= len(t.items) {
		return ""
	}
	return t.items[t.sel].Name
}

func (t *top) move(delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sel += delta
	if t.sel >= len(t.items) {
		t.sel = len(t.items) - 1
	}
	if t.sel < 0 {
		t.sel = 0
	}
}

// handleKey returns true when the user asked to quit.
func (t *top) handleKey(ctx context.Context, ev *tcell.EventKey) bool {
	var action func(*rest.Client, context.Context, string) error
	switch ev.Key() {
	case tcell.KeyEsc, tcell.KeyCtrlC:
		return true
	case tcell.KeyUp:
		t.move(-1)
	case tcell.KeyDown:
		t.move(1)
	case tcell.KeyCtrlL:
		t.screen.Sync()
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'Q', 'q':
			return true
		case 'E', 'e':
			action = (*rest.Client).EnableService
		case 'D', 'd':
			action = (*rest.Client).DisableService
		case 'R', 'r':
			action = (*rest.Client).RestartService
		case 'C', 'c':
			action = (*rest.Client).ClearService
		}
	}
	if name := t.selected(); action != nil && name != "" {
		go func() {
			actx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := action(t.client, actx, name); err != nil {
				t.mu.Lock()
				t.err = err
				t.mu.Unlock()
			}
			select {
			case t.kick <- struct{}{}:
			default:
			}
		}()
	}
	return false
}

func statusStyle(s *rest.ServiceInfo) tcell.Style {
	switch util.Status(s) {
	case "running":
		return styleGood
	case "failed":
		return styleError
	case "standby":
		return styleWarn
	}
	return styleNormal
}

func (t *top) puts(x, y int, style tcell.Style, s string) {
	w, _ := t.screen.Size()
	for _, r := range s {
		if x >= w {
			return
		}
		t.screen.SetContent(x, y, r, nil, style)
		x++
	}
}

func (t *top) fill(y int, style tcell.Style, r rune) {
	w, _ := t.screen.Size()
	for x := 0; x < w; x++ {
		t.screen.SetContent(x, y, r, nil, style)
	}
}

func (t *top) draw() {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, h := t.screen.Size()
	t.screen.Clear()
	if h < 4 {
		t.screen.Show()
		return
	}

	t.puts(0, 0, styleNormal, "Server: "+t.addr)
	t.puts(w-len("Crawlvisor"), 0, styleNormal, "Crawlvisor")

	n := util.Count(t.items)
	t.puts(0, 1, styleNormal, fmt.Sprintf(
		"%d Services  %d Running  %d Failed  %d Standby  %d Disabled  %d Watching",
		len(t.items), n.Running, n.Failed, n.Standby, n.Disabled, n.Watching))
	t.fill(2, styleNormal, tcell.RuneHLine)

	rows := h - 4
	first := 0
	if t.sel >= rows {
		first = t.sel - rows + 1
	}
	for i := 0; i < rows && first+i < len(t.items); i++ {
		s := t.items[first+i]
		style := statusStyle(s)
		if first+i == t.sel {
			style = style.Reverse(true)
			t.fill(3+i, style, ' ')
		}
		line := fmt.Sprintf("%-24s %-10s %10s  %s", s.Name, util.Status(s),
			util.FormatDuration(time.Since(s.TimeStamp)), s.Status)
		t.puts(0, 3+i, style, line)
	}

	t.fill(h-1, styleKeys, ' ')
	if t.err != nil {
		t.puts(0, h-1, styleKeys.Foreground(tcell.ColorMaroon), "Error: "+t.err.Error())
	} else {
		t.puts(0, h-1, styleKeys, topKeys)
	}
	t.screen.Show()
}
