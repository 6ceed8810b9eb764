package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/sauzeros/crs/internal/crs/buildexec"
	"github.com/sauzeros/crs/internal/crs/plan"
)

// nodeStatus is one node's live state in the --tui build view.
type nodeStatus struct {
	node   plan.Node
	glyph  string // "." not finished (pending or running), "+" done, "x" failed
	output string
}

// buildTUI is a split view over a running Pool: a left pane listing every
// node with a live status glyph, a right pane showing the currently
// selected node's buffered output. Output only ever appears once a node
// finishes — buildexec.Result carries output already captured by then,
// so nothing interleaves mid-line the way a raw tee of concurrent
// processes would. Grounded on tui.go's header/log/footer tview.Flex
// layout and arrow-key tab switching, reindexed from a fixed list of
// on-disk build logs to a live map of in-flight plan.Node runs.
type buildTUI struct {
	app    *tview.Application
	list   *tview.List
	detail *tview.TextView
	footer *tview.TextView

	mu      sync.Mutex
	order   []string
	byID    map[string]*nodeStatus
	current string
}

func newBuildTUI(nodes []plan.Node) *buildTUI {
	t := &buildTUI{
		app:   tview.NewApplication(),
		byID:  map[string]*nodeStatus{},
		order: make([]string, 0, len(nodes)),
	}
	for _, n := range nodes {
		t.byID[n.ID] = &nodeStatus{node: n, glyph: "."}
		t.order = append(t.order, n.ID)
	}
	sort.Strings(t.order)
	if len(t.order) > 0 {
		t.current = t.order[0]
	}

	t.list = tview.NewList().ShowSecondaryText(false)
	t.list.SetBorder(true).SetTitle("nodes")
	t.list.SetChangedFunc(func(i int, mainText, secondaryText string, shortcut rune) {
		if i >= 0 && i < len(t.order) {
			t.mu.Lock()
			t.current = t.order[i]
			t.mu.Unlock()
			t.redrawDetail()
		}
	})

	t.detail = tview.NewTextView().SetDynamicColors(true).SetWrap(true)
	t.detail.SetBorder(true).SetTitle("output")

	t.footer = tview.NewTextView().SetDynamicColors(true)
	t.footer.SetText("[gray]q/Ctrl+C to quit, up/down to select a node[white]")

	flex := tview.NewFlex().
		AddItem(t.list, 32, 0, true).
		AddItem(t.detail, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(flex, 0, 1, true).
		AddItem(t.footer, 1, 0, false)

	root.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyCtrlC {
			t.app.Stop()
			return nil
		}
		return event
	})

	t.app.SetRoot(root, true).SetFocus(t.list)
	t.redrawList()
	return t
}

// onProgress is a buildexec.Options.Progress hook: called once per node
// as its Result becomes final. Runs on the pool's coordinating goroutine:
// the node's status is updated here under t.mu, and only the redraw of
// the tview widgets is queued through QueueUpdateDraw.
func (t *buildTUI) onProgress(r buildexec.Result) {
	t.mu.Lock()
	ns, ok := t.byID[r.NodeID]
	if ok {
		switch {
		case r.Err != nil:
			ns.glyph = "x"
			ns.output = string(r.Output) + "\n" + r.Err.Error()
		case r.Cached:
			ns.glyph = "+"
			ns.output = "(cache hit)"
		default:
			ns.glyph = "+"
			ns.output = string(r.Output)
		}
	}
	t.mu.Unlock()

	t.app.QueueUpdateDraw(func() {
		t.redrawList()
		t.redrawDetail()
	})
}

// redrawList rebuilds the left pane from current node state. buildexec
// has no "node started" event, only "node finished" via Progress, so a
// node's glyph stays "." for its whole run and flips straight to "+"/"x".
func (t *buildTUI) redrawList() {
	t.list.Clear()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		ns := t.byID[id]
		label := fmt.Sprintf("[%s] %-8s %s", ns.glyph, ns.node.Kind, id)
		t.list.AddItem(label, "", 0, nil)
	}
}

func (t *buildTUI) redrawDetail() {
	t.mu.Lock()
	ns, ok := t.byID[t.current]
	t.mu.Unlock()
	if !ok {
		t.detail.SetText("")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[yellow]%s[white]\n%s\n\n%s\n", ns.node.ID, strings.Join(ns.node.Argv, " "), ns.output)
	t.detail.SetText(b.String())
}

// run starts pool.Run in the background and blocks until the TUI exits
// (by user quit or the pool finishing), returning the pool's result.
func (t *buildTUI) run(ctx context.Context, pool *buildexec.Pool) (map[string]buildexec.Result, error) {
	type outcome struct {
		results map[string]buildexec.Result
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := pool.Run(ctx)
		done <- outcome{results, err}
		t.app.Stop()
	}()

	if err := t.app.Run(); err != nil {
		return nil, err
	}

	out := <-done
	return out.results, out.err
}
