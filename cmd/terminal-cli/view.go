package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/CedrosPay/terminal/internal/orchestrator"
	"github.com/CedrosPay/terminal/internal/payment"
)

// consoleView prints the session as it changes and forwards state changes to the
// interactive loop.
type consoleView struct {
	out    io.Writer
	states chan orchestrator.State
}

func newConsoleView(out io.Writer) *consoleView {
	return &consoleView{out: out, states: make(chan orchestrator.State, 32)}
}

func (v *consoleView) SetLoading(loading bool) {
	if loading {
		fmt.Fprintln(v.out, "...")
	}
}

func (v *consoleView) ShowError(layer orchestrator.Layer, message string) {
	fmt.Fprintf(v.out, "! %s: %s\n", layer, message)
}

func (v *consoleView) ShowReaders(readers []payment.Reader, connectedID string) {
	printReaders(v.out, readers, connectedID)
}

func (v *consoleView) SetActions(a orchestrator.Actions) {
	var keys []string
	if a.Pay {
		keys = append(keys, "[p]ay")
	}
	if a.Retry {
		keys = append(keys, "[r]etry")
	}
	if a.Cancel {
		keys = append(keys, "[c]ancel")
	}
	if len(keys) > 0 {
		keys = append(keys, "[s]tatus")
		fmt.Fprintf(v.out, "  %s\n", strings.Join(keys, "  "))
	}
}

func (v *consoleView) ShowBanner(kind orchestrator.BannerKind, message string) {
	switch kind {
	case orchestrator.BannerSuccess:
		fmt.Fprintf(v.out, "✓ %s\n", message)
	case orchestrator.BannerError:
		fmt.Fprintf(v.out, "✗ %s\n", message)
	default:
		fmt.Fprintf(v.out, "  %s\n", message)
	}
}

func (v *consoleView) SetStatus(s orchestrator.State, message string) {
	fmt.Fprintf(v.out, "[%s] %s\n", s, message)
	select {
	case v.states <- s:
	default:
	}
}

// drain discards state changes that happened before the caller started watching.
func (v *consoleView) drain() {
	for {
		select {
		case <-v.states:
		default:
			return
		}
	}
}

// printNavigator prints the order page instead of opening a browser.
type printNavigator struct {
	out io.Writer
}

func (n printNavigator) Navigate(url string) error {
	_, err := fmt.Fprintf(n.out, "Order: %s\n", url)
	return err
}
