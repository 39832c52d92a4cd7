package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/CedrosPay/terminal/internal/orchestrator"
)

func payCmd(g *globals) *cobra.Command {
	var order orderFlags
	var amount, readerID string
	var simulate bool
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Collect a card payment for an order on a reader",
		Long: `Collect a card payment for an order on a reader.

The reader is taken from --reader or from the last reader used on this machine.
While the payment runs, type r to retry after a decline, c to cancel, s to check
the processor. Ctrl-C cancels the payment before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			return runPay(cmd.Context(), e, payOptions{
				order:    order.ref(),
				amount:   amt,
				readerID: readerID,
				simulate: simulate,
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
			})
		},
	}
	order.register(cmd)
	cmd.Flags().StringVar(&amount, "amount", "", "amount in major units, e.g. 19.99")
	cmd.Flags().StringVar(&readerID, "reader", "", "reader id (default: last used reader)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "present a test card once the reader is waiting (test mode only)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

type payOptions struct {
	order    orchestrator.OrderRef
	amount   decimal.Decimal
	readerID string
	simulate bool
	in       io.Reader
	out      io.Writer
}

func runPay(ctx context.Context, e *env, opts payOptions) error {
	view := newConsoleView(opts.out)

	// Completing the order on the server is the first finalization step.
	confirm := orchestrator.FinalizerFunc{
		StepName: "confirm_order",
		Fn: func(ctx context.Context, out orchestrator.Outcome) (bool, error) {
			pi, err := e.client.ConfirmPayment(ctx, out.Order, out.PaymentIntentID)
			if err != nil {
				return false, err
			}
			fmt.Fprintf(opts.out, "Order %s completed (payment %s)\n", out.Order.ID, pi.ID)
			return true, nil
		},
	}

	o := orchestrator.New(orchestrator.ConfigFrom(e.cfg.Terminal), e.client,
		orchestrator.WithView(view),
		orchestrator.WithReaderMemory(orchestrator.NewFileReaderMemory(e.cfg.Terminal.ReaderMemoryPath)),
		orchestrator.WithFinalizers(confirm),
		orchestrator.WithNavigator(printNavigator{out: opts.out}),
		orchestrator.WithLogger(e.log),
	)
	defer o.Close()

	if err := o.Init(ctx); err != nil {
		return err
	}
	if opts.readerID != "" {
		if err := o.Connect(opts.readerID); err != nil {
			return err
		}
	} else if o.State() != orchestrator.StateReaderConnected {
		return errors.New("no reader connected: pass --reader")
	}

	view.drain()
	if err := o.Pay(ctx, orchestrator.PaymentRequest{OrderID: opts.order.ID, OrderKey: opts.order.Key, Amount: opts.amount}); err != nil {
		return err
	}
	if opts.simulate {
		if err := o.SimulatePayment(ctx); err != nil {
			return err
		}
	}

	lines := readLines(opts.in)
	failed := false
	for {
		select {
		case <-ctx.Done():
			if o.State().Active() {
				cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = o.Cancel(cancelCtx)
				cancel()
			}
			return ctx.Err()

		case s := <-view.states:
			switch s {
			case orchestrator.StateSucceeded:
				// Close waits for finalization to finish before returning.
				return o.Close()
			case orchestrator.StateCanceled:
				return errors.New("payment canceled")
			case orchestrator.StateFailed, orchestrator.StateTimedOut:
				failed = true
			case orchestrator.StateReaderConnected:
				if !failed {
					continue
				}
				failed = false
				if o.Snapshot().PaymentIntentID == "" {
					return errors.New("payment did not complete; run status --live to check the order")
				}
			}

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := handleKey(ctx, o, line); err != nil {
				fmt.Fprintf(opts.out, "! %v\n", err)
			}
		}
	}
}

func handleKey(ctx context.Context, o *orchestrator.Orchestrator, key string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "r", "retry":
		return o.Retry(ctx)
	case "c", "cancel":
		return o.Cancel(ctx)
	case "s", "status":
		return o.CheckStatus(ctx)
	case "t", "test":
		return o.SimulatePayment(ctx)
	case "":
		return nil
	default:
		return fmt.Errorf("unknown command %q", key)
	}
}

// readLines feeds stdin lines to the interactive loop. The goroutine ends with the input.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}
