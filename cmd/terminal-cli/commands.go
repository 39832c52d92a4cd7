package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/CedrosPay/terminal/internal/orchestrator"
	"github.com/CedrosPay/terminal/internal/payment"
)

// orderFlags identify the order a command acts on.
type orderFlags struct {
	id  string
	key string
}

func (f *orderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "order", "", "order id")
	cmd.Flags().StringVar(&f.key, "key", "", "order key")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("key")
}

func (f *orderFlags) ref() orchestrator.OrderRef {
	return orchestrator.OrderRef{ID: f.id, Key: f.key}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that the server can reach its payment account",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			status, err := e.client.ValidateService(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			mode := "live"
			if status.TestMode {
				mode = "test"
			}
			fmt.Fprintf(out, "Valid:      %t\n", status.Valid)
			fmt.Fprintf(out, "Country:    %s\n", status.Country)
			fmt.Fprintf(out, "Mode:       %s\n", mode)
			fmt.Fprintf(out, "Currencies: %s\n", strings.Join(status.SupportedCurrencies, ", "))
			return nil
		},
	}
}

func readersCmd(g *globals) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "readers [reader-id]",
		Short: "List registered readers, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			var readers []payment.Reader
			if len(args) == 1 {
				r, err := e.client.GetReader(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				readers = []payment.Reader{r}
			} else if readers, err = e.client.ListReaders(cmd.Context()); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), readers)
			}
			printReaders(cmd.OutOrStdout(), readers, "")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func printReaders(out io.Writer, readers []payment.Reader, connectedID string) {
	if len(readers) == 0 {
		fmt.Fprintln(out, "No readers registered.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tLABEL\tDEVICE\tSTATUS\tACTION")
	for _, r := range readers {
		mark := ""
		if r.ID == connectedID {
			mark = "*"
		}
		action := "-"
		if r.Action != nil {
			action = r.Action.Status
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", mark, r.ID, r.Label, r.DeviceType, r.Status, action)
	}
	_ = tw.Flush()
}

func statusCmd(g *globals) *cobra.Command {
	var order orderFlags
	var live bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show an order's payment status",
		Long: `Show an order's payment status. By default the server answers from its own records;
--live reconciles the order against the processor and records a payment it finds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			if live {
				result, err := e.client.CheckStripeStatus(cmd.Context(), order.ref())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}
			snapshot, err := e.client.CheckPaymentStatus(cmd.Context(), order.ref())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snapshot)
		},
	}
	order.register(cmd)
	cmd.Flags().BoolVar(&live, "live", false, "reconcile against the processor")
	return cmd
}

func cancelCmd(g *globals) *cobra.Command {
	var order orderFlags
	var intentID, readerID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a payment intent that has not been paid",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			pi, err := e.client.CancelPayment(cmd.Context(), order.ref(), intentID, readerID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Payment intent %s is %s\n", pi.ID, pi.Status)
			return nil
		},
	}
	order.register(cmd)
	cmd.Flags().StringVar(&intentID, "intent", "", "payment intent id")
	cmd.Flags().StringVar(&readerID, "reader", "", "also clear this reader's pending action")
	_ = cmd.MarkFlagRequired("intent")
	return cmd
}

func simulateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <reader-id>",
		Short: "Present a test card on a simulated reader (test mode only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			r, err := e.client.SimulatePayment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test card presented on %s\n", r.ID)
			return nil
		},
	}
}

func failedCallbacksCmd(g *globals) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "failed-callbacks",
		Short: "List merchant callbacks that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.load()
			if err != nil {
				return err
			}
			deliveries, err := e.client.FailedCallbacks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(deliveries) == 0 {
				fmt.Fprintln(out, "No failed callbacks.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEVENT\tATTEMPTS\tLAST ATTEMPT\tERROR")
			for _, d := range deliveries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.ID, d.EventType, d.Attempts, d.LastAttempt.Format(time.RFC3339), d.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries")
	return cmd
}
