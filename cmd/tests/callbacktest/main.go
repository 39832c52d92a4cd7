package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CedrosPay/terminal/internal/callbacks"
	"github.com/CedrosPay/terminal/internal/config"
	"github.com/CedrosPay/terminal/internal/money"
)

func main() {
	configPath := flag.String("config", "configs/local.yaml", "path to config yaml")
	orderID := flag.String("order", "callback-test", "order id sent in the synthetic event")
	amount := flag.String("amount", "1.00", "amount in major units")
	currency := flag.String("currency", "usd", "ISO currency code")
	failed := flag.Bool("failed", false, "send payment.failed instead of payment.succeeded")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	amt, err := decimal.NewFromString(*amount)
	if err != nil {
		log.Fatalf("parse amount: %v", err)
	}
	units := money.ToProcessorUnits(amt, *currency)

	// Retries are disabled so the result of a single delivery is reported.
	cfg.Callbacks.Retry.Enabled = false
	deadLetters := callbacks.NewMemoryDeadLetterStore()
	client := callbacks.NewRetryableClient(cfg.Callbacks, callbacks.WithDeadLetterStore(deadLetters))
	if client == nil {
		log.Fatalf("no callback URL is configured")
	}

	event := callbacks.PaymentEvent{
		OrderID:         *orderID,
		PaymentIntentID: "pi_callback_test",
		Amount:          amt.String(),
		AmountUnits:     units,
		Currency:        *currency,
		Source:          "callbacktest",
	}

	url := cfg.Callbacks.PaymentSucceededURL
	if *failed {
		url = cfg.Callbacks.PaymentFailedURL
		event.FailureCode = "card_declined"
		event.FailureMessage = "Synthetic decline"
		client.PaymentFailed(context.Background(), event)
	} else {
		client.PaymentSucceeded(context.Background(), event)
	}
	client.Wait()
	_ = client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	failures, err := deadLetters.ListFailedDeliveries(ctx, 1)
	if err != nil {
		log.Fatalf("read delivery result: %v", err)
	}
	if len(failures) > 0 {
		log.Fatalf("callback to %s failed: %s", failures[0].URL, failures[0].LastError)
	}
	fmt.Println("callback delivered to", url)
}
