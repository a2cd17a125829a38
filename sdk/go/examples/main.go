package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ZK-Intent-Fusion/sdk/go/intentfusion"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "intentd base url")
	user := flag.String("user", "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", "user address")
	text := flag.String("text", "Maximize yield on my stablecoins across chains, highest APY, max 3% gas", "intent text")
	token := flag.String("token", os.Getenv("INTENTD_TOKEN"), "bearer token")
	flag.Parse()

	client, err := intentfusion.NewClient(*baseURL, nil)
	if err != nil {
		fail(err)
	}
	client.SetAccessToken(*token)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sub, err := client.Submit(ctx, *text, *user)
	if err != nil {
		fail(err)
	}
	commitment := sub.Intent.Commitment
	fmt.Printf("commitment %s: %d bids, %d admissible, winner %s\n",
		commitment, sub.Stats.TotalBids, sub.Stats.ValidBids, sub.Auction.Winner.Solver)

	auth, err := client.Authorize(ctx, commitment, "")
	if err != nil {
		fail(err)
	}
	fmt.Printf("authorized %s at %d\n", auth.WinnerSolver, auth.AuthorizedAt)

	log, err := client.Execute(ctx, commitment)
	if err != nil {
		fail(err)
	}
	fmt.Printf("executed %d txs, gas $%.2f, position %s on %s (%s)\n",
		len(log.Txs), log.TotalGasUSD, log.FinalPosition.Protocol, log.FinalPosition.Chain, log.FinalPosition.Amount)

	status, err := client.Status(ctx, commitment)
	if err != nil {
		fail(err)
	}
	fmt.Printf("stage %s\n", status.Stage)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
