package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"techfolks/internal/cli"
)

func main() {
	baseURL := flag.String("base", "http://127.0.0.1:8086", "Submission API base URL")
	token := flag.String("token", "", "Bearer token for the API")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Parse()

	client := cli.NewClient(*baseURL, *timeout)
	if *token != "" {
		client.SetToken(*token)
	} else if env := os.Getenv("JUDGECTL_TOKEN"); env != "" {
		client.SetToken(env)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewSession(client).Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "judgectl: %v\n", err)
		os.Exit(1)
	}
}
