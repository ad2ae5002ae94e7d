// Command geocachectl is the operator CLI for a geocache cluster: it
// discovers the cluster briefly, then performs a single get/put/delete
// through the same failover client package a node's own clients use.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/geocache/geocache/internal/client"
	"github.com/geocache/geocache/internal/discovery"
	"github.com/geocache/geocache/internal/latency"
	"github.com/geocache/geocache/internal/topology"
)

var (
	selfRegion     string
	targetRegion   string
	discoveryWait  time.Duration
	discoveryPoll  time.Duration
	expirySeconds  int
)

func main() {
	root := &cobra.Command{
		Use:   "geocachectl",
		Short: "Operate a geocache cluster from the command line",
	}
	root.PersistentFlags().StringVar(&selfRegion, "region", "", "this client's home region (required)")
	root.PersistentFlags().StringVar(&targetRegion, "target-region", "", "region owning the key (default: --region)")
	root.PersistentFlags().DurationVar(&discoveryWait, "discovery-wait", 2*time.Second, "how long to listen for peers before acting")
	root.PersistentFlags().DurationVar(&discoveryPoll, "discovery-poll-interval", 500*time.Millisecond, "mDNS browse interval during discovery-wait")
	root.MarkPersistentFlagRequired("region")

	root.AddCommand(newGetCmd(), newPutCmd(), newDeleteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a key, walking the client failover order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := bootstrapClient()
			hit, value := c.Get(resolveRegion(), args[0])
			if !hit {
				fmt.Fprintln(os.Stderr, "miss")
				os.Exit(1)
			}
			os.Stdout.Write(value)
			fmt.Println()
			fmt.Fprintf(os.Stderr, "last action: %s\n", c.LatestAction())
			return nil
		},
	}
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := bootstrapClient()
			ok := c.Put(resolveRegion(), args[0], []byte(args[1]), expirySeconds)
			fmt.Fprintf(os.Stderr, "last action: %s\n", c.LatestAction())
			if !ok {
				fmt.Fprintln(os.Stderr, "put failed: no reachable peer")
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&expirySeconds, "expiry", 3600, "expiry in seconds")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := bootstrapClient()
			ok := c.Delete(resolveRegion(), args[0])
			fmt.Fprintf(os.Stderr, "last action: %s\n", c.LatestAction())
			if !ok {
				fmt.Fprintln(os.Stderr, "delete failed: no reachable peer")
				os.Exit(1)
			}
			return nil
		},
	}
}

func resolveRegion() string {
	if targetRegion == "" {
		return selfRegion
	}
	return targetRegion
}

// bootstrapClient builds a short-lived Topology, listens for peers for
// discoveryWait, and returns a Cluster client primed with whatever it
// saw. A one-shot CLI invocation has no long-running discovery loop to
// lean on, unlike a node process.
func bootstrapClient() *client.Cluster {
	log := logrus.NewEntry(logrus.StandardLogger())

	prober := latency.NewProber(latency.NewTable(selfRegion), latency.NewHTTPPinger(), 500*time.Millisecond)
	top := topology.New(selfRegion, nil, prober, log)

	browser, err := discovery.NewBrowser(top, "geocachectl")
	if err != nil {
		log.WithError(err).Fatal("geocachectl: create discovery browser")
	}
	top.Resolver = browser

	ctx, cancel := context.WithTimeout(context.Background(), discoveryWait)
	defer cancel()
	browser.Run(ctx, discoveryPoll)

	return client.New(top, &http.Client{})
}
