package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/spf13/cobra"
)

const requestTimeout = 10 * time.Second

// connect returns a client for the --manager address and a request context
func connect(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc, error) {
	addr, _ := cmd.Flags().GetString("manager")
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to manager: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	return c, ctx, cancel, nil
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Trigger a reconciliation cycle on the leader",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		if err := c.Reconcile(ctx); err != nil {
			return fmt.Errorf("failed to trigger reconciliation: %w", err)
		}
		fmt.Println("✓ Reconciliation triggered")
		return nil
	},
}

// Pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect warm project pools",
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pools with their fill level",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		pools, err := c.ListPools(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pools: %w", err)
		}
		if len(pools) == 0 {
			fmt.Println("No pools found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tLOCATION\tAVAILABLE\tTARGET")
		for _, p := range pools {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", p.ID, p.Name, p.ProjectType, p.EffectiveLocationID, p.Available, p.TargetCount)
		}
		return w.Flush()
	},
}

var poolItemsCmd = &cobra.Command{
	Use:   "items POOL_ID",
	Short: "List the available projects in a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		items, err := c.ListPoolItems(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to list pool items: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROJECT\tCREATED")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", item.ID, item.ProjectID, item.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var poolConsumeCmd = &cobra.Command{
	Use:   "consume POOL_ID ITEM_ID",
	Short: "Hand an available project out of a pool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		if err := c.ConsumePoolItem(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to consume pool item: %w", err)
		}
		fmt.Printf("✓ Pool item consumed: %s\n", args[1])
		return nil
	},
}

var poolDeleteCmd = &cobra.Command{
	Use:   "delete POOL_ID",
	Short: "Delete a pool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		if err := c.DeletePool(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete pool: %w", err)
		}
		fmt.Printf("✓ Pool deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolItemsCmd)
	poolCmd.AddCommand(poolConsumeCmd)
	poolCmd.AddCommand(poolDeleteCmd)
}

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage the manager cluster",
}

var clusterTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a single-use join token for a new manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		token, err := c.GenerateJoinToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to generate join token: %w", err)
		}

		fmt.Println(token.Token)
		fmt.Fprintf(os.Stderr, "Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var clusterInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show raft membership and leadership",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := connect(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer c.Close()

		info, err := c.GetClusterInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to get cluster info: %w", err)
		}

		fmt.Printf("Node:   %s\n", info.NodeID)
		fmt.Printf("Leader: %s\n", info.Leader)
		fmt.Println()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tADDRESS\tSUFFRAGE")
		for _, s := range info.Servers {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Address, s.Suffrage)
		}
		return w.Flush()
	},
}

func init() {
	clusterCmd.AddCommand(clusterTokenCmd)
	clusterCmd.AddCommand(clusterInfoCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a manager's gRPC health status",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("health-addr")
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		status, err := client.CheckHealth(ctx, addr, api.ReconcilerService)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", api.ReconcilerService, status)
		return nil
	},
}

func init() {
	statusCmd.Flags().String("health-addr", "localhost:9090", "Manager gRPC health address")
}
