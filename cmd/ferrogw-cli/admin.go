package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	aigateway "github.com/ferro-labs/ai-gateway"
)

// adminClient talks to a running FerroGateway's admin HTTP API.
type adminClient struct {
	addr   string
	apiKey string
	http   *http.Client
}

func newAdminClient(addr, apiKey string) *adminClient {
	return &adminClient{addr: addr, apiKey: apiKey, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *adminClient) do(method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.addr+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway returned %s: %s", resp.Status, string(msg))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// adminCmd groups the admin-plane operations: register, deregister,
// reset-breaker, update-rule, remove-rule, plus candidates/rules for
// inspecting routing table state. Every subcommand talks to a running
// gateway's /admin/routing HTTP API rather than mutating local state.
func adminCmd() *cobra.Command {
	var addr, apiKey string

	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage a running gateway's routing table and rules",
		Long: `admin talks to a running FerroGateway's admin API to register or
deregister routing candidates, reset a candidate's circuit breaker, and
add, replace, or remove routing rules.`,
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "gateway base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "admin API key (required)")

	client := func() (*adminClient, error) {
		if apiKey == "" {
			return nil, fmt.Errorf("--api-key is required")
		}
		return newAdminClient(addr, apiKey), nil
	}

	cmd.AddCommand(adminCandidatesCmd(&client))
	cmd.AddCommand(adminRulesCmd(&client))
	cmd.AddCommand(adminRegisterCmd(&client))
	cmd.AddCommand(adminDeregisterCmd(&client))
	cmd.AddCommand(adminResetBreakerCmd(&client))
	cmd.AddCommand(adminUpdateRuleCmd(&client))
	cmd.AddCommand(adminRemoveRuleCmd(&client))

	return cmd
}

func adminCandidatesCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates",
		Short: "List routing candidates and their health snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			var snapshots []map[string]any
			if err := c.do(http.MethodGet, "/admin/routing/candidates", nil, &snapshots); err != nil {
				return err
			}
			return printJSON(snapshots)
		},
	}
}

func adminRulesCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List routing rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			var rules []map[string]any
			if err := c.do(http.MethodGet, "/admin/routing/rules", nil, &rules); err != nil {
				return err
			}
			return printJSON(rules)
		},
	}
}

func adminRegisterCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	var id, provider, region, tenant string
	var weight float64

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new routing candidate bound to an existing provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || provider == "" {
				return fmt.Errorf("--id and --provider are required")
			}
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			body := map[string]any{
				"id":       id,
				"provider": provider,
				"region":   region,
				"tenant":   tenant,
				"weight":   weight,
			}
			var result map[string]any
			if err := c.do(http.MethodPost, "/admin/routing/candidates", body, &result); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "candidate ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name already known to the gateway (required)")
	cmd.Flags().StringVar(&region, "region", "", "candidate region")
	cmd.Flags().StringVar(&tenant, "tenant", "", "restrict the candidate to one tenant")
	cmd.Flags().Float64Var(&weight, "weight", 0, "WeightedRoundRobin weight")

	return cmd
}

func adminDeregisterCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "deregister <id>",
		Short: "Remove a routing candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			if err := c.do(http.MethodDelete, "/admin/routing/candidates/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("deregistered %s\n", args[0])
			return nil
		},
	}
}

func adminResetBreakerCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker <id>",
		Short: "Force a candidate's circuit breaker back to closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			var result map[string]any
			if err := c.do(http.MethodPost, "/admin/routing/candidates/"+args[0]+"/reset_breaker", nil, &result); err != nil {
				return err
			}
			fmt.Printf("reset breaker for %s\n", args[0])
			return nil
		},
	}
}

func adminUpdateRuleCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	var rc aigateway.RuleConfig

	cmd := &cobra.Command{
		Use:   "update-rule",
		Short: "Insert or replace a routing rule",
		Long: `update-rule inserts a rule, or replaces it in place when --id matches
an existing rule. Exactly one action flag (--route-to-provider,
--strategy-override, --priority-override, or --reject) must be set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rc.ID == "" {
				return fmt.Errorf("--id is required")
			}
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			var result map[string]any
			if err := c.do(http.MethodPut, "/admin/routing/rules", rc, &result); err != nil {
				return err
			}
			fmt.Printf("updated rule %s\n", rc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rc.ID, "id", "", "rule ID (required)")
	cmd.Flags().IntVar(&rc.Priority, "priority", 0, "evaluation priority, higher runs first")
	cmd.Flags().StringVar(&rc.Model, "model", "", "match requests for this model (glob)")
	cmd.Flags().StringVar(&rc.Tenant, "tenant", "", "match requests from this tenant")
	cmd.Flags().StringVar(&rc.Region, "region", "", "match requests targeting this region")
	cmd.Flags().StringVar(&rc.RouteToProvider, "route-to-provider", "", "action: route matching requests to this provider")
	cmd.Flags().StringVar(&rc.StrategyOverride, "strategy-override", "", "action: override the load balancing strategy")
	cmd.Flags().StringVar(&rc.PriorityOverride, "priority-override", "", "action: override the request priority")
	cmd.Flags().StringVar(&rc.Reject, "reject", "", "action: reject matching requests with this message")

	return cmd
}

func adminRemoveRuleCmd(newClient *func() (*adminClient, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-rule <id>",
		Short: "Remove a routing rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := (*newClient)()
			if err != nil {
				return err
			}
			if err := c.do(http.MethodDelete, "/admin/routing/rules/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("removed rule %s\n", args[0])
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
