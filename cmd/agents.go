package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/zjrosen/conductor/internal/config"
	"github.com/zjrosen/conductor/internal/orchestration/window"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List and edit the configured editor agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show agents and their screen coordinates",
	Args:  cobra.NoArgs,
	RunE:  runAgentsList,
}

var agentsAddCmd = &cobra.Command{
	Use:   "add ID",
	Short: "Add an agent to the config file",
	Long: `Add an agent to the config file. Coordinates are screen positions
written as X,Y.

Example:
  conductor agents add A3 --input 2320,900 --copy 2620,120 --probe 2320,60`,
	Args: cobra.ExactArgs(1),
	RunE: runAgentsAdd,
}

var agentsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove an agent from the config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsRemove,
}

var (
	agentTitle string
	agentInput string
	agentCopy  string
	agentProbe string
)

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.AddCommand(agentsListCmd, agentsAddCmd, agentsRemoveCmd)

	agentsAddCmd.Flags().StringVar(&agentTitle, "title", "", "window title checked for focus before each click")
	agentsAddCmd.Flags().StringVar(&agentInput, "input", "", "prompt input position X,Y")
	agentsAddCmd.Flags().StringVar(&agentCopy, "copy", "", "copy button position X,Y")
	agentsAddCmd.Flags().StringVar(&agentProbe, "probe", "", "health probe position X,Y")
	_ = agentsAddCmd.MarkFlagRequired("input")
	_ = agentsAddCmd.MarkFlagRequired("copy")
	_ = agentsAddCmd.MarkFlagRequired("probe")
}

func runAgentsList(cmd *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tELEMENTS")
	for _, a := range c.Agents {
		names := make([]string, 0, len(a.Coordinates))
		for name := range a.Coordinates {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "%s\t%s\t", a.ID, orDash(a.WindowTitle))
		for i, name := range names {
			if i > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%s=%s", name, a.Coordinates[name])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func runAgentsAdd(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	coords := make(map[string]window.Point, 3)
	for element, raw := range map[string]string{
		window.ElementInput: agentInput,
		window.ElementCopy:  agentCopy,
		window.ElementProbe: agentProbe,
	} {
		p, err := window.ParsePoint(raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", element, err)
		}
		coords[element] = p
	}

	agent := config.AgentConfig{ID: args[0], WindowTitle: agentTitle, Coordinates: coords}
	path := configPath()
	if err := config.AddAgent(path, agent, c.Agents); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added agent %s to %s\n", agent.ID, path)
	return nil
}

func runAgentsRemove(cmd *cobra.Command, args []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	path := configPath()
	if err := config.RemoveAgent(path, args[0], c.Agents); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed agent %s from %s\n", args[0], path)
	return nil
}
