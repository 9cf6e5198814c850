package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lyzr/appforge/common/clients"
	"github.com/lyzr/appforge/common/logger"
)

// cli carries the resolved settings shared by every subcommand
type cli struct {
	out io.Writer
	v   *viper.Viper
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, v: viper.New()}
	c.v.SetEnvPrefix("FORGE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "forgectl",
		Short:         "Drive app generations and deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.config().Validate()
		},
	}

	defaults := clients.LoadClientConfig()
	root.PersistentFlags().String("api-url", defaults.APIURL, "orchestrator API root")
	root.PersistentFlags().String("token", "", "bearer token (FORGE_TOKEN)")
	root.PersistentFlags().Duration("timeout", defaults.Timeout, "per-request timeout")
	root.PersistentFlags().StringP("project", "p", "", "project id")
	root.PersistentFlags().Bool("json", false, "output JSON")
	root.PersistentFlags().BoolP("verbose", "v", false, "log client activity")
	for _, name := range []string{"api-url", "token", "timeout", "project", "json", "verbose"} {
		_ = c.v.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(
		c.generateCmd(),
		c.historyCmd(),
		c.latestCmd(),
		c.deployCmd(),
		c.deploymentsCmd(),
		c.providersCmd(),
		c.watchCmd(),
	)
	return root
}

func (c *cli) logger() *logger.Logger {
	if c.v.GetBool("verbose") {
		return logger.NewWithWriter(os.Stderr, "debug", "text")
	}
	return logger.Nop()
}

func (c *cli) config() *clients.ClientConfig {
	token := c.v.GetString("token")
	if token == "" {
		token = clients.LoadClientConfig().Token
	}
	return &clients.ClientConfig{
		APIURL:  c.v.GetString("api-url"),
		Token:   token,
		Timeout: c.v.GetDuration("timeout"),
	}
}

func (c *cli) api() *clients.OrchestratorClient {
	return clients.NewOrchestratorClient(c.config(), c.logger())
}

func (c *cli) project() (string, error) {
	id := c.v.GetString("project")
	if id == "" {
		return "", errMissingProject
	}
	return id, nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
