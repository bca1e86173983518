// Package cli builds the b4sni command tree. Flags write straight into a
// config.Config; rule sources are merged and validated before any command
// runs.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/daniellavrushin/b4sni/config"
)

// Handlers are the entry points behind the commands. Each receives the
// validated configuration.
type Handlers struct {
	Run     func(cmd *cobra.Command, cfg *config.Config) error
	Monitor func(cmd *cobra.Command, cfg *config.Config, ifaces []string) error
}

// options holds flags that do not map 1:1 onto a config field.
type options struct {
	silent bool
	debug  bool
	trace  bool
	noGSO  bool
	noIPv6 bool

	host   string
	invert bool
	proto  string
	action string
}

func bindFlags(fs *pflag.FlagSet, cfg *config.Config, o *options) {
	fs.UintVar(&cfg.QueueStartNum, "queue-num", cfg.QueueStartNum, "First NFQUEUE id")
	fs.IntVar(&cfg.Threads, "threads", cfg.Threads, "Number of NFQUEUE workers, one queue each")
	fs.UintVar(&cfg.Mark, "packet-mark", cfg.Mark, "Mark set on accepted packets; marked packets are not queued")
	fs.IntVar(&cfg.ConnBytesLimit, "connbytes-limit", cfg.ConnBytesLimit, "Inspect only the first N packets of a flow (0 = all)")
	fs.BoolVar(&cfg.UseConntrack, "use-conntrack", cfg.UseConntrack, "Request conntrack info from NFQUEUE")
	fs.BoolVar(&cfg.SkipIpTables, "skip-iptables", cfg.SkipIpTables, "Do not touch iptables")
	fs.BoolVar(&cfg.Syslog, "syslog", cfg.Syslog, "Also log to syslog")
	fs.BoolVar(&cfg.Instaflush, "instaflush", cfg.Instaflush, "Unbuffered logging")
	fs.StringVar(&cfg.RulesFile, "rules", cfg.RulesFile, "YAML rules file")

	fs.BoolVar(&o.noGSO, "no-gso", false, "Disable GSO handling")
	fs.BoolVar(&o.noIPv6, "no-ipv6", false, "Do not match IPv6 packets")
	fs.BoolVar(&o.silent, "silent", false, "Log errors only")
	fs.BoolVar(&o.debug, "debug", false, "Verbosity DEBUG")
	fs.BoolVar(&o.trace, "trace", false, "Verbosity TRACE")

	fs.StringVar(&o.host, "host", "", "Hostname glob of an inline rule")
	fs.BoolVar(&o.invert, "invert", false, "Invert the inline rule")
	fs.StringVar(&o.proto, "proto", config.DefaultRule.Proto, "Protocol of the inline rule (tcp|udp)")
	fs.StringVar(&o.action, "action", config.DefaultRule.Action, "Action of the inline rule (accept|drop)")
}

// apply folds the parsed options into cfg, loads the rules file, appends
// the inline rule and validates the result.
func (o *options) apply(cfg *config.Config) error {
	switch {
	case o.trace:
		cfg.Verbose = config.VerboseTrace
	case o.debug:
		cfg.Verbose = config.VerboseDebug
	case o.silent:
		cfg.Verbose = config.VerboseSilent
	}
	if o.noGSO {
		cfg.UseGSO = false
	}
	if o.noIPv6 {
		cfg.UseIPv6 = false
	}

	if cfg.RulesFile != "" {
		rules, err := config.LoadRules(cfg.RulesFile)
		if err != nil {
			return err
		}
		cfg.Rules = append(cfg.Rules, rules...)
	}
	if o.host != "" {
		r := config.Rule{Name: "cli", Proto: o.proto, Action: o.action}
		r.Host, r.Invert = o.host, o.invert
		cfg.Rules = append(cfg.Rules, r)
	}
	return cfg.Validate()
}

// Parse fills cfg in place from args.
func Parse(cfg *config.Config, args []string) error {
	var o options
	fs := pflag.NewFlagSet("b4sni", pflag.ContinueOnError)
	bindFlags(fs, cfg, &o)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return o.apply(cfg)
}

func NewRootCmd(cfg *config.Config, h Handlers) *cobra.Command {
	var o options
	root := &cobra.Command{
		Use:          "b4sni",
		Short:        "Match TLS and QUIC client hello hostnames on NFQUEUE",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.apply(cfg)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return h.Run(cmd, cfg)
		},
	}
	bindFlags(root.PersistentFlags(), cfg, &o)

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configured rules and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, r := range cfg.Rules {
				neg := ""
				if r.Invert {
					neg = "! "
				}
				fmt.Fprintf(w, "%-12s %s --tls-host %s%q -j %s\n", r.Name, r.Proto, neg, r.Host, r.Action)
			}
			fmt.Fprintf(w, "%d rule(s) ok\n", len(cfg.Rules))
			return nil
		},
	})

	var ifaces []string
	mon := &cobra.Command{
		Use:   "monitor",
		Short: "Passively report client hello hostnames and the rule that would decide them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(ifaces) == 0 {
				return fmt.Errorf("at least one --iface is required")
			}
			return h.Monitor(cmd, cfg, ifaces)
		},
	}
	mon.Flags().StringSliceVarP(&ifaces, "iface", "i", nil, "Interface to capture on (repeatable)")
	root.AddCommand(mon)

	return root
}
