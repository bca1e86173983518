// Package iptables installs the mangle chain that hands the first packets
// of HTTPS flows to the NFQUEUE workers.
package iptables

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/daniellavrushin/b4sni/config"
	"github.com/daniellavrushin/b4sni/logx"
)

const (
	table     = "mangle"
	chainName = "B4SNI"
)

var run = func(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func existsChain(ipt, table, chain string) bool {
	_, err := run(ipt, "-w", "-t", table, "-S", chain)
	return err == nil
}

func existsRule(ipt, table, chain string, spec []string) bool {
	_, err := run(append([]string{ipt, "-w", "-t", table, "-C", chain}, spec...)...)
	return err == nil
}

func delAll(ipt, table, chain string, spec []string) {
	for {
		if _, err := run(append([]string{ipt, "-w", "-t", table, "-D", chain}, spec...)...); err != nil {
			break
		}
	}
}

func qbSpec(start, end uint) []string {
	if end > start {
		return []string{"-j", "NFQUEUE", "--queue-balance",
			strconv.FormatUint(uint64(start), 10) + ":" + strconv.FormatUint(uint64(end), 10), "--queue-bypass"}
	}
	return []string{"-j", "NFQUEUE", "--queue-num", strconv.FormatUint(uint64(start), 10), "--queue-bypass"}
}

type Rule struct {
	IPT    string
	Table  string
	Chain  string
	Spec   []string
	Action string // "A" appends, "I" inserts
}

func (r Rule) Apply() error {
	if existsRule(r.IPT, r.Table, r.Chain, r.Spec) {
		return nil
	}
	op := "-A"
	if strings.ToUpper(r.Action) == "I" {
		op = "-I"
	}
	out, err := run(append([]string{r.IPT, "-w", "-t", r.Table, op, r.Chain}, r.Spec...)...)
	if err != nil {
		return fmt.Errorf("%s %s %s: %w: %s", r.IPT, op, r.Chain, err, strings.TrimSpace(out))
	}
	return nil
}

func (r Rule) Remove() {
	delAll(r.IPT, r.Table, r.Chain, r.Spec)
}

type Chain struct {
	IPT   string
	Table string
	Name  string
}

func (c Chain) Ensure() error {
	if existsChain(c.IPT, c.Table, c.Name) {
		return nil
	}
	if out, err := run(c.IPT, "-w", "-t", c.Table, "-N", c.Name); err != nil {
		return fmt.Errorf("%s -N %s: %w: %s", c.IPT, c.Name, err, strings.TrimSpace(out))
	}
	return nil
}

func (c Chain) Remove() {
	if existsChain(c.IPT, c.Table, c.Name) {
		_, _ = run(c.IPT, "-w", "-t", c.Table, "-F", c.Name)
		_, _ = run(c.IPT, "-w", "-t", c.Table, "-X", c.Name)
	}
}

type Manifest struct {
	Chains []Chain
	Rules  []Rule
}

func (m Manifest) Apply() error {
	for _, c := range m.Chains {
		if err := c.Ensure(); err != nil {
			return err
		}
	}
	for _, r := range m.Rules {
		if err := r.Apply(); err != nil {
			return err
		}
	}
	return nil
}

func (m Manifest) RemoveRules() {
	for i := len(m.Rules) - 1; i >= 0; i-- {
		m.Rules[i].Remove()
	}
}

func (m Manifest) RemoveChains() {
	for i := len(m.Chains) - 1; i >= 0; i-- {
		m.Chains[i].Remove()
	}
}

var hasBinary = func(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func binaries(cfg *config.Config) []string {
	ipts := []string{"iptables"}
	if cfg.UseIPv6 && hasBinary("ip6tables") {
		ipts = append(ipts, "ip6tables")
	}
	return ipts
}

func buildManifest(cfg *config.Config) Manifest {
	start := cfg.QueueStartNum
	end := cfg.QueueStartNum + uint(cfg.Threads) - 1
	markHex := fmt.Sprintf("0x%x/0x%x", cfg.Mark, cfg.Mark)
	tcp, udp := cfg.Protocols()

	var protos []string
	if tcp {
		protos = append(protos, "tcp")
	}
	if udp {
		protos = append(protos, "udp")
	}

	var m Manifest
	for _, ipt := range binaries(cfg) {
		m.Chains = append(m.Chains, Chain{IPT: ipt, Table: table, Name: chainName})

		for _, hook := range []string{"OUTPUT", "FORWARD"} {
			m.Rules = append(m.Rules, Rule{
				IPT: ipt, Table: table, Chain: hook, Action: "I",
				Spec: []string{"-m", "mark", "!", "--mark", markHex, "-j", chainName},
			})
		}
		for _, p := range protos {
			spec := []string{"-p", p, "--dport", "443"}
			if cfg.ConnBytesLimit > 0 {
				spec = append(spec, "-m", "connbytes", "--connbytes-dir", "original",
					"--connbytes-mode", "packets", "--connbytes", "0:"+strconv.Itoa(cfg.ConnBytesLimit))
			}
			m.Rules = append(m.Rules, Rule{
				IPT: ipt, Table: table, Chain: chainName, Action: "A",
				Spec: append(spec, qbSpec(start, end)...),
			})
		}
	}
	return m
}

func delAnyJumpToChain(ipt, chain string) {
	out, _ := run(ipt, "-w", "-t", table, "-S", chain)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-A "+chain+" ") || !strings.Contains(line, "-j "+chainName) {
			continue
		}
		fields := strings.Fields(line)
		_, _ = run(append([]string{ipt, "-w", "-t", table, "-D", chain}, fields[2:]...)...)
	}
}

func AddRules(cfg *config.Config) error {
	if cfg.SkipIpTables {
		return nil
	}
	logx.Infof("IPTABLES: adding rules")
	return buildManifest(cfg).Apply()
}

func ClearRules(cfg *config.Config) error {
	if cfg.SkipIpTables {
		return nil
	}
	logx.Infof("IPTABLES: clearing rules")
	m := buildManifest(cfg)
	m.RemoveRules()
	for _, ipt := range binaries(cfg) {
		delAnyJumpToChain(ipt, "OUTPUT")
		delAnyJumpToChain(ipt, "FORWARD")
	}
	time.Sleep(30 * time.Millisecond)
	m.RemoveChains()
	return nil
}
