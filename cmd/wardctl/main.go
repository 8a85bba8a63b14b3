// Command wardctl is the remote-procedure client for wardd's Control
// Service: rule CRUD, statistics/system-info fetch, event-stream
// subscription, backup/restore, and data-plane restart from the
// command line, following the teacher's cmd/flywall-sim client/server
// split (a flag-parsed address, a subcommand taken from flag.Args(),
// one Send/Run* function per subcommand).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/rpc"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wardfw/ward/internal/config"
	"github.com/wardfw/ward/internal/ctlplane"
)

func main() {
	addr := flag.String("address", "unix:/var/run/flywall-ctl.sock", "Control Service bind address (unix:<path> or host:port)")
	deadline := flag.Duration("deadline", 5*time.Second, "Request deadline")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	// config-set edits the HCL config file directly and needs no running
	// daemon, so it's dispatched before dialing the Control Service.
	if args[0] == "config-set" {
		if err := runConfigSet(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "wardctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	client, err := dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardctl: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	deadlineMS := int64(*deadline / time.Millisecond)

	var runErr error
	switch args[0] {
	case "rule-add":
		runErr = runRuleAdd(client, deadlineMS, args[1:])
	case "rule-update":
		runErr = runRuleUpdate(client, deadlineMS, args[1:])
	case "rule-delete":
		runErr = runRuleDelete(client, deadlineMS, args[1:])
	case "rule-get":
		runErr = runRuleGet(client, args[1:])
	case "rule-list":
		runErr = runRuleList(client, args[1:])
	case "stats":
		runErr = runStats(client)
	case "sysinfo":
		runErr = runSysInfo(client)
	case "events":
		runErr = runEvents(client, args[1:])
	case "backup":
		runErr = runBackup(client, args[1:])
	case "restore":
		runErr = runRestore(client, deadlineMS, args[1:])
	case "rule-export":
		runErr = runRuleExport(client, args[1:])
	case "rule-import":
		runErr = runRuleImport(client, deadlineMS, args[1:])
	case "restart":
		runErr = runRestart(client, deadlineMS)
	default:
		usage()
		os.Exit(2)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "wardctl: %v\n", runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: wardctl [-address addr] [-deadline dur] <command> [args]

commands:
  rule-add    -id ID -action ACTION -src CIDR -dst CIDR [-sport N] [-dport N]
              -proto PROTO -dir DIR -priority N [-enabled] [-stateful] [-desc TEXT]
  rule-update -id ID (same flags as rule-add)
  rule-delete -id ID
  rule-get    -id ID
  rule-list   [-offset N] [-limit N]
  stats
  sysinfo
  events      [-max N]
  backup      -out FILE
  restore     -in FILE [-force]
  rule-export -out FILE.yaml
  rule-import -in FILE.yaml
  config-set  -file FILE -option NAME -value VALUE [-type string|int|bool]
  restart`)
}

// runConfigSet edits a single option in an HCL config file on disk,
// without contacting a running daemon (the daemon picks up the change
// on its next restart or config reload).
func runConfigSet(argv []string) error {
	fs := flag.NewFlagSet("config-set", flag.ExitOnError)
	file := fs.String("file", "", "HCL config file to edit")
	option := fs.String("option", "", "option name, e.g. bind_address")
	value := fs.String("value", "", "new value")
	valueType := fs.String("type", "string", "string|int|bool")
	fs.Parse(argv)

	var parsed any
	switch *valueType {
	case "string":
		parsed = *value
	case "int":
		n, err := strconv.ParseInt(*value, 10, 64)
		if err != nil {
			return fmt.Errorf("parse -value as int: %w", err)
		}
		parsed = n
	case "bool":
		b, err := strconv.ParseBool(*value)
		if err != nil {
			return fmt.Errorf("parse -value as bool: %w", err)
		}
		parsed = b
	default:
		return fmt.Errorf("unknown -type %q", *valueType)
	}

	if err := config.SetOption(*file, *option, parsed); err != nil {
		return err
	}
	fmt.Printf("set %s = %v in %s\n", *option, parsed, *file)
	return nil
}

// dial connects to addr, accepting the same "unix:<path>" prefix
// convention ctlplane.Server.Start parses on the listening side.
func dial(addr string) (*rpc.Client, error) {
	const unixPrefix = "unix:"
	if strings.HasPrefix(addr, unixPrefix) {
		return rpc.Dial("unix", addr[len(unixPrefix):])
	}
	return rpc.Dial("tcp", addr)
}

// ruleFlagSet registers every Rule field as a flag on fs and returns
// the backing ints/Rule struct the command handlers read back after
// fs.Parse, since flag has no native int32 flag type.
type ruleFlagSet struct {
	rule             ctlplane.Rule
	srcPort, dstPort int
	priority         int
	rateLimit        int
}

func newRuleFlagSet(fs *flag.FlagSet) *ruleFlagSet {
	rfs := &ruleFlagSet{priority: 1000}
	fs.StringVar(&rfs.rule.ID, "id", "", "rule identifier")
	fs.StringVar(&rfs.rule.Action, "action", "allow", "allow|drop|redirect|log")
	fs.StringVar(&rfs.rule.SrcIP, "src", "0.0.0.0/0", "source CIDR")
	fs.StringVar(&rfs.rule.DstIP, "dst", "0.0.0.0/0", "destination CIDR")
	fs.IntVar(&rfs.srcPort, "sport", 0, "source port (0 = any)")
	fs.IntVar(&rfs.dstPort, "dport", 0, "destination port (0 = any)")
	fs.IntVar(&rfs.priority, "priority", 1000, "priority (smaller = higher precedence)")
	fs.StringVar(&rfs.rule.Protocol, "proto", "any", "tcp|udp|icmp|any")
	fs.StringVar(&rfs.rule.Direction, "dir", "both", "inbound|outbound|both")
	fs.BoolVar(&rfs.rule.Enabled, "enabled", true, "rule is active")
	fs.BoolVar(&rfs.rule.Stateful, "stateful", false, "track sessions for this rule")
	fs.StringVar(&rfs.rule.Description, "desc", "", "description")
	fs.StringVar(&rfs.rule.GeoIPCountry, "geoip", "", "comma-separated ISO country codes")
	fs.IntVar(&rfs.rateLimit, "rate-limit", 0, "packets/sec ceiling (0 = unlimited)")
	fs.StringVar(&rfs.rule.LogLevel, "log-level", "none", "none|info|debug")
	return rfs
}

// Rule copies the parsed int fields into their int32 Rule counterparts
// and returns the finished message.
func (rfs *ruleFlagSet) Rule() ctlplane.Rule {
	r := rfs.rule
	r.SrcPort = int32(rfs.srcPort)
	r.DstPort = int32(rfs.dstPort)
	r.Priority = int32(rfs.priority)
	r.RateLimit = int32(rfs.rateLimit)
	return r
}

func runRuleAdd(client *rpc.Client, deadlineMS int64, argv []string) error {
	fs := flag.NewFlagSet("rule-add", flag.ExitOnError)
	rfs := newRuleFlagSet(fs)
	fs.Parse(argv)

	req := &ctlplane.AddRuleArgs{RequestMeta: ctlplane.RequestMeta{DeadlineMS: deadlineMS}, Rule: rfs.Rule()}
	var reply ctlplane.RuleReply
	if err := client.Call("Server.AddRule", req, &reply); err != nil {
		return err
	}
	return printResult(reply.Response, reply.Rule)
}

func runRuleUpdate(client *rpc.Client, deadlineMS int64, argv []string) error {
	fs := flag.NewFlagSet("rule-update", flag.ExitOnError)
	rfs := newRuleFlagSet(fs)
	fs.Parse(argv)

	rule := rfs.Rule()
	req := &ctlplane.UpdateRuleArgs{RequestMeta: ctlplane.RequestMeta{DeadlineMS: deadlineMS}, ID: rule.ID, Rule: rule}
	var reply ctlplane.RuleReply
	if err := client.Call("Server.UpdateRule", req, &reply); err != nil {
		return err
	}
	return printResult(reply.Response, reply.Rule)
}

func runRuleDelete(client *rpc.Client, deadlineMS int64, argv []string) error {
	fs := flag.NewFlagSet("rule-delete", flag.ExitOnError)
	id := fs.String("id", "", "rule identifier")
	fs.Parse(argv)

	req := &ctlplane.DeleteRuleArgs{RequestMeta: ctlplane.RequestMeta{DeadlineMS: deadlineMS}, ID: *id}
	var reply ctlplane.Response
	if err := client.Call("Server.DeleteRule", req, &reply); err != nil {
		return err
	}
	return printResult(reply, nil)
}

func runRuleGet(client *rpc.Client, argv []string) error {
	fs := flag.NewFlagSet("rule-get", flag.ExitOnError)
	id := fs.String("id", "", "rule identifier")
	fs.Parse(argv)

	req := &ctlplane.GetRuleArgs{ID: *id}
	var reply ctlplane.RuleReply
	if err := client.Call("Server.GetRule", req, &reply); err != nil {
		return err
	}
	return printResult(reply.Response, reply.Rule)
}

func runRuleList(client *rpc.Client, argv []string) error {
	fs := flag.NewFlagSet("rule-list", flag.ExitOnError)
	offset := fs.Int("offset", 0, "pagination offset")
	limit := fs.Int("limit", 100, "pagination limit")
	fs.Parse(argv)

	req := &ctlplane.ListRulesArgs{Offset: *offset, Limit: *limit}
	var reply ctlplane.ListRulesReply
	if err := client.Call("Server.ListRules", req, &reply); err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("%s (%s)", reply.Message, reply.ErrorCode)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"total": reply.Total, "rules": reply.Rules})
}

func runStats(client *rpc.Client) error {
	var reply ctlplane.StatisticsReply
	if err := client.Call("Server.GetStatistics", &ctlplane.Empty{}, &reply); err != nil {
		return err
	}
	return printResult(reply.Response, reply.Statistics)
}

func runSysInfo(client *rpc.Client) error {
	var reply ctlplane.SystemInfoReply
	if err := client.Call("Server.GetSystemInfo", &ctlplane.Empty{}, &reply); err != nil {
		return err
	}
	return printResult(reply.Response, reply.SystemInfo)
}

// runEvents subscribes and polls DrainEvents every 500ms until
// interrupted, printing each delivered event as a JSON line.
func runEvents(client *rpc.Client, argv []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	max := fs.Int("max", 256, "max events per drain")
	fs.Parse(argv)

	var subReply ctlplane.SubscribeReply
	if err := client.Call("Server.Subscribe", &ctlplane.SubscribeArgs{}, &subReply); err != nil {
		return err
	}
	if !subReply.Success {
		return fmt.Errorf("%s (%s)", subReply.Message, subReply.ErrorCode)
	}
	defer client.Call("Server.Unsubscribe", &ctlplane.UnsubscribeArgs{SubscriptionID: subReply.SubscriptionID}, &ctlplane.Response{})

	enc := json.NewEncoder(os.Stdout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		var drainReply ctlplane.DrainEventsReply
		req := &ctlplane.DrainEventsArgs{SubscriptionID: subReply.SubscriptionID, Max: *max}
		if err := client.Call("Server.DrainEvents", req, &drainReply); err != nil {
			return err
		}
		for _, evt := range drainReply.Events {
			enc.Encode(evt)
		}
	}
	return nil
}

func runBackup(client *rpc.Client, argv []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	out := fs.String("out", "", "output file (default stdout)")
	fs.Parse(argv)

	var reply ctlplane.BackupReply
	if err := client.Call("Server.BackupConfig", &ctlplane.Empty{}, &reply); err != nil {
		return err
	}
	if !reply.Success {
		return fmt.Errorf("%s (%s)", reply.Message, reply.ErrorCode)
	}
	if *out == "" {
		_, err := os.Stdout.Write(reply.Blob)
		return err
	}
	return os.WriteFile(*out, reply.Blob, 0o600)
}

func runRestore(client *rpc.Client, deadlineMS int64, argv []string) error {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	in := fs.String("in", "", "input backup file")
	force := fs.Bool("force", false, "apply even if the restored rule count reaches the 90% near-capacity watermark (the hard max_rules limit still applies)")
	fs.Parse(argv)

	blob, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	req := &ctlplane.RestoreArgs{RequestMeta: ctlplane.RequestMeta{DeadlineMS: deadlineMS}, Blob: blob, Force: *force}
	var reply ctlplane.Response
	if err := client.Call("Server.RestoreConfig", req, &reply); err != nil {
		return err
	}
	return printResult(reply, nil)
}

// runRuleExport lists every rule and writes it out as YAML, an editable
// alternative to the binary backup format for operators who want to
// read or hand-edit a rule set, mirroring the teacher's own YAML-based
// config migration tooling.
func runRuleExport(client *rpc.Client, argv []string) error {
	fs := flag.NewFlagSet("rule-export", flag.ExitOnError)
	out := fs.String("out", "", "output file (default stdout)")
	fs.Parse(argv)

	var rules []ctlplane.Rule
	offset := 0
	const pageSize = 1000
	for {
		var reply ctlplane.ListRulesReply
		req := &ctlplane.ListRulesArgs{Offset: offset, Limit: pageSize}
		if err := client.Call("Server.ListRules", req, &reply); err != nil {
			return err
		}
		if !reply.Success {
			return fmt.Errorf("%s (%s)", reply.Message, reply.ErrorCode)
		}
		rules = append(rules, reply.Rules...)
		if len(reply.Rules) < pageSize {
			break
		}
		offset += pageSize
	}

	encoded, err := yaml.Marshal(rules)
	if err != nil {
		return err
	}
	if *out == "" {
		_, err := os.Stdout.Write(encoded)
		return err
	}
	return os.WriteFile(*out, encoded, 0o600)
}

// runRuleImport reads a YAML rule list and adds each one in turn,
// reporting but not aborting on a per-rule failure (e.g. a duplicate
// identifier), so a partially-applied import is still visible to the
// operator.
func runRuleImport(client *rpc.Client, deadlineMS int64, argv []string) error {
	fs := flag.NewFlagSet("rule-import", flag.ExitOnError)
	in := fs.String("in", "", "input YAML file")
	fs.Parse(argv)

	data, err := os.ReadFile(*in)
	if err != nil {
		return err
	}
	var rules []ctlplane.Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("parse %s: %w", *in, err)
	}

	failed := 0
	for _, r := range rules {
		req := &ctlplane.AddRuleArgs{RequestMeta: ctlplane.RequestMeta{DeadlineMS: deadlineMS}, Rule: r}
		var reply ctlplane.RuleReply
		if err := client.Call("Server.AddRule", req, &reply); err != nil {
			return err
		}
		if !reply.Success {
			fmt.Fprintf(os.Stderr, "wardctl: rule %s: %s (%s)\n", r.ID, reply.Message, reply.ErrorCode)
			failed++
			continue
		}
		fmt.Printf("added %s\n", reply.Rule.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to import", failed, len(rules))
	}
	return nil
}

func runRestart(client *rpc.Client, deadlineMS int64) error {
	req := &ctlplane.RestartDataPlaneArgs{RequestMeta: ctlplane.RequestMeta{DeadlineMS: deadlineMS}}
	var reply ctlplane.Response
	if err := client.Call("Server.RestartDataPlane", req, &reply); err != nil {
		return err
	}
	return printResult(reply, nil)
}

func printResult(resp ctlplane.Response, payload any) error {
	if !resp.Success {
		return fmt.Errorf("%s (%s)", resp.Message, resp.ErrorCode)
	}
	if payload == nil {
		fmt.Println("ok")
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
