package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fisaks/mountlink/internal/catalog"
	"github.com/fisaks/mountlink/internal/protocol"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  mountctl send     --host HOST [--port PORT] [--ack ACK] BATCH
  mountctl classify BATCH
  mountctl wake     --mac MAC [--broadcast ADDR]
  mountctl shell    --host HOST [--port PORT]
  mountctl watch    [--broker URL] [--prefix PREFIX]

BATCH is one or more commands, each terminated by '#', e.g. ":GVP#:GVN#".

`)
	flag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (e.g. send)\n")
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "send":
		err = runSend(args)
	case "classify":
		err = runClassify(args)
	case "wake":
		err = runWake(args)
	case "shell":
		err = runShell(args)
	case "watch":
		err = runWatch(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

type connFlags struct {
	host    *string
	port    *int
	timeout *time.Duration
}

func addConnFlags(fs *flag.FlagSet) connFlags {
	return connFlags{
		host:    fs.String("host", os.Getenv("MOUNT_HOST"), "Mount host (required)"),
		port:    fs.Int("port", protocol.DefaultPort, "Mount port"),
		timeout: fs.Duration("timeout", protocol.DefaultTimeout, "Socket timeout"),
	}
}

func (f connFlags) connection() (*protocol.Connection, error) {
	if *f.host == "" {
		return nil, fmt.Errorf("--host is required")
	}
	conn := protocol.NewConnection(*f.host, *f.port)
	conn.Timeout = *f.timeout
	return conn, nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	cf := addConnFlags(fs)
	ack := fs.String("ack", "", "Expected first reply chunk")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one BATCH argument")
	}
	conn, err := cf.connection()
	if err != nil {
		return err
	}
	return printResult(conn.Exchange(fs.Arg(0), *ack))
}

func printResult(res protocol.Result) error {
	for i, c := range res.Chunks {
		fmt.Printf("%2d  %s\n", i, c)
	}
	if res.Err != nil {
		return res.Err
	}
	return nil
}

func runClassify(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one BATCH argument")
	}
	batch := args[0]
	valid := protocol.Validate(batch)
	chunks, anyReply, bytes := protocol.Classify(batch)
	fmt.Printf("valid=%v expectedChunks=%d expectsReply=%v unframedBytes=%d\n", valid, chunks, anyReply, bytes)
	for _, c := range protocol.SplitBatch(batch) {
		d, ok := protocol.DefaultTable.Lookup(c)
		if !ok {
			fmt.Printf("  %-16s unknown\n", c)
			continue
		}
		fmt.Printf("  %-16s %s (prefix %q)\n", c, d.Reply, d.Prefix)
	}
	return nil
}

func runWake(args []string) error {
	fs := flag.NewFlagSet("wake", flag.ExitOnError)
	mac := fs.String("mac", "", "Mount MAC address (required)")
	broadcast := fs.String("broadcast", "", "Broadcast address (default 255.255.255.255)")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *mac == "" {
		return fmt.Errorf("--mac is required")
	}
	if err := protocol.WakeOnLAN(*mac, *broadcast); err != nil {
		return err
	}
	fmt.Printf("Magic packet sent to %s\n", *mac)
	return nil
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	broker := fs.String("broker", "tcp://localhost:1883", "MQTT broker address")
	prefix := fs.String("prefix", "mount", "Topic prefix")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(*broker)
	opts.SetClientID(fmt.Sprintf("mountctl-%d", time.Now().UnixNano()))
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)

	topic := strings.TrimSuffix(*prefix, "/") + "/#"
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		fmt.Printf("%s %s %s\n", time.Now().Format("15:04:05.000"), msg.Topic(), describe(msg.Topic(), msg.Payload()))
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT subscribe error: %w", token.Error())
	}
	fmt.Fprintf(os.Stderr, "Watching %s on %s\n", topic, *broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

// describe summarises catalog messages; everything else is printed raw.
func describe(topic string, payload []byte) string {
	if !strings.HasSuffix(topic, "/catalog") {
		return string(payload)
	}
	var msg catalog.MountCatalogMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return string(payload)
	}
	s := fmt.Sprintf("mount %s:%d up=%v firmware=%q %s", msg.Host, msg.Port, msg.Up, msg.Firmware.Product, msg.Firmware.Number)
	if msg.Dome != nil {
		s += fmt.Sprintf(" dome=%s@%s", msg.Dome.Type, msg.Dome.Address)
	}
	return s
}
