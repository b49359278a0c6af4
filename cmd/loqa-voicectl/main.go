package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/console"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

var version = "0.1.0-dev"

const usage = "usage: loqa-voicectl <console|start|stop|status|version> [-servers nats://host:4222]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	if cmd == "version" {
		fmt.Println(version)
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	servers := fs.String("servers", envOr("LOQA_BUS_SERVERS", "nats://localhost:4222"), "Comma separated NATS servers")
	timeout := fs.Duration("timeout", 3*time.Second, "Request timeout")
	_ = fs.Parse(os.Args[2:])

	var subject string
	switch cmd {
	case "console":
	case "start":
		subject = protocol.SubjectVoiceControlStart
	case "stop":
		subject = protocol.SubjectVoiceControlStop
	case "status":
		subject = protocol.SubjectVoiceControlStatus
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	busCfg := config.Default().Bus
	busCfg.Servers = splitServers(*servers)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	client, err := bus.Connect(ctx, busCfg, "loqa-voicectl", logger)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer client.Close()

	if cmd == "console" {
		if err := runConsole(client); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}
	if err := runControl(client, subject, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runControl(client *bus.Client, subject string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var reply protocol.ControlReply
	if err := client.RequestJSON(ctx, subject, protocol.ControlRequest{Source: "cli"}, &reply); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reply); err != nil {
		return err
	}
	if !reply.OK {
		return fmt.Errorf("daemon refused request: %s", reply.Error)
	}
	return nil
}

func runConsole(client *bus.Client) error {
	link, err := console.NewBusLink(client)
	if err != nil {
		return err
	}
	defer link.Close()
	_, err = tea.NewProgram(console.New(link), tea.WithAltScreen()).Run()
	return err
}

func splitServers(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
