// ABOUTME: Minimal fake Asterisk for E2E testing: opens a FastAGI call and acks every command.
// ABOUTME: Usage: asterisk-sim [-addr localhost:4573] [-script app/echo]
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

func main() {
	addr := flag.String("addr", "localhost:4573", "FastAGI server address")
	script := flag.String("script", "app/echo", "Network script path to request")
	channel := flag.String("channel", "SIP/100-00000001", "Channel name to report")
	callerID := flag.String("callerid", "100", "Caller ID number to report")
	exten := flag.String("exten", "100", "Dialplan extension to report")
	hangupAfter := flag.Int("hangup-after", 0, "Report a hangup instead of the Nth reply (0 = never)")
	flag.Parse()

	if err := run(*addr, *script, *channel, *callerID, *exten, *hangupAfter); err != nil {
		log.Fatal(err)
	}
}

func run(addr, script, channel, callerID, exten string, hangupAfter int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop on Ctrl-C
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := sendPreamble(conn, addr, script, channel, callerID, exten); err != nil {
		return fmt.Errorf("failed to send preamble: %w", err)
	}
	fmt.Fprintf(os.Stderr, "call up as %s requesting %s\n", channel, script)

	// Command loop: the gateway drives, we play Asterisk
	r := bufio.NewReader(conn)
	for n := 1; ; n++ {
		line, err := r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "gateway closed the call after %d commands\n", n-1)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil // graceful shutdown
			}
			return fmt.Errorf("read error: %w", err)
		}

		log.Printf("command %d: %s", n, strings.TrimSpace(line))

		if hangupAfter > 0 && n >= hangupAfter {
			// A real channel hangup: Asterisk sends HANGUP on the
			// command stream, then tears the connection down.
			if _, err := fmt.Fprintf(conn, "HANGUP\n"); err != nil {
				return fmt.Errorf("write error: %w", err)
			}
			time.Sleep(50 * time.Millisecond)
			fmt.Fprintf(os.Stderr, "hung up after %d commands\n", n)
			return nil
		}

		if _, err := fmt.Fprintf(conn, "200 result=0\n"); err != nil {
			return fmt.Errorf("write error: %w", err)
		}
	}
}

func sendPreamble(w io.Writer, addr, script, channel, callerID, exten string) error {
	uniqueID := fmt.Sprintf("%d.%d", time.Now().Unix(), os.Getpid())

	lines := []string{
		"agi_network: yes",
		"agi_network_script: " + script,
		fmt.Sprintf("agi_request: agi://%s/%s", addr, script),
		"agi_channel: " + channel,
		"agi_language: en",
		"agi_type: SIP",
		"agi_uniqueid: " + uniqueID,
		"agi_version: 20.5.0",
		"agi_callerid: " + callerID,
		"agi_calleridname: Asterisk Sim",
		"agi_dnid: " + exten,
		"agi_context: default",
		"agi_extension: " + exten,
		"agi_priority: 1",
		"agi_enhanced: 0.0",
		"", // blank line ends the preamble
	}

	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}
