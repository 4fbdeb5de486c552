package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"replikv/pkg/wire"
)

const dialTimeout = 5 * time.Second

func runInteractive(_ *cobra.Command, _ []string) error {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", address, err)
	}
	defer conn.Close()

	if once != "" {
		resp, err := sendLine(conn, once)
		if err != nil {
			return err
		}
		fmt.Println(formatResponse(resp))
		return nil
	}

	fmt.Printf("connected to %s. Type SET/GET/DELETE/LAST_REPLICATION_ID, or \"quit\".\n", address)

	var history []string
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("replikv> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}
		if line == "history" {
			for i, h := range history {
				fmt.Printf("%3d  %s\n", i+1, h)
			}
			continue
		}

		history = append(history, line)
		resp, err := sendLine(conn, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return err
		}
		fmt.Println(formatResponse(resp))
	}
}

func sendLine(conn net.Conn, line string) (wire.Response, error) {
	if err := wire.WriteFrame(conn, []byte(line)); err != nil {
		return wire.Response{}, fmt.Errorf("send request: %w", err)
	}
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return wire.Response{}, fmt.Errorf("read response: %w", err)
	}
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		return wire.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func formatResponse(resp wire.Response) string {
	switch resp.Tag {
	case wire.RespSuccess:
		return "OK"
	case wire.RespValueMissing:
		return "(missing)"
	case wire.RespValue:
		return string(resp.Value)
	case wire.RespErrorInvalidCommand:
		return "ERROR invalid command"
	default:
		return fmt.Sprintf("ERROR unknown response tag %d", resp.Tag)
	}
}
