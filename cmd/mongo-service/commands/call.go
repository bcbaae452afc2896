package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	mongoservice "github.com/kinfkong/mongo-service"
	"github.com/kinfkong/mongo-service/eventbus"
	"github.com/spf13/cobra"
)

var callTimeout time.Duration

var callCmd = &cobra.Command{
	Use:   "call ACTION [PARAMS]",
	Short: "Send one request to a running service",
	Long: `Send one request to the service at the configured bus address and print
the JSON reply. PARAMS is a JSON object of named parameters; "-" reads it
from stdin.

Examples:
  mongo-service call getCollections
  mongo-service call insert '{"collection":"users","document":{"name":"ada"}}'
  mongo-service call findWithOptions '{"collection":"users","options":{"limit":5}}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "request timeout")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Bus.Kind == busMemory {
		return fmt.Errorf("call needs a nats or amqp bus; set bus.kind")
	}
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	var body []byte
	if len(args) == 2 {
		body, err = readParams(args[1], cmd.InOrStdin())
		if err != nil {
			return err
		}
	}

	bus, err := openBus(cfg.Bus, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s bus: %w", cfg.Bus.Kind, err)
	}
	defer bus.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	reply, err := request(ctx, bus, cfg.Bus.Address, args[0], body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), reply)
}

// request sends one proxy request and returns the raw reply body.
func request(ctx context.Context, bus eventbus.Bus, address, action string, body []byte) ([]byte, error) {
	msg := &eventbus.Message{Address: address, Body: body}
	msg.SetHeader(mongoservice.HeaderAction, action)
	reply, err := bus.Request(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	return reply.Body, nil
}

func readParams(arg string, stdin io.Reader) ([]byte, error) {
	raw := []byte(arg)
	if arg == "-" {
		var err error
		if raw, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("failed to read params: %w", err)
		}
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	return raw, nil
}

func printJSON(w io.Writer, body []byte) error {
	if len(body) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := out.WriteTo(w)
	return err
}
