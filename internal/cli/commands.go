// Package cli implements the interactive operator console for rcond.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rcond/internal/config"
	"github.com/energizer-project/rcond/internal/db"
	"github.com/energizer-project/rcond/internal/events"
	intnet "github.com/energizer-project/rcond/internal/network"
	"github.com/energizer-project/rcond/internal/secret"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *intnet.ConnectionRegistry
	audit    *db.AuditLog

	in  io.Reader
	out io.Writer
}

// NewCLI creates a console reading commands from in and writing to out.
// audit may be nil when the audit log is disabled.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, registry *intnet.ConnectionRegistry, audit *db.AuditLog, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
		audit:    audit,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nrcond console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(c.out, "rcond> ")

		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				log.Debug().Msg("console input closed")
				return
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// execute processes a single console command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(args)
	case "history":
		return c.cmdHistory(args)
	case "kick":
		return c.cmdKick(ctx, args)
	case "hashpw":
		return c.cmdHashPassword(args)
	case "setconfig":
		return c.cmdSetConfig(ctx, args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down rcond...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
  status [id]          List sessions, or show one
  history [n]          Show the last n audited commands
  kick <id>            Close a session
  hashpw <password>    Print an argon2id hash for password_hash
  setconfig <k> <v>    Update an RCON setting (applies on restart)
  quit                 Shut down rcond
  help                 Show this help message`)
}

func (c *CLI) printStatus(args []string) error {
	if len(args) > 0 {
		conn, ok := c.registry.Get(args[0])
		if !ok {
			return fmt.Errorf("session not found: %s", args[0])
		}
		info := conn.Info()
		fmt.Fprintf(c.out, "\n  Session:        %s\n", info.ID)
		fmt.Fprintf(c.out, "  Remote:         %s\n", info.RemoteAddr)
		fmt.Fprintf(c.out, "  State:          %s\n", info.State)
		fmt.Fprintf(c.out, "  Connected:      %s\n", info.ConnectedAt.Format(time.RFC3339))
		fmt.Fprintf(c.out, "  Last activity:  %s\n", info.LastActivity.Format(time.RFC3339))
		fmt.Fprintf(c.out, "  Commands:       %d\n", info.Commands)
		fmt.Fprintf(c.out, "  Bytes in/out:   %d/%d\n\n", info.BytesIn, info.BytesOut)
		return nil
	}

	sessions := c.registry.GetAll()
	if len(sessions) == 0 {
		fmt.Fprintln(c.out, "No active sessions")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Session", "Remote", "State", "Commands", "Idle", "Connected"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range sessions {
		tw.Append([]string{
			s.ID,
			s.RemoteAddr,
			s.State,
			strconv.Itoa(s.Commands),
			time.Since(s.LastActivity).Truncate(time.Second).String(),
			s.ConnectedAt.Format("15:04:05"),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	if c.audit == nil {
		return fmt.Errorf("audit log is disabled")
	}

	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	cmds, err := c.audit.RecentCommands(limit)
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		fmt.Fprintln(c.out, "No commands recorded")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Session", "Remote", "ID", "Command"})
	tw.SetAutoWrapText(false)
	for _, cmd := range cmds {
		tw.Append([]string{
			cmd.CreatedAt.Format("2006-01-02 15:04:05"),
			cmd.SessionID,
			cmd.RemoteAddr,
			strconv.Itoa(int(cmd.RequestID)),
			cmd.Body,
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdKick(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kick <session id>")
	}
	if !c.registry.Kick(ctx, args[0]) {
		return fmt.Errorf("session not found: %s", args[0])
	}
	fmt.Fprintf(c.out, "Session %s kicked\n", args[0])
	return nil
}

func (c *CLI) cmdHashPassword(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: hashpw <password>")
	}
	hash, err := secret.Hash(strings.Join(args, " "), secret.DefaultParams())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, hash)
	return nil
}

// cmdSetConfig updates one RCON setting. The value is read as a JSON
// literal when it parses as one, otherwise as a plain string.
func (c *CLI) cmdSetConfig(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: setconfig <key> <value>")
	}

	key := args[0]
	raw := strings.Join(args[1:], " ")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	previous := c.cfg.GetRCON()
	if err := c.cfg.UpdateRCONField(key, value); err != nil {
		if _, isString := value.(string); isString {
			return err
		}
		// A numeric-looking password is still a string.
		if err := c.cfg.UpdateRCONField(key, raw); err != nil {
			return err
		}
	}

	if result := config.Validate(c.cfg); !result.IsValid() {
		c.cfg.SetRCON(previous)
		return fmt.Errorf("invalid value: %s", result.Errors[0].Error())
	}

	if err := c.cfg.Save(); err != nil {
		return err
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventConfigChanged,
		Source:  "cli",
		Payload: events.ConfigChangedPayload{Key: "rcon." + key, Value: redactValue(key, raw)},
	})

	fmt.Fprintf(c.out, "Config updated: %s = %s (restart to apply)\n", key, redactValue(key, raw))
	return nil
}

func redactValue(key, value string) string {
	if strings.Contains(key, "password") {
		return "********"
	}
	return value
}
