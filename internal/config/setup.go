package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// RunSetupWizard guides the user through first-time configuration,
// reading answers from in and writing prompts to out.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}
	return w.run(cfg)
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
	eof    bool
}

func (w *wizard) run(cfg *Config) error {
	fmt.Fprintln(w.out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(w.out, "║            rcond - First Run Setup           ║")
	fmt.Fprintln(w.out, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(w.out)

	rcon := cfg.GetRCON()
	app := cfg.GetApplicationData()

	fmt.Fprintln(w.out, "── RCON Listener ──")

	rcon.ListenAddress = w.promptString("Listen address", rcon.ListenAddress)
	rcon.Port = w.promptInt("RCON port", rcon.Port)
	rcon.Password = w.promptPassword("RCON password")
	rcon.MaxConnections = w.promptInt("Max concurrent connections (0 = unlimited)", rcon.MaxConnections)
	rcon.IdleTimeoutSec = w.promptInt("Idle timeout in seconds (0 = none)", rcon.IdleTimeoutSec)

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── Management API ──")

	app.API.Enabled = w.promptBool("Enable management API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = w.promptInt("API port", app.API.Port)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "── MQTT Telemetry ──")

	app.MQTT.Enabled = w.promptBool("Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = w.promptString("MQTT broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = w.promptInt("MQTT broker port", app.MQTT.Port)
	}

	cfg.SetRCON(rcon)
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(w.out, "\n⚠ Configuration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w.out, "  - [%s] %s\n", e.Field, e.Message)
		}
		retry := w.promptString("Would you like to try again? (yes/no)", "yes")
		if strings.ToLower(retry) == "yes" && !w.eof {
			return w.run(cfg)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, warn := range result.Warnings {
		log.Warn().Str("field", warn.Field).Msg(warn.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "✓ Configuration saved successfully!")
	fmt.Fprintln(w.out)

	return nil
}

func (w *wizard) readLine() string {
	input, err := w.reader.ReadString('\n')
	if err != nil {
		w.eof = true
	}
	return strings.TrimSpace(input)
}

func (w *wizard) promptString(prompt string, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}

	if input := w.readLine(); input != "" {
		return input
	}
	return defaultVal
}

func (w *wizard) promptPassword(prompt string) string {
	fmt.Fprintf(w.out, "  %s: ", prompt)
	return w.readLine()
}

func (w *wizard) promptInt(prompt string, defaultVal int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, defaultVal)

	input := w.readLine()
	if input == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func (w *wizard) promptBool(prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}

	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defaultStr)

	input := strings.ToLower(w.readLine())
	if input == "" {
		return defaultVal
	}

	return input == "yes" || input == "y" || input == "true" || input == "1"
}
