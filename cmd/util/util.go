package util

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ValentinKolb/ixmap/lib/codec"
	"github.com/ValentinKolb/ixmap/lib/logging"
	"github.com/ValentinKolb/ixmap/lib/store"
	"github.com/ValentinKolb/ixmap/lib/store/imap"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
	// DefaultDir is the default location of the index
	DefaultDir = "./ixmap-data"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupMapFlags adds the flags that configure the map to a command
func SetupMapFlags(cmd *cobra.Command) {
	key := "dir"
	cmd.PersistentFlags().String(key, DefaultDir, WrapString("Directory of the index. It is created if it does not exist. An empty value keeps the map in memory"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warning", WrapString("Log level (debug, info, warning, error)"))

	key = "consistency"
	cmd.PersistentFlags().String(key, "eager", WrapString("Read consistency (eager: every read sees all previous writes, lazy: reads see the last background refresh)"))

	key = "codec"
	cmd.PersistentFlags().String(key, "string", WrapString("Encoding of the values (string, json, msgpack). Keys are always stored as strings"))

	key = "max-stale"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Longest time between two background refreshes (0 = default)"))

	key = "min-stale"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Shortest time between two background refreshes (0 = default)"))

	key = "rebuild"
	cmd.PersistentFlags().Bool(key, false, WrapString("Wipe and rebuild a corrupt index instead of failing"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ixmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper and initializes the loggers
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return logging.InitLoggers(viper.GetString("log-level"))
}

// OpenMap opens the map described by conf
func OpenMap(conf *Config) (store.IMap[string, any], error) {
	valueCodec, err := ValueCodec(conf.Codec)
	if err != nil {
		return nil, err
	}
	return imap.New(codec.String(), valueCodec, conf.MapOptions())
}

// --------------------------------------------------------------------------
// Values
// --------------------------------------------------------------------------

// ValueCodec returns the codec for the values of the CLI map
func ValueCodec(name string) (codec.Codec[any], error) {
	switch name {
	case "string", "":
		return stringValueCodec{codec.String()}, nil
	case "json":
		return codec.JSON[any](), nil
	case "msgpack":
		return codec.Msgpack[any](), nil
	default:
		return nil, fmt.Errorf("invalid codec %s (valid: string, json, msgpack)", name)
	}
}

// ParseValue converts a command line argument into a value for the codec.
// Structured codecs parse the argument as JSON and fall back to a plain string.
func ParseValue(codecName, arg string) any {
	if codecName == "json" || codecName == "msgpack" {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err == nil {
			return v
		}
	}
	return arg
}

// FormatValue converts a value read from the map into a printable string
func FormatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// stringValueCodec stores values as plain strings
type stringValueCodec struct {
	c codec.Codec[string]
}

func (s stringValueCodec) Encode(v any) ([]byte, error) {
	str, ok := v.(string)
	if !ok {
		str = FormatValue(v)
	}
	return s.c.Encode(str)
}

func (s stringValueCodec) Decode(b []byte) (any, error) {
	return s.c.Decode(b)
}

func (s stringValueCodec) Format() codec.Format {
	return s.c.Format()
}
