package cmds

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/tavern/pkg/config"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RegisterCommands adds every tavern command to rootCmd.
func RegisterCommands(rootCmd *cobra.Command) {
	styleCmd, err := NewStyleCommand()
	cobra.CheckErr(err)
	segmentCmd, err := NewSegmentCommand()
	cobra.CheckErr(err)
	renderCmd, err := NewRenderCommand()
	cobra.CheckErr(err)
	tokensCmd, err := NewTokensCommand()
	cobra.CheckErr(err)

	for _, c := range []cmds.GlazeCommand{styleCmd, segmentCmd, renderCmd, tokensCmd} {
		cobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(c)
		cobra.CheckErr(err)
		rootCmd.AddCommand(cobraCmd)
	}

	rootCmd.AddCommand(
		NewPaintCommand(),
		NewChatCommand(),
		NewImportCommand(),
	)
}

// StoreFlags override the store and session settings of the config file.
// Zero values keep the configured setting.
type StoreFlags struct {
	Session        string
	StoreDriver    string
	StorePath      string
	PageSize       int
	WindowCapacity int
}

const defaultSessionID = "default"

func storeParameters() []*parameters.ParameterDefinition {
	return []*parameters.ParameterDefinition{
		parameters.NewParameterDefinition(
			"session",
			parameters.ParameterTypeString,
			parameters.WithHelp("Session id"),
			parameters.WithDefault(defaultSessionID),
		),
		parameters.NewParameterDefinition(
			"store-driver",
			parameters.ParameterTypeString,
			parameters.WithHelp("Store driver (memory, sqlite), overrides store.driver"),
		),
		parameters.NewParameterDefinition(
			"store-path",
			parameters.ParameterTypeString,
			parameters.WithHelp("SQLite database file, overrides store.path"),
		),
		parameters.NewParameterDefinition(
			"page-size",
			parameters.ParameterTypeInteger,
			parameters.WithHelp("Messages per history page, overrides page-size"),
			parameters.WithDefault(0),
		),
		parameters.NewParameterDefinition(
			"window-capacity",
			parameters.ParameterTypeInteger,
			parameters.WithHelp("Context window capacity, overrides window-capacity"),
			parameters.WithDefault(0),
		),
	}
}

// addStoreFlags registers the StoreFlags on a plain cobra command.
func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("session", defaultSessionID, "Session id")
	cmd.Flags().String("store-driver", "", "Store driver (memory, sqlite), overrides store.driver")
	cmd.Flags().String("store-path", "", "SQLite database file, overrides store.path")
	cmd.Flags().Int("page-size", 0, "Messages per history page, overrides page-size")
	cmd.Flags().Int("window-capacity", 0, "Context window capacity, overrides window-capacity")
}

func storeFlagsFromCobra(cmd *cobra.Command) *StoreFlags {
	f := &StoreFlags{}
	f.Session, _ = cmd.Flags().GetString("session")
	f.StoreDriver, _ = cmd.Flags().GetString("store-driver")
	f.StorePath, _ = cmd.Flags().GetString("store-path")
	f.PageSize, _ = cmd.Flags().GetInt("page-size")
	f.WindowCapacity, _ = cmd.Flags().GetInt("window-capacity")
	return f
}

func (f *StoreFlags) apply(v *viper.Viper) {
	if f.StoreDriver != "" {
		v.Set("store.driver", f.StoreDriver)
	}
	if f.StorePath != "" {
		v.Set("store.path", f.StorePath)
	}
	if f.PageSize != 0 {
		v.Set("page-size", f.PageSize)
	}
	if f.WindowCapacity != 0 {
		v.Set("window-capacity", f.WindowCapacity)
	}
}

func (f *StoreFlags) SessionID() string {
	if f.Session == "" {
		return defaultSessionID
	}
	return f.Session
}

// loadSettings reads the config file named by --config and applies flags.
func loadSettings(flags *StoreFlags) (*config.Settings, error) {
	v, err := config.NewViper(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	flags.apply(v)
	return config.Load(v)
}

func stdin() io.Reader {
	return os.Stdin
}

// readText joins args, or reads in when there are none.
func readText(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if isTerminal(in) {
		return "", errors.New("no text given, pass it as arguments or on stdin")
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(err, "could not read stdin")
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func isTerminal(v interface{}) bool {
	f, ok := v.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
