package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/marcus/fieldsync/internal/output"
	"github.com/marcus/fieldsync/internal/suggest"
	"github.com/marcus/fieldsync/internal/syncclient"
)

const (
	defaultServerURL = "http://localhost:8090"
	envServer        = "FIELDSYNC_SERVER"
	envToken         = "FIELDSYNC_TOKEN"
	envDevice        = "FIELDSYNC_DEVICE"
)

var versionStr string

// SetVersion sets the version string
func SetVersion(v string) {
	versionStr = v
	rootCmd.Version = v
}

// clientFlags are the connection flags shared by every command.
type clientFlags struct {
	server string
	token  string
	device string
	json   bool
}

var globals clientFlags

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Operator CLI for the field-service sync server",
	Long: `fieldsync drives a fieldsync-server: it seeds the sync ledger from the
authoritative store, inspects what each device still has to pull, records
device acknowledgements and runs the retention sweep.

The server address and admin token come from --server/--token or the
FIELDSYNC_SERVER and FIELDSYNC_TOKEN environment variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if globals.json {
			output.JSONError(errorCode(err), err.Error())
		} else {
			output.Error("%v", err)
		}
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

// bindClientFlags registers the connection flags on fs with environment
// fallbacks for their defaults.
func bindClientFlags(fs *pflag.FlagSet, f *clientFlags) {
	fs.StringVarP(&f.server, "server", "s", envOr(envServer, defaultServerURL), "fieldsync-server base URL (env "+envServer+")")
	fs.StringVar(&f.token, "token", os.Getenv(envToken), "admin token for bulk endpoints (env "+envToken+")")
	fs.StringVar(&f.device, "device-header", os.Getenv(envDevice), "value sent as X-Device-ID (env "+envDevice+")")
	fs.BoolVar(&f.json, "json", false, "print machine-readable JSON")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// newClient builds an API client from the global flags.
func newClient() *syncclient.Client {
	c := syncclient.New(globals.server, globals.token)
	c.DeviceID = globals.device
	return c
}

// errorCode maps a client error to the API error code used in JSON output.
func errorCode(err error) string {
	var apiErr *syncclient.APIError
	if errors.As(err, &apiErr) && apiErr.Code != "" {
		return apiErr.Code
	}
	return "cli_error"
}

// flagError adds "did you mean" hints to unknown flag errors.
func flagError(cmd *cobra.Command, err error) error {
	msg := err.Error()
	name, ok := strings.CutPrefix(msg, "unknown flag: ")
	if !ok {
		return err
	}

	var valid []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			valid = append(valid, "--"+f.Name)
		}
	})
	if hint := suggest.GetFlagHint(name); hint != "" {
		return fmt.Errorf("%s (try %s)", msg, hint)
	}
	if matches := suggest.Flag(name, valid); len(matches) > 0 {
		return fmt.Errorf("%s (did you mean %s?)", msg, strings.Join(matches, ", "))
	}
	return err
}

// printResult prints v as JSON when --json is set, otherwise text.
func printResult(v any, text func() string) error {
	if globals.json {
		return output.JSON(v)
	}
	fmt.Println(text())
	return nil
}

func init() {
	// Add custom template function for showing aliases
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)

	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`

	// Need to add the 'add' function for padding calculation
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	rootCmd.SetUsageTemplate(usageTemplate)
	rootCmd.SetVersionTemplate("fieldsync version {{.Version}}\n")

	bindClientFlags(rootCmd.PersistentFlags(), &globals)
	rootCmd.SetFlagErrorFunc(flagError)

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "device", Title: "Device Commands:"},
		&cobra.Group{ID: "query", Title: "Query Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)

	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")
}
