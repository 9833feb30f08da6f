package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/service"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change the automation settings",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current settings as YAML",
	Args:  cobra.NoArgs,
	RunE:  runConfigGet,
}

var (
	configSetFile       string
	configSetResumeFile string
	configSetQueries    []string
	configSetIndeed     bool
	configSetLinkedIn   bool
	configSetBackground bool
	configSetMode       string
	configSetURL        string
	configSetEndpoint   string
	configSetModel      string
	configSetMaxPages   int
)

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings",
	Long: `Change settings on the running daemon. Only the given flags are changed.
--file loads a whole settings YAML document first; the other flags apply
on top of it.

Examples:
  jobpilot config set --resume-file resume.txt
  jobpilot config set --query "golang developer@Berlin" --query "sre@Remote"
  jobpilot config set --linkedin=false --assistant-mode local --local-model llama3.1
  jobpilot config set --file settings.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigSet,
}

var configExportOutput string

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current settings to a YAML file",
	Long: `Write the current settings to a YAML file that JOBPILOT_SETTINGS_FILE or
'config set --file' can load again.

Examples:
  jobpilot config export -o settings.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigExport,
}

func init() {
	registerConfigSetFlags(configSetCmd.Flags())

	configExportCmd.Flags().StringVarP(&configExportOutput, "output", "o", "", "output file (default stdout)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configExportCmd)
}

func registerConfigSetFlags(f *pflag.FlagSet) {
	f.StringVarP(&configSetFile, "file", "f", "", "settings YAML file")
	f.StringVar(&configSetResumeFile, "resume-file", "", "read the resume text from a file")
	f.StringArrayVarP(&configSetQueries, "query", "q", nil, "search query as 'search@location', repeatable; replaces all queries")
	f.BoolVar(&configSetIndeed, "indeed", true, "enable Indeed")
	f.BoolVar(&configSetLinkedIn, "linkedin", false, "enable LinkedIn")
	f.BoolVar(&configSetBackground, "background", false, "keep job tabs in the background")
	f.StringVar(&configSetMode, "assistant-mode", "", "assistant backend (hosted, local, provider)")
	f.StringVar(&configSetURL, "assistant-url", "", "chat page opened for hosted mode")
	f.StringVar(&configSetEndpoint, "local-endpoint", "", "generate endpoint for local mode")
	f.StringVar(&configSetModel, "local-model", "", "model name for local mode")
	f.IntVar(&configSetMaxPages, "max-pages", 0, "search result pages opened per query")
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	settings, err := apiClient.Settings(cmd.Context())
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	data, err := service.MarshalSettingsYAML(*settings)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	current, err := apiClient.Settings(ctx)
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}

	var patch models.SettingsPatch
	if configSetFile != "" {
		loaded, err := service.LoadSettingsFile(configSetFile)
		if err != nil {
			return err
		}
		patch = fullPatch(loaded)
		*current = loaded
	}

	var resume *string
	if configSetResumeFile != "" {
		data, err := os.ReadFile(configSetResumeFile)
		if err != nil {
			return fmt.Errorf("read resume: %w", err)
		}
		text := strings.TrimSpace(string(data))
		resume = &text
	}

	if err := applyFlags(&patch, cmd.Flags(), *current, resume); err != nil {
		return err
	}
	if patch == (models.SettingsPatch{}) {
		return fmt.Errorf("nothing to change, see 'jobpilot config set --help'")
	}

	updated, err := apiClient.UpdateSettings(ctx, patch)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	data, err := service.MarshalSettingsYAML(*updated)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	settings, err := apiClient.Settings(cmd.Context())
	if err != nil {
		return fmt.Errorf("get settings: %w", err)
	}
	data, err := service.MarshalSettingsYAML(*settings)
	if err != nil {
		return err
	}

	if configExportOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(configExportOutput, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", configExportOutput)
	return nil
}

// fullPatch turns a complete settings document into a patch that replaces
// every field.
func fullPatch(s models.Settings) models.SettingsPatch {
	queries := s.Queries
	return models.SettingsPatch{
		ResumeText:      &s.ResumeText,
		Queries:         &queries,
		Platforms:       &s.Platforms,
		RunInBackground: &s.RunInBackground,
		Assistant:       &s.Assistant,
		MaxSearchPages:  &s.MaxSearchPages,
	}
}

// applyFlags adds the explicitly set flags to patch. Platforms and the
// assistant block are replaced as a whole on the daemon, so their unset
// fields are taken from current.
func applyFlags(patch *models.SettingsPatch, flags *pflag.FlagSet, current models.Settings, resume *string) error {
	if resume != nil {
		patch.ResumeText = resume
	}

	if flags.Changed("query") {
		queries := make([]models.SearchQuery, 0, len(configSetQueries))
		for _, raw := range configSetQueries {
			q, err := parseQuery(raw)
			if err != nil {
				return err
			}
			queries = append(queries, q)
		}
		patch.Queries = &queries
	}

	if flags.Changed("indeed") || flags.Changed("linkedin") {
		platforms := current.Platforms
		if flags.Changed("indeed") {
			platforms.Indeed = configSetIndeed
		}
		if flags.Changed("linkedin") {
			platforms.LinkedIn = configSetLinkedIn
		}
		patch.Platforms = &platforms
	}

	if flags.Changed("background") {
		bg := configSetBackground
		patch.RunInBackground = &bg
	}

	if flags.Changed("assistant-mode") || flags.Changed("assistant-url") ||
		flags.Changed("local-endpoint") || flags.Changed("local-model") {
		assistant := current.Assistant
		if flags.Changed("assistant-mode") {
			mode, err := parseAssistantMode(configSetMode)
			if err != nil {
				return err
			}
			assistant.Mode = mode
		}
		if flags.Changed("assistant-url") {
			assistant.URL = configSetURL
		}
		if flags.Changed("local-endpoint") {
			assistant.LocalEndpoint = configSetEndpoint
		}
		if flags.Changed("local-model") {
			assistant.LocalModel = configSetModel
		}
		patch.Assistant = &assistant
	}

	if flags.Changed("max-pages") {
		if configSetMaxPages < 1 {
			return fmt.Errorf("--max-pages must be at least 1")
		}
		pages := configSetMaxPages
		patch.MaxSearchPages = &pages
	}
	return nil
}

// parseQuery splits "search@location". The location may be empty.
func parseQuery(raw string) (models.SearchQuery, error) {
	search, location, _ := strings.Cut(raw, "@")
	search = strings.TrimSpace(search)
	if search == "" {
		return models.SearchQuery{}, fmt.Errorf("invalid query %q: search terms are empty", raw)
	}
	return models.SearchQuery{Search: search, Location: strings.TrimSpace(location)}, nil
}

func parseAssistantMode(s string) (models.AssistantMode, error) {
	switch m := models.AssistantMode(strings.ToLower(strings.TrimSpace(s))); m {
	case models.AssistantHosted, models.AssistantLocal, models.AssistantProvider:
		return m, nil
	}
	return "", fmt.Errorf("unknown assistant mode %q (want hosted, local or provider)", s)
}
