package models

// AssistantMode selects where assistant prompts are answered.
type AssistantMode string

const (
	// AssistantHosted drives the chat page in the assistant tab.
	AssistantHosted AssistantMode = "hosted"
	// AssistantLocal posts to a local generate endpoint.
	AssistantLocal AssistantMode = "local"
	// AssistantProvider uses the LLM provider configured for the daemon.
	AssistantProvider AssistantMode = "provider"
)

// Default settings values.
const (
	DefaultAssistantURL  = "https://chatgpt.com/?temporary-chat=true&bot=true"
	DefaultLocalEndpoint = "http://localhost:11434/api/generate"
	DefaultLocalModel    = "llama3.1"
)

// SearchQuery is one search the finder runs.
type SearchQuery struct {
	Search   string `json:"search" yaml:"search"`
	Location string `json:"location" yaml:"location"`
}

// Platforms holds per-site enable flags.
type Platforms struct {
	Indeed   bool `json:"indeed" yaml:"indeed"`
	LinkedIn bool `json:"linkedin" yaml:"linkedin"`
}

// Enabled reports whether the given platform is switched on.
func (p Platforms) Enabled(platform Platform) bool {
	switch platform {
	case PlatformIndeed:
		return p.Indeed
	case PlatformLinkedIn:
		return p.LinkedIn
	}
	return false
}

// AssistantSettings selects and configures the assistant backend.
type AssistantSettings struct {
	Mode          AssistantMode `json:"mode" yaml:"mode"`
	URL           string        `json:"url" yaml:"url"`
	LocalEndpoint string        `json:"localEndpoint" yaml:"local_endpoint"`
	LocalModel    string        `json:"localModel" yaml:"local_model"`
}

// Settings is the user-tunable configuration read by the coordinator and
// the adapters.
type Settings struct {
	ResumeText      string            `json:"resumeText" yaml:"resume_text"`
	Queries         []SearchQuery     `json:"query" yaml:"queries"`
	Platforms       Platforms         `json:"platform" yaml:"platforms"`
	RunInBackground bool              `json:"runInBackground" yaml:"run_in_background"`
	Assistant       AssistantSettings `json:"assistant" yaml:"assistant"`
	MaxSearchPages  int               `json:"maxSearchPages" yaml:"max_search_pages"`
}

// DefaultSettings returns the settings used before anything is persisted.
func DefaultSettings() Settings {
	return Settings{
		Queries:   []SearchQuery{},
		Platforms: Platforms{Indeed: true},
		Assistant: AssistantSettings{
			Mode:          AssistantHosted,
			URL:           DefaultAssistantURL,
			LocalEndpoint: DefaultLocalEndpoint,
			LocalModel:    DefaultLocalModel,
		},
		MaxSearchPages: 1,
	}
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	ResumeText      *string            `json:"resumeText,omitempty" yaml:"resume_text,omitempty"`
	Queries         *[]SearchQuery     `json:"query,omitempty" yaml:"queries,omitempty"`
	Platforms       *Platforms         `json:"platform,omitempty" yaml:"platforms,omitempty"`
	RunInBackground *bool              `json:"runInBackground,omitempty" yaml:"run_in_background,omitempty"`
	Assistant       *AssistantSettings `json:"assistant,omitempty" yaml:"assistant,omitempty"`
	MaxSearchPages  *int               `json:"maxSearchPages,omitempty" yaml:"max_search_pages,omitempty"`
}

// Apply shallow-merges the patch into s and returns the result.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.ResumeText != nil {
		s.ResumeText = *p.ResumeText
	}
	if p.Queries != nil {
		s.Queries = append([]SearchQuery(nil), (*p.Queries)...)
	}
	if p.Platforms != nil {
		s.Platforms = *p.Platforms
	}
	if p.RunInBackground != nil {
		s.RunInBackground = *p.RunInBackground
	}
	if p.Assistant != nil {
		s.Assistant = *p.Assistant
	}
	if p.MaxSearchPages != nil {
		s.MaxSearchPages = *p.MaxSearchPages
	}
	return s
}
