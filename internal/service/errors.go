package service

import "errors"

// Sentinel errors for orchestration. Use errors.Is() to check for them.
var (
	// ErrNoAssistantTab means a hosted-mode prompt was sent while no tab holds
	// the assistant role.
	ErrNoAssistantTab = errors.New("no assistant tab registered")

	// ErrEmptyAnswer means the assistant produced no usable text.
	ErrEmptyAnswer = errors.New("assistant returned an empty answer")

	// ErrProviderNotConfigured means provider mode was selected but the
	// daemon has no LLM provider.
	ErrProviderNotConfigured = errors.New("llm provider not configured")

	// ErrForeignReport means a status report came from a tab that is neither
	// the active job tab nor an analyzer/form-filler tab. The report is dropped.
	ErrForeignReport = errors.New("status report from unrelated tab")

	// ErrInvalidStatus means a report carried a status adapters may not send.
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrBrowserUnavailable means the daemon has no browser to open tabs
	// in. Automation pauses instead of failing the queue.
	ErrBrowserUnavailable = errors.New("browser unavailable")

	// ErrTabNotFound means a tab operation targeted a tab that no longer exists.
	ErrTabNotFound = errors.New("tab not found")
)
