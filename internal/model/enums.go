package model

// Item status
type ItemStatus string

const (
	ItemStatusReady      ItemStatus = "ready"
	ItemStatusUploading  ItemStatus = "uploading"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// IsTerminal reports whether no further work should be scheduled for the item.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// IsInFlight reports whether the item is between dispatch and settlement.
func (s ItemStatus) IsInFlight() bool {
	return s == ItemStatusUploading || s == ItemStatusProcessing
}

// Processing modes
type ProcessingMode string

const (
	// ProcessingModeCombined renders every summary together once the batch settles.
	ProcessingModeCombined ProcessingMode = "combined"
	// ProcessingModeStream delivers each summary as soon as its item settles.
	ProcessingModeStream ProcessingMode = "stream"
)

// Batch job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Notification levels
type NotificationLevel string

const (
	NotificationInfo    NotificationLevel = "info"
	NotificationSuccess NotificationLevel = "success"
	NotificationWarning NotificationLevel = "warning"
	NotificationError   NotificationLevel = "error"
)

// Language
type Language string

const (
	LanguageEN Language = "en"
	LanguageHI Language = "hi"
	LanguageTA Language = "ta"
	LanguageTE Language = "te"
	LanguageKN Language = "kn"
	LanguageML Language = "ml"
	LanguageBN Language = "bn"
	LanguageGU Language = "gu"
	LanguageMR Language = "mr"
	LanguagePA Language = "pa"
	LanguageUR Language = "ur"
	LanguageSA Language = "sa"
)

// SupportedLanguages is the static language list used when the remote
// service cannot be asked for its own.
var SupportedLanguages = []LanguageInfo{
	{Code: LanguageEN, Name: "English"},
	{Code: LanguageHI, Name: "Hindi"},
	{Code: LanguageTA, Name: "Tamil"},
	{Code: LanguageTE, Name: "Telugu"},
	{Code: LanguageKN, Name: "Kannada"},
	{Code: LanguageML, Name: "Malayalam"},
	{Code: LanguageBN, Name: "Bengali"},
	{Code: LanguageGU, Name: "Gujarati"},
	{Code: LanguageMR, Name: "Marathi"},
	{Code: LanguagePA, Name: "Punjabi"},
	{Code: LanguageUR, Name: "Urdu"},
	{Code: LanguageSA, Name: "Sanskrit"},
}

// LanguageInfo is one entry of the language selector.
type LanguageInfo struct {
	Code Language `json:"code"`
	Name string   `json:"name"`
}
