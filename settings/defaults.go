package settings

// Standard setting keys.
const (
	KeyAppLanguage     = "application.language"
	KeyAppTheme        = "application.theme"
	KeyAppAutoStart    = "application.auto_start"
	KeyAppCheckUpdates = "application.check_updates"

	KeyUIWindowWidth     = "ui.window.width"
	KeyUIWindowHeight    = "ui.window.height"
	KeyUIWindowMaximized = "ui.window.maximized"
	KeyUIFontSize        = "ui.font.size"

	KeyRecordingAutoSave   = "recording.auto_save"
	KeyRecordingMaxActions = "recording.max_actions"

	KeyPlaybackDefaultSpeed = "playback.default_speed"
	KeyPlaybackDefaultDelay = "playback.default_delay"
	KeyPlaybackStopOnError  = "playback.stop_on_error"

	KeySchedulerEnabled       = "scheduler.enabled"
	KeySchedulerCheckInterval = "scheduler.check_interval"
	KeySchedulerMaxParallel   = "scheduler.max_parallel"

	KeySecurityEncryptionEnabled = "security.encryption_enabled"

	KeyLogLevel    = "logging.level"
	KeyLogMaxFiles = "logging.max_files"
)

// Defaults returns the standard default values for a fresh installation.
func Defaults() map[string]Value {
	return map[string]Value{
		KeyAppLanguage:     String("en-US"),
		KeyAppTheme:        String("system"),
		KeyAppAutoStart:    Bool(false),
		KeyAppCheckUpdates: Bool(true),

		KeyUIWindowWidth:     Int(1200),
		KeyUIWindowHeight:    Int(800),
		KeyUIWindowMaximized: Bool(false),
		KeyUIFontSize:        Int(9),

		KeyRecordingAutoSave:   Bool(true),
		KeyRecordingMaxActions: Int(10000),

		KeyPlaybackDefaultSpeed: Float(1.0),
		KeyPlaybackDefaultDelay: Int(500),
		KeyPlaybackStopOnError:  Bool(true),

		KeySchedulerEnabled:       Bool(true),
		KeySchedulerCheckInterval: Int(60),
		KeySchedulerMaxParallel:   Int(3),

		KeySecurityEncryptionEnabled: Bool(true),

		KeyLogLevel:    String("INFO"),
		KeyLogMaxFiles: Int(5),
	}
}
