package ui

// View is everything the game session needs from the surrounding shell:
// notifications, the blocking confirm prompt, and the handful of read-only
// widgets (score, bug counter, timer). The controller talks only to this
// interface; the terminal implementation below is the thin rendering shell.

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

type View interface {
	// Notify shows a transient message.
	Notify(msg string, level Level)
	// Alert shows a blocking, must-see message.
	Alert(msg string)
	// Confirm asks a yes/no question and blocks for the answer.
	Confirm(prompt string) bool

	SetHeader(team string, round, page int)
	SetScore(score int)
	SetBugCount(fixed, total int)
	SetTimer(display string, warning bool)

	// EnableComplete unlocks the normal page-completion action.
	EnableComplete()
	// ShowContinue swaps the completion action for a navigate-only one
	// once the team has already finished the page.
	ShowContinue()
}
