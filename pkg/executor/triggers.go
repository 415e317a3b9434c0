package executor

import (
	"regexp"
)

type Action int

const (
	ActionNone Action = iota
	ActionLoggingIn
	ActionSendPassword
	ActionAwaitGuardCode
	ActionLoginFailed
	ActionLoginSucceeded
)

func (a Action) String() string {
	switch a {
	case ActionLoggingIn:
		return "logging_in"
	case ActionSendPassword:
		return "send_password"
	case ActionAwaitGuardCode:
		return "await_guard_code"
	case ActionLoginFailed:
		return "login_failed"
	case ActionLoginSucceeded:
		return "login_succeeded"
	default:
		return "none"
	}
}

// IsPrompt reports whether the action answers a prompt the tool prints
// without a trailing newline.
func (a Action) IsPrompt() bool {
	return a == ActionSendPassword || a == ActionAwaitGuardCode
}

// Trigger maps a pattern in the tool output to an action.
type Trigger struct {
	Name    string
	Pattern *regexp.Regexp
	Action  Action
}

// DefaultTriggers recognises SteamCMD login output. Order matters: the first
// matching trigger wins, so failure markers are checked before prompts that
// share words with them.
var DefaultTriggers = []Trigger{
	{
		Name:    "login-failure",
		Pattern: regexp.MustCompile(`(?i)(FAILED login|Login Failure|Invalid Password|Two-factor code mismatch|Invalid Login Auth Code|Rate Limit Exceeded)`),
		Action:  ActionLoginFailed,
	},
	{
		Name:    "login-success",
		Pattern: regexp.MustCompile(`(?i)(Logged in OK|Waiting for user info\.\.\.OK)`),
		Action:  ActionLoginSucceeded,
	},
	{
		Name:    "guard-code",
		Pattern: regexp.MustCompile(`(?i)((Steam Guard|Two-factor) code\s*:|Enter the current code from your Steam Guard Mobile Authenticator app)`),
		Action:  ActionAwaitGuardCode,
	},
	{
		Name:    "password",
		Pattern: regexp.MustCompile(`(?i)password\s*:\s*$`),
		Action:  ActionSendPassword,
	},
	{
		Name:    "logging-in",
		Pattern: regexp.MustCompile(`(?i)Logging in user`),
		Action:  ActionLoggingIn,
	},
}

// Match returns the first trigger whose pattern matches line.
func Match(triggers []Trigger, line string) (Trigger, bool) {
	for _, trigger := range triggers {
		if trigger.Pattern != nil && trigger.Pattern.MatchString(line) {
			return trigger, true
		}
	}
	return Trigger{}, false
}
