package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gameupdater/gameupdater/pkg/model"
)

const redactedValue = "******"

var (
	ErrMissingSettings     = errors.New("updater settings are not configured")
	ErrMissingExecutable   = errors.New("settings: update tool executable path is not configured")
	ErrMissingUsername     = errors.New("settings: account username is not configured")
	ErrMissingInstallation = errors.New("game installation not found")
	ErrMissingInstallPath  = errors.New("game installation has no install path")
)

// Command is a fully resolved invocation of the update tool.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	secrets []string
}

// Redacted renders the command line with credentials masked.
func (c Command) Redacted() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, arg := range c.Args {
		masked := arg
		for _, secret := range c.secrets {
			if secret != "" && arg == secret {
				masked = redactedValue
				break
			}
		}
		parts = append(parts, masked)
	}
	return strings.Join(parts, " ")
}

type Credentials struct {
	Username string
	Password string
}

// BuildCommand resolves the update tool invocation for one game.
func BuildCommand(settings *model.Settings, installation *model.GameInstallation, appID string) (Command, Credentials, error) {
	if settings == nil {
		return Command{}, Credentials{}, ErrMissingSettings
	}
	if installation == nil {
		return Command{}, Credentials{}, ErrMissingInstallation
	}
	if strings.TrimSpace(settings.ExecutablePath) == "" {
		return Command{}, Credentials{}, ErrMissingExecutable
	}
	if strings.TrimSpace(settings.Username) == "" {
		return Command{}, Credentials{}, ErrMissingUsername
	}
	if strings.TrimSpace(installation.InstallPath) == "" {
		return Command{}, Credentials{}, fmt.Errorf("%w: game %s app %s", ErrMissingInstallPath, installation.GameID, installation.AppID)
	}
	if appID == "" {
		appID = installation.AppID
	}

	args := []string{"+login", settings.Username}
	if settings.Password != "" {
		args = append(args, settings.Password)
	}
	args = append(args, "+force_install_dir", installation.InstallPath)

	if custom := strings.Fields(installation.UpdateCommand); len(custom) > 0 {
		args = append(args, custom...)
	} else {
		args = append(args, "+app_update", appID, "validate")
	}
	args = append(args, installation.ExtraArgs...)
	args = append(args, "+quit")

	cmd := Command{
		Path:    settings.ExecutablePath,
		Args:    args,
		secrets: []string{settings.Password},
	}
	creds := Credentials{Username: settings.Username, Password: settings.Password}
	return cmd, creds, nil
}
