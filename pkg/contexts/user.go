package contexts

import (
	"context"
	"os/user"

	"github.com/adrg/xdg"
)

// UserProvider reports facts about the user running weave.
type UserProvider struct {
	current func() (*user.User, error)
	dirs    func() userDirs
}

type userDirs struct {
	config, data, dataLocal, documents string
}

// NewUserProvider creates a provider under the "user" prefix.
func NewUserProvider() *UserProvider {
	return &UserProvider{
		current: user.Current,
		dirs: func() userDirs {
			return userDirs{
				config:    xdg.ConfigHome,
				data:      xdg.DataHome,
				// xdg.DataHome is already the machine-local directory on
				// every platform (%LOCALAPPDATA% on Windows).
				dataLocal: xdg.DataHome,
				documents: xdg.UserDirs.Documents,
			}
		},
	}
}

// Prefix implements Provider.
func (p *UserProvider) Prefix() string {
	return "user"
}

// Contexts implements Provider. It never fails: values that cannot be
// determined are reported as Unknown.
func (p *UserProvider) Contexts(context.Context) ([]Context, error) {
	var id, name, username, home string
	if u, err := p.current(); err == nil && u != nil {
		id, name, username, home = u.Uid, u.Name, u.Username, u.HomeDir
	}
	dirs := p.dirs()

	return []Context{
		KeyValue("id", orUnknown(id)),
		KeyValue("name", orUnknown(name)),
		KeyValue("username", orUnknown(username)),
		KeyValue("home_dir", orUnknown(home)),
		KeyValue("config_dir", orUnknown(dirs.config)),
		KeyValue("data_dir", orUnknown(dirs.data)),
		KeyValue("data_local_dir", orUnknown(dirs.dataLocal)),
		KeyValue("document_dir", orUnknown(dirs.documents)),
	}, nil
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
