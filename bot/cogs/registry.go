package cogs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kanaridev/KanariBot-Go/bot"
	"github.com/kanaridev/KanariBot-Go/bot/config"
	"github.com/kanaridev/KanariBot-Go/bot/db"
	"github.com/kanaridev/KanariBot-Go/bot/discord"
	logpkg "github.com/kanaridev/KanariBot-Go/bot/logger"
	"github.com/kanaridev/KanariBot-Go/bot/persona"
	"github.com/kanaridev/KanariBot-Go/bot/worker"
)

// Cog is one self-contained unit of event handlers.
type Cog interface {
	Name() string
	Register(s *discord.Session) error
}

// Deps bundles the shared services a cog factory can draw on. The session is
// handed over later, at Register time.
type Deps struct {
	Config  *config.Config
	Logger  *logpkg.Logger
	Repo    *db.Repository
	Pool    *worker.Pool
	Persona *persona.Store
	Updater bot.ReleaseChecker
	Build   bot.BuildInfo
}

// Factory creates a cog from shared dependencies.
type Factory func(deps *Deps) (Cog, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register registers a cog factory by name.
func Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("cog name required")
	}
	if factory == nil {
		return fmt.Errorf("cog factory required")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("cog %s already registered", name)
	}
	factories[name] = factory
	return nil
}

// Get returns a registered factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := factories[name]
	return factory, ok
}

// Names returns all registered cog names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	nameList := make([]string, 0, len(factories))
	for name := range factories {
		nameList = append(nameList, name)
	}
	sort.Strings(nameList)
	return nameList
}
