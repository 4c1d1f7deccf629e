// internal/bot/registry.go
//
// Command registry.  The handler registers every slash command with the
// minimum role it needs; dispatch looks up the exact command name (no
// prefixes, no aliases) and checks the role before running it.
//
// Command signature:
//
//	func(ctx context.Context, c *Call) error
//
// A command replies through the Call.  Returning an error sends the generic
// failure reply and logs the error; user-facing rejections are replies, not
// errors.
package bot

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/yanizio/loungebot/internal/acl"
)

// Command is what the handler registers.
type Command struct {
	Level acl.Level
	Run   func(ctx context.Context, c *Call) error
}

// Registry maps command names to commands.  Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	cmds map[string]Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cmds: map[string]Command{}}
}

// Register adds or replaces name.  A leading slash is ignored.
func (r *Registry) Register(name string, c Command) {
	r.mu.Lock()
	r.cmds[normalize(name)] = c
	r.mu.Unlock()
}

// Lookup returns the command for name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cmds[normalize(name)]
	return c, ok
}

// Names lists the commands visible at level, sorted.
func (r *Registry) Names(level acl.Level) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.cmds))
	for n, c := range r.cmds {
		if c.Level <= level {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
}
