// Package commands implements operator-facing bot commands that act on the
// range cache.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ballhead/ballhead/internal/cache"
	"github.com/ballhead/ballhead/pkg/errors"
)

// Actions accepted by the cache-stats command
const (
	ActionView  = "view"
	ActionClear = "clear"
	ActionReset = "reset"
)

// Invocation describes who ran a command and with which action
type Invocation struct {
	UserID  string
	RoleIDs []string
	Action  string
}

// Field is one titled value in a reply
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Reply is the rendered command response, shown only to the invoker
type Reply struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Ephemeral   bool    `json:"ephemeral"`
}

// StatsCache is the cache surface the command administers
type StatsCache interface {
	Stats() cache.Stats
	Clear() int
	ResetStats()
}

// CacheStatsCommand shows, clears or resets the range cache. Only members
// holding one of the allowed roles may run it.
type CacheStatsCommand struct {
	cache   StatsCache
	allowed map[string]struct{}
	logger  *slog.Logger
}

// NewCacheStatsCommand creates the command. With no allowed roles nobody may run it.
func NewCacheStatsCommand(c StatsCache, allowedRoles []string, logger *slog.Logger) *CacheStatsCommand {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, role := range allowedRoles {
		allowed[role] = struct{}{}
	}
	return &CacheStatsCommand{
		cache:   c,
		allowed: allowed,
		logger:  logger.With("component", "commands", "command", "cache-stats"),
	}
}

// Name returns the command name
func (c *CacheStatsCommand) Name() string {
	return "cache-stats"
}

// Execute runs the requested action. An empty action means view. On failure
// the returned reply carries the message to show the invoker alongside the error.
func (c *CacheStatsCommand) Execute(ctx context.Context, inv Invocation) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return failed(errors.Wrap(err, errors.ErrCodeOperationCanceled, "command canceled").
			WithComponent("commands").WithOperation(c.Name()))
	}

	if !c.authorized(inv.RoleIDs) {
		c.logger.Warn("Unauthorized cache-stats attempt", "user_id", inv.UserID, "action", inv.Action)
		return failed(errors.NewError(errors.ErrCodePermissionDenied, "caller has no role allowed to manage the cache").
			WithComponent("commands").WithOperation(c.Name()).WithContext("user_id", inv.UserID))
	}

	action := strings.ToLower(strings.TrimSpace(inv.Action))
	switch action {
	case "", ActionView:
		return c.view(), nil

	case ActionClear:
		dropped := c.cache.Clear()
		c.logger.Info("Cache cleared by operator", "user_id", inv.UserID, "entries", dropped)
		return Reply{
			Title:       "Cache Cleared",
			Description: fmt.Sprintf("Dropped %s cached %s. Statistics were kept.", humanize.Comma(int64(dropped)), plural(dropped, "range", "ranges")),
			Ephemeral:   true,
		}, nil

	case ActionReset:
		c.cache.ResetStats()
		c.logger.Info("Cache stats reset by operator", "user_id", inv.UserID)
		return Reply{
			Title:       "Cache Stats Reset",
			Description: "Counters were zeroed. Cached ranges were kept.",
			Ephemeral:   true,
		}, nil

	default:
		return failed(errors.NewError(errors.ErrCodeValidationFailed, fmt.Sprintf("unknown action %q", inv.Action)).
			WithComponent("commands").WithOperation(c.Name()).
			WithDetail("allowed", []string{ActionView, ActionClear, ActionReset}))
	}
}

func (c *CacheStatsCommand) view() Reply {
	stats := c.cache.Stats()

	return Reply{
		Title:     "Sheet Cache Statistics",
		Ephemeral: true,
		Fields: []Field{
			{Name: "Hit Rate", Value: stats.HitRate, Inline: true},
			{Name: "Hits", Value: humanize.Comma(stats.Hits), Inline: true},
			{Name: "Misses", Value: humanize.Comma(stats.Misses), Inline: true},
			{Name: "API Calls", Value: humanize.Comma(stats.APICalls), Inline: true},
			{Name: "Avg API Time", Value: stats.AvgAPITime.Round(time.Millisecond).String(), Inline: true},
			{Name: "Cache Size", Value: humanize.Comma(int64(stats.CacheSize)) + " " + plural(stats.CacheSize, "entry", "entries"), Inline: true},
			{Name: "Uptime", Value: stats.Uptime.Truncate(time.Second).String(), Inline: true},
			{Name: "Last Reset", Value: humanize.RelTime(stats.LastReset, stats.LastReset.Add(stats.Uptime), "ago", "from now"), Inline: true},
		},
	}
}

func failed(err *errors.BallheadError) (Reply, error) {
	return Reply{
		Title:       "Cache Stats Unavailable",
		Description: err.UserFacingMessage(),
		Ephemeral:   true,
	}, err
}

func (c *CacheStatsCommand) authorized(roles []string) bool {
	for _, role := range roles {
		if _, ok := c.allowed[role]; ok {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
