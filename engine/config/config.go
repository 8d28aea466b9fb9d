// Package config loads the environment-style configuration recognized by
// the core, per SPEC_FULL.md §6.3.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// BackplaneMode selects the cross-process fan-out behavior (§4.6).
type BackplaneMode string

const (
	BackplaneNone   BackplaneMode = "none"
	BackplaneFull   BackplaneMode = "full"
	BackplaneWakeup BackplaneMode = "wakeup"
)

// Config is the resolved, typed configuration for one process.
type Config struct {
	// MaxWorkers bounds the scheduler's worker pool size.
	MaxWorkers int
	// PollInterval is the idle scheduler poll cadence.
	PollInterval time.Duration
	// ConcurrencyCaps maps concurrency_group -> max simultaneously running
	// cards across all jobs, from CONCURRENCY_CAP_<GROUP>.
	ConcurrencyCaps map[string]int
	// CardBudgets maps card_type -> soft budget, from
	// CARD_BUDGET_MS_<CARD_TYPE>. Cards without an entry use
	// DefaultCardBudget.
	CardBudgets map[string]time.Duration
	// DefaultCardBudget is the fallback soft budget (§4.7 default: 30s).
	DefaultCardBudget time.Duration
	// LLMTimeouts maps task name -> hard timeout, from
	// LLM_TIMEOUT_MS_<TASK>.
	LLMTimeouts map[string]time.Duration
	// DefaultLLMTimeout is the fallback LLM hard timeout.
	DefaultLLMTimeout time.Duration
	// BackplaneMode selects none/full/wakeup cross-process fan-out.
	BackplaneMode BackplaneMode
	// SSEHeartbeatInterval is how often an idle subscription emits a
	// keep-alive (§4.11 default: 15s).
	SSEHeartbeatInterval time.Duration
	// SSEMaxDuration bounds how long a single subscription stays open.
	SSEMaxDuration time.Duration
	// CacheMaxAge bounds how old a cached upstream resource artifact may be
	// before a fresh fetch is required.
	CacheMaxAge time.Duration
}

const (
	defaultMaxWorkers           = 8
	defaultPollIntervalMS       = 500
	defaultCardBudgetMS         = 30_000
	defaultLLMTimeoutMS         = 30_000
	defaultSSEHeartbeatMS       = 15_000
	defaultSSEMaxDurationMS     = 5 * 60_000
	defaultCacheMaxAgeDays      = 7
)

// FromEnv resolves a Config from the process environment, applying the
// documented defaults for anything unset.
func FromEnv() Config {
	return FromEnviron(os.Environ())
}

// FromEnviron is FromEnv parameterized over an explicit environ slice
// ("KEY=VALUE" entries), so tests don't need to mutate process env.
func FromEnviron(environ []string) Config {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}

	cfg := Config{
		MaxWorkers:           envInt(env, "MAX_WORKERS", defaultMaxWorkers),
		PollInterval:         envMillis(env, "POLL_INTERVAL_MS", defaultPollIntervalMS),
		ConcurrencyCaps:      envIntMap(env, "CONCURRENCY_CAP_"),
		CardBudgets:          envMillisMap(env, "CARD_BUDGET_MS_"),
		DefaultCardBudget:    time.Duration(defaultCardBudgetMS) * time.Millisecond,
		LLMTimeouts:          envMillisMap(env, "LLM_TIMEOUT_MS_"),
		DefaultLLMTimeout:    time.Duration(defaultLLMTimeoutMS) * time.Millisecond,
		BackplaneMode:        BackplaneMode(envString(env, "BACKPLANE_MODE", string(BackplaneNone))),
		SSEHeartbeatInterval: envMillis(env, "SSE_HEARTBEAT_INTERVAL_MS", defaultSSEHeartbeatMS),
		SSEMaxDuration:       envMillis(env, "SSE_MAX_DURATION_MS", defaultSSEMaxDurationMS),
		CacheMaxAge:          time.Duration(envInt(env, "CACHE_MAX_AGE_DAYS", defaultCacheMaxAgeDays)) * 24 * time.Hour,
	}
	return cfg
}

// CardBudget returns the configured soft budget for cardType, falling back
// to DefaultCardBudget.
func (c Config) CardBudget(cardType string) time.Duration {
	if d, ok := c.CardBudgets[strings.ToLower(cardType)]; ok {
		return d
	}
	return c.DefaultCardBudget
}

// LLMTimeout returns the configured hard timeout for task, falling back to
// DefaultLLMTimeout.
func (c Config) LLMTimeout(task string) time.Duration {
	if d, ok := c.LLMTimeouts[strings.ToLower(task)]; ok {
		return d
	}
	return c.DefaultLLMTimeout
}

func envString(env map[string]string, key, def string) string {
	if v, ok := env[key]; ok && v != "" {
		return v
	}
	return def
}

func envInt(env map[string]string, key string, def int) int {
	v, ok := env[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envMillis(env map[string]string, key string, defMS int) time.Duration {
	return time.Duration(envInt(env, key, defMS)) * time.Millisecond
}

// envIntMap collects every KEY=VALUE where KEY has the given prefix into a
// map keyed by the lowercased suffix (e.g. CONCURRENCY_CAP_LLM=4 ->
// {"llm": 4}).
func envIntMap(env map[string]string, prefix string) map[string]int {
	out := make(map[string]int)
	for k, v := range env {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(k, prefix))] = n
	}
	return out
}

func envMillisMap(env map[string]string, prefix string) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for k, v := range env {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[strings.ToLower(strings.TrimPrefix(k, prefix))] = time.Duration(n) * time.Millisecond
	}
	return out
}
