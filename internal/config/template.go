package config

// DefaultConfigTemplate returns the default config as a YAML string with comments.
// Values match Defaults().
func DefaultConfigTemplate() string {
	return `# Conductor Configuration

# Editor windows driven by the worker pool. Each agent needs screen
# coordinates for its prompt input, its copy-response control and a
# neutral probe point used for health checks.
agents:
  - id: A1
    # window_title: "Editor - A1"   # enables the focus check before clicks
    coordinates:
      input: { x: 400, y: 900 }
      copy: { x: 700, y: 120 }
      probe: { x: 400, y: 60 }
  - id: A2
    coordinates:
      input: { x: 1360, y: 900 }
      copy: { x: 1660, y: 120 }
      probe: { x: 1360, y: 60 }

# Retry policy for clicks, typing and copies
retry:
  max_attempts: 3
  delay: 500ms
  multiplier: 1      # >1 backs off exponentially up to max_delay
  max_delay: 5s

# How long a copy waits for the clipboard to change
clipboard:
  poll_interval: 100ms
  poll_timeout: 3s

# Readiness watcher
readiness:
  poll_interval: 1s        # how often awaiting agents are probed
  response_timeout: 5m     # give up on an agent's response after this long
  health_interval: 30s     # health check agents in error (0 disables)

pool:
  claim_poll_interval: 2s
  # min_priority: 0        # only claim tasks at or above this priority

bus:
  buffer_size: 256

correlation:
  resolved_ttl: 10m

# Task board
tasks:
  store: sqlite            # "sqlite" (default) or "memory"
  # db_path: ~/.config/conductor/tasks.db
  # seed_file: tasks.yaml  # YAML list of {id, priority, prompt}
  watch: true              # reload seed_file when it changes
  sync_interval: 5s        # pick up tasks added by other processes

# Distributed tracing
tracing:
  enabled: false
  exporter: file           # "none", "file", "stdout", or "otlp"
  # file_path: ~/.config/conductor/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: conductor

# Prometheus metrics
metrics:
  # listen_addr: ":9464"

# Simulated editors used by 'conductor run --simulate'
simulation:
  latency: 2s
`
}
