package config

import (
	"time"

	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 20)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.also_stderr", false)

	v.SetDefault("catalog.dir", ".testagent/agents")
	v.SetDefault("catalog.skills_dir", "skills")
	v.SetDefault("catalog.include", []string{"**/*.md"})
	v.SetDefault("catalog.watch", false)

	v.SetDefault("coordinator.max_parallel", 5)
	v.SetDefault("coordinator.phase_timeout", 600*time.Second)
	v.SetDefault("coordinator.task_timeout", 1800*time.Second)
	v.SetDefault("coordinator.max_phases", 10)

	v.SetDefault("recovery.max_retries", 3)
	v.SetDefault("recovery.backoff_base", time.Second)
	v.SetDefault("recovery.backoff_max", 30*time.Second)
	v.SetDefault("recovery.fallbacks", map[string]string{})

	v.SetDefault("planner.fallback_worker", "planner")
	v.SetDefault("evaluator.preview_chars", 200)

	v.SetDefault("oracle.provider", "ollama")
	v.SetDefault("oracle.model", "llama3.1")
	v.SetDefault("oracle.temperature", 0.1)
	v.SetDefault("oracle.rate_per_minute", 60)
	v.SetDefault("oracle.cli.path", "")
	v.SetDefault("oracle.cli.args", []string{})
	v.SetDefault("oracle.cli.model_flag", "")
	v.SetDefault("oracle.cli.timeout", 10*time.Minute)

	v.SetDefault("tools.workspace", ".")
	v.SetDefault("tools.allow_write", false)
	v.SetDefault("tools.shell_timeout", 120*time.Second)
	v.SetDefault("tools.fetch_timeout", 30*time.Second)

	v.SetDefault("journal.path", "")
	v.SetDefault("output.result_file", "")
}
