// Package config загружает конфигурацию площадки (site config).
//
// Конфигурация хранится в YAML-файле, путь к которому передаётся через
// --config или RPD_SITE_CONFIG. Если файл не задан, используются встроенные
// значения по умолчанию для площадок GIS и NSCC.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvSiteConfig — переменная окружения с путём к site config.
const EnvSiteConfig = "RPD_SITE_CONFIG"

// Каналы установки pipeline.
const (
	ChannelProduction = "production"
	ChannelDevel      = "devel"
)

// ChannelPaths — пара путей для production и devel каналов.
type ChannelPaths struct {
	Production string `yaml:"production"`
	Devel      string `yaml:"devel"`
}

// For возвращает путь для канала. Пустая строка — неизвестный канал.
func (p ChannelPaths) For(channel string) string {
	switch channel {
	case ChannelProduction:
		return p.Production
	case ChannelDevel:
		return p.Devel
	default:
		return ""
	}
}

// SchedulerConfig — параметры batch-планировщика.
type SchedulerConfig struct {
	SubmitCommand string `yaml:"submit_command"`
	MasterQueue   string `yaml:"master_queue,omitempty"`
	SlaveQueue    string `yaml:"slave_queue,omitempty"`
}

// MailConfig — параметры отправки почты.
type MailConfig struct {
	Relay          string `yaml:"relay"`
	From           string `yaml:"from"`
	Domain         string `yaml:"domain"`
	ProductionUser string `yaml:"production_user"`
	TeamAddress    string `yaml:"team_address"`

	// Attempts — число попыток отправки через relay.
	Attempts int `yaml:"attempts"`
}

// StageOutConfig — параметры stage-out.
type StageOutConfig struct {
	Worker string `yaml:"worker"`
}

// SiteConfig — конфигурация площадки.
type SiteConfig struct {
	// Channel — production или devel. Определяет все пути установки.
	Channel string `yaml:"channel"`

	// ProductionUsers — пользователи, от имени которых разрешён запуск starter'а.
	ProductionUsers []string `yaml:"production_users"`

	// PipelineBasedirs — site → пути установки pipeline'ов.
	PipelineBasedirs map[string]ChannelPaths `yaml:"pipeline_basedirs"`

	// DownstreamOutdirBase — корень выходных директорий downstream run'ов.
	DownstreamOutdirBase ChannelPaths `yaml:"downstream_outdir_base"`

	// Init — site (в нижнем регистре) → команда инициализации окружения.
	Init map[string]string `yaml:"init"`

	// RunTemplateDir — директория с шаблонами run.template.<site>.sh.
	RunTemplateDir string `yaml:"run_template_dir"`

	// TmpDir — директория для временных sample/references конфигов.
	TmpDir string `yaml:"tmp_dir,omitempty"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Mail      MailConfig      `yaml:"mail"`
	StageOut  StageOutConfig  `yaml:"stage_out"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() *SiteConfig {
	return &SiteConfig{
		Channel:         ChannelProduction,
		ProductionUsers: []string{"userrig"},
		PipelineBasedirs: map[string]ChannelPaths{
			"GIS": {
				Production: "/mnt/projects/rpd/pipelines/",
				Devel:      "/mnt/projects/rpd/pipelines.git/",
			},
			"NSCC": {
				Production: "/home/users/astar/gis/gisshared/rpd/pipelines/",
				Devel:      "/home/users/astar/gis/gisshared/rpd/pipelines.git/",
			},
		},
		DownstreamOutdirBase: ChannelPaths{
			Production: "/mnt/projects/userrig/solexa/downstream/",
			Devel:      "/mnt/projects/userrig/solexa/downstream.devel/",
		},
		Init: map[string]string{
			"gis":  "/mnt/projects/rpd/init",
			"nscc": "/seq/astar/gis/rpd/init",
		},
		RunTemplateDir: "/mnt/projects/rpd/pipelines/lib",
		Scheduler: SchedulerConfig{
			SubmitCommand: "qsub",
		},
		Mail: MailConfig{
			Relay:          "localhost:25",
			From:           "rpd@mailman.gis.a-star.edu.sg",
			Domain:         "gis.a-star.edu.sg",
			ProductionUser: "userrig",
			TeamAddress:    "rpd@gis.a-star.edu.sg",
			Attempts:       3,
		},
		StageOut: StageOutConfig{
			Worker: "/mnt/projects/rpd/pipelines/aws/stage_out.sh",
		},
	}
}

// Load читает site config из path (или из RPD_SITE_CONFIG).
// Значения из файла накладываются поверх Default().
func Load(path string) (*SiteConfig, error) {
	cfg := Default()

	if path == "" {
		path = EnvString(EnvSiteConfig, "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read site config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode site config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет обязательные поля.
func (c *SiteConfig) Validate() error {
	if c.Channel != ChannelProduction && c.Channel != ChannelDevel {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, c.Channel)
	}
	if len(c.PipelineBasedirs) == 0 {
		return fmt.Errorf("%w: pipeline_basedirs is empty", ErrInvalidConfig)
	}
	if c.DownstreamOutdirBase.For(c.Channel) == "" {
		return fmt.Errorf("%w: downstream_outdir_base.%s is empty", ErrInvalidConfig, c.Channel)
	}
	return nil
}

// OutdirBase возвращает корень выходных директорий для текущего канала.
func (c *SiteConfig) OutdirBase() string {
	return c.DownstreamOutdirBase.For(c.Channel)
}

// InitCommand возвращает команду инициализации для площадки.
func (c *SiteConfig) InitCommand(site string) (string, bool) {
	cmd, ok := c.Init[strings.ToLower(site)]
	return cmd, ok
}

// IsProductionUser проверяет, входит ли пользователь в список production-пользователей.
func (c *SiteConfig) IsProductionUser(user string) bool {
	return slices.Contains(c.ProductionUsers, user)
}

// AddressFor возвращает адрес для уведомлений пользователя:
// production-пользователь получает адрес команды, остальные — user@domain.
func (m MailConfig) AddressFor(user string) string {
	if user == m.ProductionUser && m.TeamAddress != "" {
		return m.TeamAddress
	}
	return user + "@" + m.Domain
}
