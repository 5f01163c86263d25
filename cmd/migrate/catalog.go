package main

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jobs/integration-engine/internal/biz/application"
	"github.com/jobs/integration-engine/pkg/errors"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// catalogEntry 应用目录文件中的一项
type catalogEntry struct {
	Key             string         `yaml:"key" validate:"required"`
	Name            string         `yaml:"name" validate:"required"`
	Description     string         `yaml:"description"`
	Version         string         `yaml:"version" validate:"required"`
	ExecutionType   string         `yaml:"execution_type" validate:"required,oneof=ui-only backend both"`
	TriggerType     string         `yaml:"trigger_type" validate:"required,oneof=schedule webhook manual event"`
	ProviderKey     string         `yaml:"provider_key" validate:"required_unless=ExecutionType ui-only"`
	DefaultConfig   map[string]any `yaml:"default_config"`
	RequiredSecrets []string       `yaml:"required_secrets"`
	TimeoutSeconds  int            `yaml:"timeout_seconds" validate:"min=0"`
	MaxPages        int            `yaml:"max_pages" validate:"min=0"`
}

type catalogFile struct {
	Applications []catalogEntry `yaml:"applications"`
}

func loadCatalog(path string) ([]*application.Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) ([]*application.Application, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}

	seen := make(map[string]struct{}, len(file.Applications))
	apps := make([]*application.Application, 0, len(file.Applications))
	for i, e := range file.Applications {
		if err := validate.Struct(e); err != nil {
			return nil, errors.Wrapf(err, "catalog entry %d", i)
		}
		id := e.Key + "@" + e.Version
		if _, ok := seen[id]; ok {
			return nil, errors.Newf("catalog entry %d: duplicate %s", i, id)
		}
		seen[id] = struct{}{}

		apps = append(apps, &application.Application{
			Key:             e.Key,
			Name:            e.Name,
			Description:     e.Description,
			Version:         e.Version,
			ExecutionType:   application.ExecutionType(e.ExecutionType),
			TriggerType:     application.TriggerType(e.TriggerType),
			ProviderKey:     e.ProviderKey,
			DefaultConfig:   e.DefaultConfig,
			RequiredSecrets: e.RequiredSecrets,
			TimeoutSeconds:  e.TimeoutSeconds,
			MaxPages:        e.MaxPages,
		})
	}
	return apps, nil
}
