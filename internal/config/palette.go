package config

import (
	"fmt"
	"os"

	"github.com/vdavid/threadview/internal/models"
	"gopkg.in/yaml.v3"
)

// LoadTagPalette reads tag colour overrides from a YAML file of the form
//
//	inbox:
//	  fg: "#ffffff"
//	  bg: "#3465a4"
//
// An empty path yields an empty palette.
func LoadTagPalette(path string) (map[string]models.TagColor, error) {
	palette := make(map[string]models.TagColor)
	if path == "" {
		return palette, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag colors file: %w", err)
	}

	if err := yaml.Unmarshal(data, &palette); err != nil {
		return nil, fmt.Errorf("failed to parse tag colors file: %w", err)
	}
	if palette == nil {
		palette = make(map[string]models.TagColor)
	}

	return palette, nil
}
